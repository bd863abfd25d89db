package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for source address extraction
type IPConfig struct {
	// TrustedProxies are CIDR ranges allowed to set X-Forwarded-For. When
	// empty the header is honored from any peer.
	TrustedProxies []string
}

// SourceKey derives the throttling key for a request: the first hop of
// X-Forwarded-For when present and a valid address, else the direct peer.
// A malformed or empty first hop is treated as an absent header.
func SourceKey(r *http.Request, config *IPConfig, logger *slog.Logger) string {
	peer := getRemoteAddr(r)

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}

	if config != nil && len(config.TrustedProxies) > 0 && !isTrustedProxy(peer, config.TrustedProxies) {
		return peer
	}

	first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	if ip := net.ParseIP(first); ip != nil {
		return ip.String()
	}

	if logger != nil {
		logger.Debug("ignoring malformed X-Forwarded-For",
			slog.String("first_hop", first),
			slog.String("peer", peer))
	}
	return peer
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}

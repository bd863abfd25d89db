package http_test

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

func TestSourceKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		config     *pkghttp.IPConfig
		want       string
	}{
		{"no header uses peer", "203.0.113.10:54321", "", nil, "203.0.113.10"},
		{"first hop wins", "10.0.0.5:1234", "198.51.100.7, 10.0.0.5", nil, "198.51.100.7"},
		{"single hop with spaces", "10.0.0.5:1234", "  198.51.100.7  ", nil, "198.51.100.7"},
		{"ipv6 first hop", "10.0.0.5:1234", "2001:db8::1, 10.0.0.5", nil, "2001:db8::1"},
		{"empty first hop falls back", "10.0.0.5:1234", " , 198.51.100.7", nil, "10.0.0.5"},
		{"malformed first hop falls back", "10.0.0.5:1234", "not-an-ip, 198.51.100.7", nil, "10.0.0.5"},
		{"peer without port", "192.0.2.1", "", nil, "192.0.2.1"},
		{"missing peer", "", "", nil, "unknown"},
		{
			"trusted proxy honored",
			"10.0.0.5:1234", "198.51.100.7",
			&pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			"198.51.100.7",
		},
		{
			"untrusted peer ignored",
			"203.0.113.10:54321", "1.2.3.4",
			&pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			"203.0.113.10",
		},
		{
			"invalid cidr skipped",
			"10.0.0.5:1234", "198.51.100.7",
			&pkghttp.IPConfig{TrustedProxies: []string{"bogus", "10.0.0.0/8"}},
			"198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, pkghttp.SourceKey(req, tt.config, slog.Default()))
		})
	}
}

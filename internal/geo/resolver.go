// Package geo maps source addresses to countries and user agents to device labels.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/oschwald/geoip2-golang"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Resolver maps a source address to an ISO 3166-1 alpha-2 country code.
// Addresses that cannot be placed return models.ErrGeoUnresolved.
type Resolver interface {
	Resolve(ctx context.Context, addr string) (string, error)
}

// MaxMindResolver reads a GeoLite2/GeoIP2 country database
type MaxMindResolver struct {
	reader *geoip2.Reader
}

func NewMaxMindResolver(path string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

func (r *MaxMindResolver) Resolve(ctx context.Context, addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", models.ErrGeoUnresolved
	}

	record, err := r.reader.Country(ip)
	if err != nil {
		return "", fmt.Errorf("geoip lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" {
		return "", models.ErrGeoUnresolved
	}
	return record.Country.IsoCode, nil
}

func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}

// StaticResolver places every valid address in one country. Development only.
type StaticResolver struct {
	Country string
}

func (r StaticResolver) Resolve(ctx context.Context, addr string) (string, error) {
	if net.ParseIP(addr) == nil || r.Country == "" {
		return "", models.ErrGeoUnresolved
	}
	return strings.ToUpper(r.Country), nil
}

// BreakerConfig tunes the circuit breaker around a Resolver
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// BreakerResolver stops calling a failing Resolver until it recovers. An
// unresolvable address is a normal answer and does not count as a failure.
type BreakerResolver struct {
	next    Resolver
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

func NewBreakerResolver(next Resolver, cfg BreakerConfig, logger *slog.Logger) *BreakerResolver {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "geo-resolver",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrGeoUnresolved)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &BreakerResolver{next: next, breaker: breaker, logger: logger}
}

func (r *BreakerResolver) Resolve(ctx context.Context, addr string) (string, error) {
	country, err := r.breaker.Execute(func() (string, error) {
		return r.next.Resolve(ctx, addr)
	})

	switch {
	case err == nil:
		metrics.GeoLookups.WithLabelValues("resolved").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GeoLookups.WithLabelValues("breaker_open").Inc()
	default:
		metrics.GeoLookups.WithLabelValues("unresolved").Inc()
	}
	return country, err
}

// State reports the breaker state, for health output
func (r *BreakerResolver) State() string {
	return r.breaker.State().String()
}

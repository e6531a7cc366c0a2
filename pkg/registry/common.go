package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/packmule/packmule/pkg/httputil"
)

const (
	// apiTimeout bounds metadata requests (manifests, packuments, search).
	apiTimeout = 15 * time.Second

	// streamTimeout bounds tarball downloads, which can be large.
	streamTimeout = 5 * time.Minute
)

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the registry.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrUnavailable is returned when the circuit breaker for a host is open.
	ErrUnavailable = errors.New("registry unavailable")
)

// NewCache creates a file-based response cache with the given TTL.
// An empty dir selects the default cache location; see [httputil.NewCache].
func NewCache(dir string, ttl time.Duration) (*httputil.Cache, error) {
	return httputil.NewCache(dir, ttl)
}

// newTransport builds an HTTP transport with DNS caching. Mirror runs
// resolve the same registry host thousands of times; caching lookups
// keeps that off the resolver.
func newTransport() *http.Transport {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

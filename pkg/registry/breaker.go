package registry

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerGroup maintains one circuit breaker per registry host, so a
// struggling upstream stops receiving traffic for a while instead of
// failing every in-flight download slowly.
type breakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

func newBreakerGroup() *breakerGroup {
	return &breakerGroup{breakers: make(map[string]*circuit.Breaker)}
}

// get returns or creates the breaker for the given host.
func (g *breakerGroup) get(host string) *circuit.Breaker {
	g.mu.RLock()
	breaker, exists := g.breakers[host]
	g.mu.RUnlock()
	if exists {
		return breaker
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, exists := g.breakers[host]; exists {
		return breaker
	}

	// Trips once 5 failures are counted, reopens on an exponential schedule.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	g.breakers[host] = breaker
	return breaker
}

// call runs fn through the breaker for rawURL's host.
func (g *breakerGroup) call(rawURL string, fn func() error) error {
	host := hostOf(rawURL)
	breaker := g.get(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUnavailable)
	}
	return breaker.Call(fn, 0)
}

// states reports each known host's breaker state, for diagnostics.
func (g *breakerGroup) states() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]string, len(g.breakers))
	for host, breaker := range g.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

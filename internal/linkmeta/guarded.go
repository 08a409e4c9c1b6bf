package linkmeta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens a host's breaker.
	Failures uint32
	// Timeout is how long an open breaker rejects calls before probing again.
	Timeout time.Duration
}

// Guarded wraps a Fetcher with one circuit breaker per host so a site that
// keeps timing out stops costing every idea submission that links to it.
type Guarded struct {
	next   Fetcher
	cfg    BreakerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[Metadata]
}

func NewGuarded(next Fetcher, cfg BreakerConfig, logger zerolog.Logger) *Guarded {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Guarded{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		breakers: map[string]*gobreaker.CircuitBreaker[Metadata]{},
	}
}

func (g *Guarded) breaker(host string) *gobreaker.CircuitBreaker[Metadata] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if breaker, ok := g.breakers[host]; ok {
		return breaker
	}

	failures := g.cfg.Failures
	breaker := gobreaker.NewCircuitBreaker[Metadata](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnsupportedURL) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("link preview breaker state changed")
		},
	})
	g.breakers[host] = breaker
	return breaker
}

func (g *Guarded) Fetch(ctx context.Context, rawURL string) (Metadata, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return Metadata{}, err
	}

	meta, err := g.breaker(strings.ToLower(target.Hostname())).Execute(func() (Metadata, error) {
		return g.next.Fetch(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrCircuitOpen, target.Host)
	}
	return meta, err
}

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name          string
	MaxFailures   uint32
	OpenTimeout   time.Duration
	HalfOpenMax   uint32
	ResetWindow   time.Duration
	OnStateChange func(name, state string)
}

// Breaker fails fast while the ledger is unreachable. It never retries; a
// tripped breaker turns every submission into an immediate rejection.
// Refusals from a reachable ledger do not count as failures.
type Breaker struct {
	next   Gateway
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

func NewBreaker(next Gateway, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMax,
		Interval:    cfg.ResetWindow,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Ledger breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to.String())
			}
		},
	}

	return &Breaker{
		next:   next,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (b *Breaker) Submit(ctx context.Context, p Proposal) (Commit, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Submit(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Commit{}, Reject("ledger unavailable: %v", err)
	}
	if err != nil {
		return Commit{}, err
	}
	return result.(Commit), nil
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}

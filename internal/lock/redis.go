package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotHeld = errors.New("lock was not held or already expired")

type RedisOptions struct {
	Prefix     string
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	// ExtendEvery is how often held locks are pushed back to a full Expiry.
	// Zero means Expiry/3; a negative value never extends.
	ExtendEvery time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "lock:wallet:",
		Expiry:     30 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis serializes operations across service instances with RedLock.
type Redis struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *slog.Logger
}

func NewRedis(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Expiry <= 0 {
		return nil, fmt.Errorf("lock expiry must be greater than 0")
	}
	if opts.Tries < 1 {
		return nil, fmt.Errorf("lock tries must be at least 1")
	}
	if opts.ExtendEvery == 0 {
		opts.ExtendEvery = opts.Expiry / 3
	}

	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = Normalize(keys)
	held := make([]*redsync.Mutex, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			ok, err := held[i].UnlockContext(context.Background())
			if err != nil || !ok {
				if err == nil {
					err = ErrLockNotHeld
				}
				r.logger.Warn("Failed to release distributed lock",
					slog.String("key", held[i].Name()),
					slog.String("error", err.Error()))
			}
		}
	}

	for _, k := range keys {
		m := r.rs.NewMutex(r.opts.Prefix+k,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			release()
			return nil, fmt.Errorf("failed to acquire lock %s: %w", k, err)
		}
		held = append(held, m)
	}

	stop := r.keepAlive(held)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			release()
		})
	}, nil
}

// keepAlive extends the held mutexes until the returned func is called, so a
// slow operation does not outlive its locks.
func (r *Redis) keepAlive(held []*redsync.Mutex) func() {
	if r.opts.ExtendEvery <= 0 || len(held) == 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.opts.ExtendEvery)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, m := range held {
					ctx, cancel := context.WithTimeout(context.Background(), r.opts.ExtendEvery)
					ok, err := m.ExtendContext(ctx)
					cancel()
					if err != nil || !ok {
						if err == nil {
							err = ErrLockNotHeld
						}
						r.logger.Warn("Failed to extend distributed lock",
							slog.String("key", m.Name()),
							slog.String("error", err.Error()))
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

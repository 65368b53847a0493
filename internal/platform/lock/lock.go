package lock

import (
	"context"
	"errors"
	"time"
)

// ErrResourceLocked is returned when a lock could not be taken within the retry budget.
var ErrResourceLocked = errors.New("resource locked")

type Options struct {
	// Retries is the number of extra attempts after the first one.
	Retries    int
	RetryDelay time.Duration
	// TTL bounds how long a crashed holder keeps the lock. Holders extend it while fn runs.
	TTL time.Duration
}

func DefaultOptions() Options {
	return Options{Retries: 30, RetryDelay: time.Second, TTL: 60 * time.Second}
}

func (o Options) normalized() Options {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.TTL <= 0 {
		o.TTL = 60 * time.Second
	}
	return o
}

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	Perform(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error
}

// acquire polls try until it succeeds, fails hard, or the retry budget runs out.
func acquire(ctx context.Context, opts Options, try func(ctx context.Context) (bool, error)) error {
	for attempt := 0; ; attempt++ {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= opts.Retries {
			return ErrResourceLocked
		}
		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

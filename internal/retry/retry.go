// Package retry retries idempotent calls to the services the bridge talks
// to, with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Config is the backoff policy for one call site.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single try.
	MaxAttempts int

	// InitialDelay is the wait after the first failure; each later wait
	// grows by Factor up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
}

// DefaultConfig is the policy used for scheduler listings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// backoff returns the wait before attempt n+1, counting from n = 1.
func (c Config) backoff(n int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Factor, float64(n-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64() // #nosec G404 -- jitter only
	}
	return time.Duration(d)
}

// Result describes how a retried call ended.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do calls op until it succeeds, fails permanently, ctx ends or the attempt
// budget runs out. Result.Err is the last error seen.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.withDefaults()
	start := time.Now()
	var res Result

	for res.Attempts < config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		res.Attempts++
		res.Err = op()
		if res.Err == nil || IsPermanent(res.Err) || res.Attempts == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(config.backoff(res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.Duration = time.Since(start)
	return res
}

// DoWithValue is Do for operations that produce a value.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError stops Do without further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying. It returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// StatusError reports an unexpected HTTP status from an upstream service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// CheckStatus returns nil for 2xx. Throttling and server errors are
// retryable; every other status is permanent.
func CheckStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &StatusError{Code: code, Body: string(body)}
	if code == http.StatusTooManyRequests || code >= 500 {
		return err
	}
	return Permanent(err)
}

package provisioning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default poll budget: 12 attempts, 5 seconds apart, for a 60 second ceiling.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 12
)

// ErrInvalidPollStrategy is returned by Validate for budgets that cannot poll.
var ErrInvalidPollStrategy = errors.New("invalid poll strategy")

// PollStrategy decides how long to wait before each status call and how many
// calls to make at most. Attempts are numbered from 1.
type PollStrategy interface {
	MaxAttempts() int
	Delay(attempt int) time.Duration
	// Validate rejects strategies that would never call the provider.
	Validate() error
}

func validateBudget(attempts int, interval time.Duration) error {
	if attempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidPollStrategy, attempts)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidPollStrategy, interval)
	}
	return nil
}

// FixedInterval waits the same interval before every attempt.
type FixedInterval struct {
	Interval time.Duration
	Attempts int
}

// DefaultPollStrategy returns the default fixed interval budget.
func DefaultPollStrategy() FixedInterval {
	return FixedInterval{Interval: DefaultPollInterval, Attempts: DefaultPollMaxAttempts}
}

func (f FixedInterval) MaxAttempts() int {
	return f.Attempts
}

func (f FixedInterval) Delay(int) time.Duration {
	return f.Interval
}

func (f FixedInterval) Validate() error {
	return validateBudget(f.Attempts, f.Interval)
}

// ExponentialBackoff multiplies the delay after every attempt, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Attempts   int
}

func (e ExponentialBackoff) MaxAttempts() int {
	return e.Attempts
}

func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	multiplier := e.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := float64(e.Initial) * math.Pow(multiplier, float64(attempt-1))
	if e.Max > 0 && delay > float64(e.Max) {
		return e.Max
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (e ExponentialBackoff) Validate() error {
	if err := validateBudget(e.Attempts, e.Initial); err != nil {
		return err
	}
	if e.Max <= 0 {
		return fmt.Errorf("%w: maximum interval must be positive, got %s", ErrInvalidPollStrategy, e.Max)
	}
	return nil
}

// Budget returns the total time a strategy waits when every attempt misses.
func Budget(strategy PollStrategy) time.Duration {
	var total time.Duration
	for attempt := 1; attempt <= strategy.MaxAttempts(); attempt++ {
		delay := strategy.Delay(attempt)
		if delay > 0 && total > math.MaxInt64-delay {
			return time.Duration(math.MaxInt64)
		}
		total += delay
	}
	return total
}

// Sleeper suspends the poll loop between status calls.
type Sleeper interface {
	// Sleep waits for d. Only sleepers built for interactive callers return
	// early with ctx.Err(); the poll loop checks ctx itself once Sleep returns.
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper sleeps the full duration on the wall clock, whatever happens to ctx.
var RealSleeper Sleeper = SleeperFunc(func(_ context.Context, d time.Duration) error {
	if d > 0 {
		time.Sleep(d)
	}
	return nil
})

// InterruptibleSleeper wakes up as soon as ctx is done. The launcher uses it so
// that Ctrl-C does not wait out a poll interval.
var InterruptibleSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// Package backoff implements the exponential retry schedule used when a live
// camera glitches.
package backoff

import (
	"context"
	"log/slog"
	"time"
)

// Config contains configuration for exponential backoff
type Config struct {
	MaxRetries    int           // Consecutive failures tolerated before giving up (default: 30)
	RetryDelay    time.Duration // Initial retry delay (default: 10ms)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 500ms)
}

// DefaultConfig returns the default schedule for frame pulls.
//
// Delays stay short because a glitch on a live camera usually lasts a frame
// or two; the budget of 30 consecutive failures spans several seconds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    30,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 500 * time.Millisecond,
	}
}

// State tracks consecutive failures. Not safe for concurrent use; each
// capture loop owns one.
type State struct {
	cfg      Config
	failures int
	total    uint64
}

// New creates a State for cfg.
func New(cfg Config) *State {
	return &State{cfg: cfg}
}

// Failure records a failed attempt and reports whether the retry budget is
// exhausted.
func (s *State) Failure() (exhausted bool) {
	s.failures++
	s.total++
	return s.cfg.MaxRetries > 0 && s.failures > s.cfg.MaxRetries
}

// Success resets the consecutive failure counter.
func (s *State) Success() {
	if s.failures > 0 {
		slog.Debug("backoff: recovered", "after_failures", s.failures)
	}
	s.failures = 0
}

// Failures returns the current consecutive failure count.
func (s *State) Failures() int { return s.failures }

// Total returns the lifetime failure count.
func (s *State) Total() uint64 { return s.total }

// Wait sleeps for the delay of the current attempt, or until ctx is done.
// Returns ctx.Err() when cancelled.
func (s *State) Wait(ctx context.Context) error {
	delay := Delay(s.failures, s.cfg)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay calculates the exponential backoff delay for a given attempt
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
//
// Example with default config (retryDelay=10ms, maxRetryDelay=500ms):
//   - Attempt 1: 10ms
//   - Attempt 2: 20ms
//   - Attempt 3: 40ms
//   - Attempt 7: 500ms (capped)
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		return 0
	}

	// Shifts beyond 30 overflow well past any sane cap
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(shift))
	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay < 0) {
		delay = cfg.MaxRetryDelay
	}

	return delay
}

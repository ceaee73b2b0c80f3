// SPDX-License-Identifier: LGPL-3.0-or-later

// Package retrypolicy decorates a mainloop.Action with retry-on-failure
// behavior. The core scheduler has no retry logic of its own; a wrapped
// action looks like any other action to the MainLoop, and sleeps
// between attempts the same way any other action suspends itself, so
// backed-off retries never occupy a concurrency slot.
package retrypolicy

import (
	"strings"
	"time"

	"actionloop/mainloop"
)

// Backoff selects how the delay between attempts grows.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
	BackoffFibonacci   Backoff = "fibonacci"
	BackoffConstant    Backoff = "constant"
)

// Policy configures retry behavior for a wrapped action.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Backoff

	// RetryOnErrors restricts retries to errors whose message contains
	// one of these substrings. Empty means retry on any error.
	RetryOnErrors []string

	// OnRetry, if set, is called before each sleep with the attempt
	// number (1-based) and the delay about to be taken.
	OnRetry func(action mainloop.Action, attempt int, delay time.Duration, err error)
}

// Delay returns the backoff duration for the given 1-based attempt
// number, clamped to p.MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}

	var delay time.Duration
	switch p.Strategy {
	case BackoffLinear:
		delay = initial * time.Duration(attempt)
	case BackoffExponential:
		delay = initial * time.Duration(1<<uint(attempt-1))
	case BackoffFibonacci:
		delay = initial * time.Duration(fibonacci(attempt))
	default:
		delay = initial
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func fibonacci(n int) int {
	if n <= 2 {
		return 1
	}
	a, b := 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (p Policy) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryOnErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, pattern := range p.RetryOnErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// action is the mainloop.Action returned by Wrap. It embeds
// mainloop.BaseAction so Wrap(...).Sleeping works, and also forwards
// AddedNotify to the wrapped action so it can use its own sleep/wake
// notifications if it has any.
type action struct {
	mainloop.BaseAction
	inner  mainloop.Action
	policy Policy
}

// Wrap returns a mainloop.Action that runs inner, retrying with
// policy's backoff on failures policy.RetryOnErrors allows, up to
// policy.MaxAttempts total attempts. The final error returned is
// inner's last attempt's error.
func Wrap(inner mainloop.Action, policy Policy) mainloop.Action {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &action{inner: inner, policy: policy}
}

func (a *action) Name() string { return a.inner.Name() }

func (a *action) AddedNotify(l *mainloop.MainLoop) {
	a.BaseAction.AddedNotify(l)
	a.inner.AddedNotify(l)
}

func (a *action) Run() error {
	var lastErr error
	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		lastErr = a.inner.Run()
		if lastErr == nil {
			return nil
		}
		if attempt == a.policy.MaxAttempts || !a.policy.shouldRetry(lastErr) {
			return lastErr
		}

		delay := a.policy.Delay(attempt)
		if a.policy.OnRetry != nil {
			a.policy.OnRetry(a.inner, attempt, delay, lastErr)
		}
		a.Sleeping(a, func() {
			time.Sleep(delay)
		})
	}
	return lastErr
}

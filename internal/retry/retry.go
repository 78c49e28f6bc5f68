// Package retry retries upstream stream establishment when the provider
// throttles the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

// ErrRetriesExhausted is returned when every attempt was rate limited
var ErrRetriesExhausted = errors.New("retries exhausted")

// Outcome classifies a single attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may be made after this outcome
func (o Outcome) Retryable() bool {
	return o == OutcomeRateLimited
}

// Classify maps an attempt error onto an Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case llm.IsRateLimited(err):
		return OutcomeRateLimited
	default:
		return OutcomeFailed
	}
}

// Policy bounds the retry loop
type Policy struct {
	// MaxAttempts includes the first attempt; values below 1 mean 1
	MaxAttempts int

	// InitialDelay is the wait before the second attempt; it doubles after
	// every further rate-limited attempt
	InitialDelay time.Duration

	// OnRetry, if set, is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Result describes how the loop ended
type Result struct {
	Attempts int
	Delays   []time.Duration
	Outcome  Outcome
	Err      error
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialDelay
	expo.RandomizationFactor = 0
	expo.Multiplier = 2
	expo.MaxInterval = time.Duration(1<<63 - 1)
	expo.MaxElapsedTime = 0

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)
}

// Do invokes attempt until it succeeds, fails with a non-retryable outcome,
// or MaxAttempts rate-limited attempts have been made.
func Do[T any](ctx context.Context, p Policy, attempt func(ctx context.Context) (T, error)) (T, Result) {
	var res Result

	op := func() (T, error) {
		res.Attempts++
		v, err := attempt(ctx)
		res.Outcome = Classify(err)
		switch {
		case res.Outcome == OutcomeSuccess:
			return v, nil
		case res.Outcome.Retryable():
			return v, err
		default:
			return v, backoff.Permanent(err)
		}
	}

	notify := func(err error, d time.Duration) {
		res.Delays = append(res.Delays, d)
		if p.OnRetry != nil {
			p.OnRetry(res.Attempts, err, d)
		}
	}

	v, err := backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Err = err
	case res.Outcome.Retryable():
		res.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, res.Attempts, err)
	default:
		res.Err = err
	}
	return v, res
}

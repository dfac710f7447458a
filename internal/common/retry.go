package common

import (
	"context"
	"sync"
	"time"
)

// Pacer applies the retry and pacing policy to external calls. It counts
// requests across goroutines, pauses after every PaceEvery requests, and
// escalates the pause once FailureThreshold consecutive calls have failed.
type Pacer struct {
	policy RetryConfig
	logger *Logger

	mu           sync.Mutex
	requests     int
	consecFails  int
	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer for the given policy.
func NewPacer(policy RetryConfig, logger *Logger) *Pacer {
	return &Pacer{
		policy: policy,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pace records one request and returns the pause owed before the next call.
func (p *Pacer) pace() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	if p.policy.FailureThreshold > 0 && p.consecFails >= p.policy.FailureThreshold {
		p.consecFails = 0
		return p.policy.GetEscalatedPause()
	}
	if p.policy.PaceEvery > 0 && p.requests%p.policy.PaceEvery == 0 {
		return p.policy.GetPacePause()
	}
	return 0
}

func (p *Pacer) recordOutcome(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.consecFails++
	} else {
		p.consecFails = 0
	}
}

// maxRetryBackoff caps the doubling retry backoff.
const maxRetryBackoff = 60 * time.Second

// CallWithRetry runs fn under the pacing policy, retrying transient errors
// up to MaxRetries times. The backoff doubles per attempt, capped at
// maxRetryBackoff. Non-transient errors return immediately.
func CallWithRetry[T any](ctx context.Context, p *Pacer, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if pause := p.pace(); pause > 0 {
			p.logger.Debug().Str("call", name).Dur("pause", pause).Msg("Pacing pause")
			if err := p.sleep(ctx, pause); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		p.recordOutcome(err)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt < attempts-1 {
			backoff := p.policy.GetBackoff() << attempt
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			p.logger.Warn().Str("call", name).Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).Msg("Transient error, retrying")
			if err := p.sleep(ctx, backoff); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}

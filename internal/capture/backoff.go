package capture

import (
	"math"
	"math/rand/v2"
)

// BackoffPolicy computes restart delays: an exponential base delay
// capped at RestartMaxDelayMs, plus a jitter sample whose bounds widen
// with attempt number. It is purely functional — the caller (Pipeline)
// owns the attempt counter and calls Compute per decision, rather than
// mutating shared backoff state internally.
type BackoffPolicy struct {
	budgets  BackoffBudgets
	randFunc func() float64
}

// NewBackoffPolicy builds a BackoffPolicy. If randFunc is nil, a uniform
// [0,1) generator backed by a process-wide source is used.
func NewBackoffPolicy(budgets BackoffBudgets, randFunc func() float64) *BackoffPolicy {
	if randFunc == nil {
		randFunc = defaultRand
	}
	return &BackoffPolicy{budgets: budgets, randFunc: randFunc}
}

// Compute returns the delay (ms) and its full meta breakdown for restart
// attempt N (1-indexed):
//
//	baseDelayMs = min(restartMaxDelayMs, restartDelayMs * 2^(N-1))
//	jitter in [0, base*f] for attempt 1, else [-base*f, base*f]
//	delayMs = clamp(baseDelayMs + jitter, restartDelayMs, restartMaxDelayMs)
func (b *BackoffPolicy) Compute(attempt int) (delayMs int64, meta RecoverMeta) {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.budgets.RestartDelayMs) * math.Pow(2, float64(attempt-1))
	if base > float64(b.budgets.RestartMaxDelayMs) {
		base = float64(b.budgets.RestartMaxDelayMs)
	}
	baseDelay := int64(base)

	f := b.budgets.RestartJitterFactor
	var minJitter, maxJitter int64
	if attempt == 1 {
		minJitter = 0
		maxJitter = int64(base * f)
	} else {
		minJitter = -int64(base * f)
		maxJitter = int64(base * f)
	}

	sample := b.randFunc()
	jitterRange := float64(maxJitter - minJitter)
	applied := int64(float64(minJitter) + sample*jitterRange)

	total := baseDelay + applied
	if total < b.budgets.RestartDelayMs {
		total = b.budgets.RestartDelayMs
	}
	if total > b.budgets.RestartMaxDelayMs {
		total = b.budgets.RestartMaxDelayMs
	}

	meta = RecoverMeta{
		BaseDelayMs:     baseDelay,
		MinDelayMs:      b.budgets.RestartDelayMs,
		MaxDelayMs:      b.budgets.RestartMaxDelayMs,
		MinJitterMs:     minJitter,
		MaxJitterMs:     maxJitter,
		AppliedJitterMs: applied,
	}
	return total, meta
}

func defaultRand() float64 {
	return rand.Float64()
}

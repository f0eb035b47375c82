// Package backoff implements the sync engine's retry delay policy as a
// pure function of attempt count and an optional server-directed
// retry-after duration (spec §4.4). It deliberately does not wrap a
// general-purpose retry library: the jitter shape and the dual
// short-cap/long-cap cooldown configuration are invariants the engine's
// tests assert on directly, so the formula stays inline and explicit the
// way the teacher's own infrastructure/resilience/retry.go keeps its
// addJitter/nextDelay helpers inline rather than behind an interface.
package backoff

import (
	"math/rand"
	"time"
)

// Config parameterizes the delay formula. Two presets are provided:
// DefaultConfig (the production short-cap variant) and LongCapConfig (the
// earlier retry queue's variant, kept as an alternate configuration per
// spec §9 Open Questions).
type Config struct {
	Base       time.Duration
	MaxBackoff time.Duration
	MaxAttempts int
}

// DefaultConfig is the short-cap variant: base 1s, cap 30s, 5 attempts.
func DefaultConfig() Config {
	return Config{Base: time.Second, MaxBackoff: 30 * time.Second, MaxAttempts: 5}
}

// LongCapConfig is the alternate long-cap variant (10 minute cap) noted
// in spec §4.4 and §9 as coexisting but not simultaneously active in
// production.
func LongCapConfig() Config {
	return Config{Base: time.Second, MaxBackoff: 10 * time.Minute, MaxAttempts: 5}
}

// RetryAfterJitterMax is the upper bound of the jitter added on top of a
// server-supplied Retry-After duration.
const RetryAfterJitterMax = 500 * time.Millisecond

// Delay computes the next retry delay for the given attempt count. If
// retryAfter is non-nil, it takes precedence and the result is
// retryAfter + uniform(0, 500ms). Otherwise the delay is
// base * 2^(attempts-1) * uniform(0.5, 1.5), capped at cfg.MaxBackoff.
// attempts <= 0 is treated as 1, matching spec §4.4.
func (cfg Config) Delay(attempts int, retryAfter *time.Duration) time.Duration {
	if attempts <= 0 {
		attempts = 1
	}

	if retryAfter != nil {
		jitter := time.Duration(rand.Int63n(int64(RetryAfterJitterMax) + 1))
		return *retryAfter + jitter
	}

	base := cfg.Base
	if base <= 0 {
		base = time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	exp := 1 << uint(attempts-1)
	raw := base * time.Duration(exp)
	if raw <= 0 || raw > maxBackoff*4 {
		// Overflow guard: once the exponential term is clearly beyond
		// the cap, skip straight to the cap rather than risk wrapping
		// a time.Duration (int64 nanoseconds) negative.
		raw = maxBackoff
	}

	jittered := time.Duration(float64(raw) * (0.5 + rand.Float64()))
	if jittered > maxBackoff {
		return maxBackoff
	}
	if jittered < 0 {
		return maxBackoff
	}
	return jittered
}

// Delay computes the next retry delay using DefaultConfig. Convenience
// wrapper for callers that don't need a long-cap variant.
func Delay(attempts int, retryAfter *time.Duration) time.Duration {
	return DefaultConfig().Delay(attempts, retryAfter)
}

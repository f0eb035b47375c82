// Package circuitbreaker implements the engine's sliding-window failure
// gate (spec §4.6). Adapted from the teacher pack's
// infrastructure/resilience/circuit_breaker.go, which uses a count-based
// Closed/Open/HalfOpen state machine; the spec instead calls for a
// sliding time window of failure timestamps and a fixed cooldown with
// auto-reset, so the state machine is replaced by a timestamp list and a
// trippedAt marker, while keeping the same "one breaker, durable state,
// time-aware IsTripped" shape.
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
)

// DefaultWindow is the sliding window over which failures are counted.
const DefaultWindow = 1 * time.Minute

// DefaultThreshold is the number of failures within the window that
// trips the circuit.
const DefaultThreshold = 10

// DefaultCooldown is how long the circuit stays tripped before
// auto-resetting.
const DefaultCooldown = 1 * time.Minute

// state is the durable CircuitState record (spec §3).
type state struct {
	FailureTimestamps []time.Time `json:"failure_timestamps"`
	TrippedAt         *time.Time  `json:"tripped_at,omitempty"`
}

const stateKey = "circuit"

// Config parameterizes window/threshold/cooldown. Zero values fall back
// to the package defaults.
type Config struct {
	Window    time.Duration
	Threshold int
	Cooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Breaker is the sliding-window circuit breaker.
type Breaker struct {
	box kvstore.Box
	cfg Config
}

// New opens the circuit-state box from backend using the given config.
func New(ctx context.Context, backend kvstore.Store, cfg Config) (*Breaker, error) {
	box, err := backend.Box(ctx, kvstore.BoxCircuitState)
	if err != nil {
		return nil, fmt.Errorf("circuitbreaker: open box: %w", err)
	}
	return &Breaker{box: box, cfg: cfg.withDefaults()}, nil
}

func (b *Breaker) load(ctx context.Context) (state, error) {
	var s state
	_, err := b.box.Get(ctx, stateKey, &s)
	if err != nil {
		return state{}, fmt.Errorf("circuitbreaker: load: %w", err)
	}
	return s, nil
}

func (b *Breaker) save(ctx context.Context, s state) error {
	if err := b.box.Put(ctx, stateKey, s); err != nil {
		return fmt.Errorf("circuitbreaker: save: %w", err)
	}
	return nil
}

// IsTripped reports whether the circuit is currently open, given now. A
// tripped circuit auto-resets once now is past trippedAt+cooldown; the
// reset is also persisted so the failure history doesn't resurrect the
// trip on the next call.
func (b *Breaker) IsTripped(ctx context.Context, now time.Time) (bool, error) {
	s, err := b.load(ctx)
	if err != nil {
		return false, err
	}
	if s.TrippedAt == nil {
		return false, nil
	}
	if now.Sub(*s.TrippedAt) > b.cfg.Cooldown {
		s.TrippedAt = nil
		s.FailureTimestamps = nil
		if err := b.save(ctx, s); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// RecordFailure appends now to the sliding window, drops entries older
// than the window, and trips the circuit if the threshold is reached.
// Recording a failure while already tripped leaves trippedAt untouched
// (the cooldown doesn't restart on further failures).
func (b *Breaker) RecordFailure(ctx context.Context, now time.Time) error {
	s, err := b.load(ctx)
	if err != nil {
		return err
	}

	kept := s.FailureTimestamps[:0]
	for _, ts := range s.FailureTimestamps {
		if now.Sub(ts) <= b.cfg.Window {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.FailureTimestamps = kept

	if s.TrippedAt == nil && len(kept) >= b.cfg.Threshold {
		trippedAt := now
		s.TrippedAt = &trippedAt
	}
	return b.save(ctx, s)
}

// RecordSuccess clears the failure list entirely (spec §4.6: "any
// success clears the failure list"). It does not itself un-trip an
// already-tripped circuit; that only happens via cooldown expiry in
// IsTripped, since the engine never dispatches while tripped and so never
// has a success to record until the circuit has already reset.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	s, err := b.load(ctx)
	if err != nil {
		return err
	}
	s.FailureTimestamps = nil
	return b.save(ctx, s)
}

// CooldownEnd returns the time the current trip will auto-reset, or the
// zero time if the circuit is not tripped.
func (b *Breaker) CooldownEnd(ctx context.Context) (time.Time, error) {
	s, err := b.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if s.TrippedAt == nil {
		return time.Time{}, nil
	}
	return s.TrippedAt.Add(b.cfg.Cooldown), nil
}

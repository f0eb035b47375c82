package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/aurafall/syncengine/internal/kvstore/memstore"
)

func newBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	b, err := New(context.Background(), memstore.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestCircuitDeterministicTripAtThreshold(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, Config{Window: time.Minute, Threshold: 3, Cooldown: time.Minute})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := b.RecordFailure(ctx, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	tripped, err := b.IsTripped(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if tripped {
		t.Fatalf("should not be tripped before threshold reached")
	}

	if err := b.RecordFailure(ctx, now.Add(2*time.Second)); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	tripped, err = b.IsTripped(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if !tripped {
		t.Fatalf("3 failures within window should deterministically trip with threshold 3")
	}
}

func TestFailuresOutsideWindowDontCount(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, Config{Window: 10 * time.Second, Threshold: 2, Cooldown: time.Minute})
	now := time.Now()

	if err := b.RecordFailure(ctx, now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	// Second failure well outside the 10s window relative to the first.
	later := now.Add(20 * time.Second)
	if err := b.RecordFailure(ctx, later); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	tripped, err := b.IsTripped(ctx, later)
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if tripped {
		t.Fatalf("stale failure outside window should not count toward threshold")
	}
}

func TestSuccessClearsFailureList(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, Config{Window: time.Minute, Threshold: 3, Cooldown: time.Minute})
	now := time.Now()

	_ = b.RecordFailure(ctx, now)
	_ = b.RecordFailure(ctx, now.Add(time.Second))
	if err := b.RecordSuccess(ctx); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	_ = b.RecordFailure(ctx, now.Add(2*time.Second))
	tripped, err := b.IsTripped(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if tripped {
		t.Fatalf("failure list should have been cleared by success, one more failure shouldn't trip threshold 3")
	}
}

func TestIsTrippedAutoResetsAfterCooldown(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, Config{Window: time.Minute, Threshold: 1, Cooldown: 30 * time.Second})
	now := time.Now()

	if err := b.RecordFailure(ctx, now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	tripped, err := b.IsTripped(ctx, now)
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if !tripped {
		t.Fatalf("should be tripped immediately after reaching threshold 1")
	}

	afterCooldown := now.Add(31 * time.Second)
	tripped, err = b.IsTripped(ctx, afterCooldown)
	if err != nil {
		t.Fatalf("IsTripped: %v", err)
	}
	if tripped {
		t.Fatalf("should auto-reset after cooldown elapses")
	}
}

func TestCooldownEndReflectsTripTime(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, Config{Window: time.Minute, Threshold: 1, Cooldown: time.Minute})
	now := time.Now()

	end, err := b.CooldownEnd(ctx)
	if err != nil {
		t.Fatalf("CooldownEnd: %v", err)
	}
	if !end.IsZero() {
		t.Fatalf("CooldownEnd should be zero before any trip")
	}

	_ = b.RecordFailure(ctx, now)
	end, err = b.CooldownEnd(ctx)
	if err != nil {
		t.Fatalf("CooldownEnd: %v", err)
	}
	want := now.Add(time.Minute)
	if !end.Equal(want) {
		t.Fatalf("CooldownEnd = %v, want %v", end, want)
	}
}

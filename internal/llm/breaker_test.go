package llm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skimmer/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		RecoveryTimeout:     300 * time.Second,
		HalfOpenMaxRequests: 3,
		MinInterval:         time.Second,
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := NewCircuitBreaker(ctx, st, testBreakerConfig())
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		now = now.Add(2 * time.Second)
		b.RecordFailure(ctx, now)
		if b.State() != StateClosed {
			t.Fatalf("opened after %d failures", i+1)
		}
	}
	now = now.Add(2 * time.Second)
	b.RecordFailure(ctx, now)
	if b.State() != StateOpen {
		t.Fatalf("state after 5 failures = %s", b.State())
	}

	if ok, reason := b.CanCall(ctx, now.Add(2*time.Second)); ok || reason == "" {
		t.Error("open circuit allowed a call")
	}
}

func TestBreakerRecoveryCycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := NewCircuitBreaker(ctx, st, testBreakerConfig())
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		now = now.Add(2 * time.Second)
		b.RecordFailure(ctx, now)
	}

	// After the recovery timeout CanCall transitions OPEN -> HALF.
	probe := now.Add(301 * time.Second)
	if ok, _ := b.CanCall(ctx, probe); !ok {
		t.Fatal("probe call denied after recovery timeout")
	}
	if b.State() != StateHalf {
		t.Fatalf("state = %s, want half", b.State())
	}

	// Three successes close the circuit.
	for i := 0; i < 3; i++ {
		probe = probe.Add(2 * time.Second)
		b.RecordSuccess(ctx, probe)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after half-open successes = %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := NewCircuitBreaker(ctx, st, testBreakerConfig())
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		now = now.Add(2 * time.Second)
		b.RecordFailure(ctx, now)
	}
	probe := now.Add(301 * time.Second)
	b.CanCall(ctx, probe)
	if b.State() != StateHalf {
		t.Fatal("not half-open")
	}

	b.RecordFailure(ctx, probe.Add(2*time.Second))
	if b.State() != StateOpen {
		t.Fatalf("single half-open failure left state %s", b.State())
	}
}

func TestBreakerMinInterval(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := NewCircuitBreaker(ctx, st, testBreakerConfig())
	now := time.Now().UTC()

	b.RecordSuccess(ctx, now)

	if ok, _ := b.CanCall(ctx, now.Add(500*time.Millisecond)); ok {
		t.Error("call allowed inside minimum interval")
	}
	if ok, _ := b.CanCall(ctx, now.Add(2*time.Second)); !ok {
		t.Error("call denied after minimum interval")
	}
}

func TestBreakerStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	b := NewCircuitBreaker(ctx, st, testBreakerConfig())
	for i := 0; i < 5; i++ {
		now = now.Add(2 * time.Second)
		b.RecordFailure(ctx, now)
	}
	if b.State() != StateOpen {
		t.Fatal("not open")
	}

	// A fresh breaker over the same store resumes OPEN.
	restored := NewCircuitBreaker(ctx, st, testBreakerConfig())
	if restored.State() != StateOpen {
		t.Fatalf("restored state = %s, want open", restored.State())
	}
	if ok, _ := restored.CanCall(ctx, now.Add(2*time.Second)); ok {
		t.Error("restored open circuit allowed a call")
	}
}

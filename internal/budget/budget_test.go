package budget

import (
	"context"
	"testing"

	"github.com/halcyonix/playbook/internal/step"
)

func TestUnlimitedGuard(t *testing.T) {
	g := NewUnlimitedGuard()
	release, err := g.CheckAndReserve(context.Background(), "u1", 1<<30)
	if err != nil {
		t.Errorf("CheckAndReserve error: %v", err)
	}
	release()
	g.Record(context.Background(), "u1", step.TokenUsage{InputTokens: 1, OutputTokens: 1})
}

func TestStaticGuard_denyOverLimit(t *testing.T) {
	ctx := context.Background()
	g := NewStaticGuard(100, nil)

	release, err := g.CheckAndReserve(ctx, "u1", 60)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	g.Record(ctx, "u1", step.TokenUsage{InputTokens: 40, OutputTokens: 20})
	release()

	if _, err := g.CheckAndReserve(ctx, "u1", 60); err == nil {
		t.Error("expected denial after usage brings total over limit")
	}
	if _, err := g.CheckAndReserve(ctx, "u1", 30); err != nil {
		t.Errorf("reserve within remaining budget: %v", err)
	}
}

func TestStaticGuard_reservationHeldUntilRelease(t *testing.T) {
	ctx := context.Background()
	g := NewStaticGuard(100, nil)

	// While the first reservation is outstanding, a second call that would
	// jointly exceed the ceiling is denied.
	release1, err := g.CheckAndReserve(ctx, "u1", 60)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := g.CheckAndReserve(ctx, "u1", 60); err == nil {
		t.Error("expected denial while reservation is held")
	}
	if _, err := g.CheckAndReserve(ctx, "u2", 60); err != nil {
		t.Errorf("other user must be unaffected: %v", err)
	}

	// Actual usage lands, the estimate is released, and headroom reopens.
	g.Record(ctx, "u1", step.TokenUsage{InputTokens: 30, OutputTokens: 10})
	release1()
	release1() // Idempotent.

	release2, err := g.CheckAndReserve(ctx, "u1", 60)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	release2()
}

func TestStaticGuard_perUserIsolation(t *testing.T) {
	ctx := context.Background()
	g := NewStaticGuard(50, nil)
	g.Record(ctx, "u1", step.TokenUsage{InputTokens: 50})

	if _, err := g.CheckAndReserve(ctx, "u1", 10); err == nil {
		t.Error("u1 should be exhausted")
	}
	if _, err := g.CheckAndReserve(ctx, "u2", 10); err != nil {
		t.Errorf("u2 should be untouched: %v", err)
	}
}

func TestStaticGuard_overrides(t *testing.T) {
	ctx := context.Background()
	g := NewStaticGuard(10, map[string]int{"premium": 1000, "free": 0})

	if _, err := g.CheckAndReserve(ctx, "premium", 500); err != nil {
		t.Errorf("premium override: %v", err)
	}
	if _, err := g.CheckAndReserve(ctx, "free", 1<<20); err != nil {
		t.Errorf("zero override means unlimited: %v", err)
	}
	if _, err := g.CheckAndReserve(ctx, "other", 11); err == nil {
		t.Error("default limit should deny")
	}
}

func TestStaticGuard_used(t *testing.T) {
	ctx := context.Background()
	g := NewStaticGuard(0, nil)
	g.Record(ctx, "u1", step.TokenUsage{InputTokens: 3, OutputTokens: 4})
	g.Record(ctx, "u1", step.TokenUsage{InputTokens: 1})
	if got := g.Used("u1"); got != 8 {
		t.Errorf("Used = %d, want 8", got)
	}
}

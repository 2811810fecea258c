// Package budget enforces per-user token ceilings on LLM usage.
package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/halcyonix/playbook/internal/step"
)

// UnlimitedGuard approves every reservation. It is the default when no
// ceiling is configured.
type UnlimitedGuard struct{}

// NewUnlimitedGuard creates an UnlimitedGuard.
func NewUnlimitedGuard() *UnlimitedGuard {
	return &UnlimitedGuard{}
}

func (g *UnlimitedGuard) CheckAndReserve(context.Context, string, int) (func(), error) {
	return func() {}, nil
}

func (g *UnlimitedGuard) Record(context.Context, string, step.TokenUsage) {}

// StaticGuard enforces a fixed token ceiling per user, with optional per-user
// overrides. Accounting is in-memory and resets with the process; it bounds
// runaway usage within a deployment, not billing.
type StaticGuard struct {
	mu        sync.Mutex
	defLimit  int
	overrides map[string]int
	used      map[string]int
	reserved  map[string]int
}

// NewStaticGuard creates a guard with the given default ceiling. A limit of
// zero or less for a user means unlimited.
func NewStaticGuard(defaultLimit int, overrides map[string]int) *StaticGuard {
	ov := make(map[string]int, len(overrides))
	for k, v := range overrides {
		ov[k] = v
	}
	return &StaticGuard{
		defLimit:  defaultLimit,
		overrides: ov,
		used:      make(map[string]int),
		reserved:  make(map[string]int),
	}
}

func (g *StaticGuard) limitFor(userID string) int {
	if v, ok := g.overrides[userID]; ok {
		return v
	}
	return g.defLimit
}

// CheckAndReserve admits the call if recorded usage plus outstanding
// reservations plus the estimate stays under the user's ceiling. The estimate
// is held until the returned release runs, so concurrent calls cannot jointly
// overrun the limit. release is idempotent.
func (g *StaticGuard) CheckAndReserve(_ context.Context, userID string, estimatedTokens int) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit := g.limitFor(userID)
	if limit <= 0 {
		return func() {}, nil
	}
	if g.used[userID]+g.reserved[userID]+estimatedTokens > limit {
		return nil, fmt.Errorf("token budget exhausted: %d of %d tokens committed", g.used[userID]+g.reserved[userID], limit)
	}
	g.reserved[userID] += estimatedTokens

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.reserved[userID] -= estimatedTokens
			g.mu.Unlock()
		})
	}, nil
}

// Record adds actual provider usage to the user's tally.
func (g *StaticGuard) Record(_ context.Context, userID string, usage step.TokenUsage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used[userID] += usage.Total()
}

// Used reports a user's recorded consumption.
func (g *StaticGuard) Used(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used[userID]
}

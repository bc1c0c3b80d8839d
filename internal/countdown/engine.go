package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Engine interpolates the question countdown between authoritative server
// ticks. Each anchor entirely replaces the previous state; local extrapolation
// is discarded, never blended. The engine only predicts display values and
// never declares a question over on its own.
type Engine struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	remaining  time.Duration // remaining at the anchor instant
	total      time.Duration
	anchoredAt time.Time
	armed      bool
}

// Snapshot is one derived countdown reading for display consumers.
type Snapshot struct {
	Remaining time.Duration `json:"remaining"`
	Total     time.Duration `json:"total"`
	Fraction  float64       `json:"fraction"` // remaining/total in [0,1]
}

// NewEngine creates a countdown engine. Pass clockwork.NewRealClock() in
// production and a FakeClock in tests.
func NewEngine(clock clockwork.Clock) *Engine {
	return &Engine{clock: clock}
}

// Anchor sets the last-known-true countdown state from an authoritative tick.
func (e *Engine) Anchor(remaining, total time.Duration) {
	e.AnchorAt(remaining, total, e.clock.Now())
}

// AnchorAt sets the anchor against an explicit wall-clock instant.
func (e *Engine) AnchorAt(remaining, total time.Duration, at time.Time) {
	if total <= 0 {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	e.mu.Lock()
	e.remaining = remaining
	e.total = total
	e.anchoredAt = at
	e.armed = true
	e.mu.Unlock()
}

// Reset clears the anchor; Remaining reports zero until the next anchor.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.armed = false
	e.remaining = 0
	e.total = 0
	e.mu.Unlock()
}

// Remaining returns the predicted time left right now.
func (e *Engine) Remaining() time.Duration {
	return e.RemainingAt(e.clock.Now())
}

// RemainingAt computes max(0, remaining - (now - anchoredAt)), clamped so it
// never exceeds the question's total time.
func (e *Engine) RemainingAt(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.armed {
		return 0
	}
	predicted := e.remaining - now.Sub(e.anchoredAt)
	if predicted < 0 {
		return 0
	}
	if predicted > e.total {
		return e.total
	}
	return predicted
}

// Total returns the question's full time budget, zero when idle.
func (e *Engine) Total() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.armed {
		return 0
	}
	return e.total
}

// Snapshot returns the current derived reading.
func (e *Engine) Snapshot() Snapshot {
	return e.SnapshotAt(e.clock.Now())
}

// SnapshotAt returns the derived reading for an explicit instant.
func (e *Engine) SnapshotAt(now time.Time) Snapshot {
	remaining := e.RemainingAt(now)
	total := e.Total()
	snap := Snapshot{Remaining: remaining, Total: total}
	if total > 0 {
		snap.Fraction = float64(remaining) / float64(total)
	}
	return snap
}

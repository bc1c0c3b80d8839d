package countdown

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultTickInterval is how often the local display countdown is recomputed.
const DefaultTickInterval = 20 * time.Millisecond

// Ticker drives the local display countdown between authoritative anchors.
// It only reads the engine and publishes derived snapshots; it never mutates
// game state, so it cannot race with event-driven mutations. The owner must
// cancel the context on every phase exit so a late tick cannot repaint a
// stale countdown over a newer phase.
type Ticker struct {
	engine   *Engine
	clock    clockwork.Clock
	interval time.Duration
	out      chan Snapshot
}

// NewTicker creates a ticker publishing snapshots at the given interval.
func NewTicker(engine *Engine, clock clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		engine:   engine,
		clock:    clock,
		interval: interval,
		out:      make(chan Snapshot, 1),
	}
}

// Snapshots returns the channel of derived countdown readings. Slow consumers
// only ever miss intermediate readings, never the latest one.
func (t *Ticker) Snapshots() <-chan Snapshot {
	return t.out
}

// Run publishes snapshots until the context is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("countdown ticker cancelled")
			return
		case <-ticker.Chan():
			snap := t.engine.Snapshot()
			select {
			case t.out <- snap:
			default:
				// Drop the stale reading so the channel always holds the newest.
				select {
				case <-t.out:
				default:
				}
				select {
				case t.out <- snap:
				default:
				}
			}
		}
	}
}

package buzzer

import (
	"sort"
	"sync"
	"time"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Entry is one live buzz in the queue.
type Entry struct {
	TeamID     string // canonical team id after alias resolution
	ReportedID string // id exactly as the server sent it
	LatencyMs  int64  // server-measured delay since question start
	ServerTime time.Time
	Seq        int64 // server arrival sequence, tie-breaker only
	Position   int   // 1-based queue position
}

// Resolver maps a reported id (logical id or hardware alias) to a canonical
// team id. roster.Directory.CanonicalID satisfies this.
type Resolver func(anyID string) string

// Arbiter accumulates buzz events into a deduplicated queue strictly ordered
// by reported latency, ties broken by server arrival sequence. Client receipt
// order never influences the ordering; the network may deliver buzzes in any
// order.
type Arbiter struct {
	mu      sync.Mutex
	resolve Resolver
	entries []*Entry
	byTeam  map[string]*Entry
}

// NewArbiter creates an empty queue. A nil resolver treats every reported id
// as already canonical.
func NewArbiter(resolve Resolver) *Arbiter {
	if resolve == nil {
		resolve = func(id string) string { return id }
	}
	return &Arbiter{
		resolve: resolve,
		byTeam:  make(map[string]*Entry),
	}
}

// Record adds a buzz to the queue. A buzz for a team that already holds a live
// entry is discarded, including when the duplicate arrives under a hardware
// alias of the same team; a duplicate network delivery of one physical press
// must not create a second slot. Returns true if the queue changed.
func (a *Arbiter) Record(buzz protocol.BuzzPayload) bool {
	teamID := a.resolve(buzz.TeamID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byTeam[teamID]; ok {
		log.Debug().
			Str("team_id", teamID).
			Int("position", existing.Position).
			Msg("duplicate buzz discarded")
		return false
	}

	entry := &Entry{
		TeamID:     teamID,
		ReportedID: buzz.TeamID,
		LatencyMs:  buzz.LatencyMs,
		ServerTime: buzz.ServerTime,
		Seq:        buzz.Seq,
	}
	a.entries = append(a.entries, entry)
	a.byTeam[teamID] = entry
	a.reorder()
	return true
}

// Remove deletes a team's entry, renumbering the remaining positions
// contiguously from 1 while preserving their relative order. Used when the
// host rules a team's answer incorrect.
func (a *Arbiter) Remove(teamID string) bool {
	teamID = a.resolve(teamID)

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.byTeam[teamID]
	if !ok {
		return false
	}
	delete(a.byTeam, teamID)
	for i, e := range a.entries {
		if e == entry {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			break
		}
	}
	a.reorder()
	return true
}

// Clear empties the queue.
func (a *Arbiter) Clear() {
	a.mu.Lock()
	a.entries = nil
	a.byTeam = make(map[string]*Entry)
	a.mu.Unlock()
}

// Replace rebuilds the queue from an authoritative list, e.g. a full-state
// snapshot or a question-end final order. The new queue is built aside and
// swapped in under one lock acquisition so concurrent readers never observe
// a partially rebuilt queue.
func (a *Arbiter) Replace(buzzes []protocol.BuzzPayload) {
	entries := make([]*Entry, 0, len(buzzes))
	byTeam := make(map[string]*Entry, len(buzzes))
	for _, buzz := range buzzes {
		teamID := a.resolve(buzz.TeamID)
		if _, ok := byTeam[teamID]; ok {
			continue
		}
		entry := &Entry{
			TeamID:     teamID,
			ReportedID: buzz.TeamID,
			LatencyMs:  buzz.LatencyMs,
			ServerTime: buzz.ServerTime,
			Seq:        buzz.Seq,
		}
		entries = append(entries, entry)
		byTeam[teamID] = entry
	}

	a.mu.Lock()
	a.entries = entries
	a.byTeam = byTeam
	a.reorder()
	a.mu.Unlock()
}

// First returns the earliest entrant without removing it.
func (a *Arbiter) First() (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return Entry{}, false
	}
	return *a.entries[0], true
}

// Entries returns the queue in order as a copy.
func (a *Arbiter) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	for i, e := range a.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of live entries.
func (a *Arbiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// reorder sorts by (latency, arrival seq) and renumbers positions from 1.
// Caller holds the lock.
func (a *Arbiter) reorder() {
	sort.SliceStable(a.entries, func(i, j int) bool {
		if a.entries[i].LatencyMs != a.entries[j].LatencyMs {
			return a.entries[i].LatencyMs < a.entries[j].LatencyMs
		}
		return a.entries[i].Seq < a.entries[j].Seq
	})
	for i, e := range a.entries {
		e.Position = i + 1
	}
}

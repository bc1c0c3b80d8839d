package roster

import (
	"fmt"
	"sync"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Team is one resolved roster entry.
type Team struct {
	ID      string
	Aliases []string
	Name    string
	Color   string
	Score   int
}

// Directory maps team ids and hardware buzzer aliases to display data.
// Rebuild replaces the whole mapping in one step so that alias sets always
// resolve consistently; a half-updated map would let a buzz render as an
// unknown team mid-update.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]*Team // keyed by canonical id and every alias
	ordered []*Team          // roster order as sent by the server
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID: make(map[string]*Team),
	}
}

// Rebuild replaces the whole alias map atomically from a roster payload.
func (d *Directory) Rebuild(teams []protocol.TeamPayload) {
	byID := make(map[string]*Team, len(teams)*2)
	ordered := make([]*Team, 0, len(teams))

	for _, tp := range teams {
		team := &Team{
			ID:      tp.ID,
			Aliases: append([]string(nil), tp.Aliases...),
			Name:    tp.Name,
			Color:   tp.Color,
			Score:   tp.Score,
		}
		ordered = append(ordered, team)
		byID[team.ID] = team
		for _, alias := range tp.Aliases {
			if existing, ok := byID[alias]; ok && existing.ID != team.ID {
				log.Warn().
					Str("alias", alias).
					Str("team_id", team.ID).
					Str("claimed_by", existing.ID).
					Msg("duplicate buzzer alias in roster, keeping first claim")
				continue
			}
			byID[alias] = team
		}
	}

	d.mu.Lock()
	d.byID = byID
	d.ordered = ordered
	d.mu.Unlock()
}

// Lookup returns a copy of the team for a canonical id or hardware alias.
// Copies are taken under the lock; handing out shared pointers would let HTTP
// readers race against score updates on the event loop.
func (d *Directory) Lookup(anyID string) (Team, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	team, ok := d.byID[anyID]
	if !ok {
		return Team{}, false
	}
	return *team, true
}

// CanonicalID maps a hardware alias to the team's logical id. Unknown ids map
// to themselves so dedup still works on whatever key the server used.
func (d *Directory) CanonicalID(anyID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if team, ok := d.byID[anyID]; ok {
		return team.ID
	}
	return anyID
}

// Resolve returns the best-known display name for an id. Unknown ids get a
// synthesized label rather than an error; partial data must still render.
func (d *Directory) Resolve(anyID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if team, ok := d.byID[anyID]; ok {
		return team.Name
	}
	return fmt.Sprintf("Team %s", anyID)
}

// Color returns the team's display color, or empty for unknown ids.
func (d *Directory) Color(anyID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if team, ok := d.byID[anyID]; ok {
		return team.Color
	}
	return ""
}

// Teams returns the roster in server order as copies.
func (d *Directory) Teams() []Team {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Team, len(d.ordered))
	for i, team := range d.ordered {
		out[i] = *team
	}
	return out
}

// AdjustScore applies a server-confirmed points delta to one team. Scores are
// never predicted locally.
func (d *Directory) AdjustScore(teamID string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if team, ok := d.byID[teamID]; ok {
		team.Score += delta
	}
}

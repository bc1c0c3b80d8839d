package statehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/buzzer"
	"github.com/buzzdeck/buzzdeck/internal/game"
)

// Server exposes the store's state as read-only local HTTP JSON for external
// rendering surfaces (a browser display polls it). It never mutates anything;
// the store stays the single owner of all game state.
type Server struct {
	store *game.Store
	srv   *http.Server
}

// StateView is the JSON shape served at /state.
type StateView struct {
	GameID      string        `json:"game_id"`
	GameName    string        `json:"game_name,omitempty"`
	Phase       string        `json:"phase"`
	Question    *QuestionView `json:"question,omitempty"`
	RemainingMs int64         `json:"remaining_ms"`
	TotalMs     int64         `json:"total_ms"`
	Fraction    float64       `json:"fraction"`
	Teams       []TeamView    `json:"teams"`
	Buzzes      []BuzzView    `json:"buzzes"`
}

// QuestionView is the question portion of the state view.
type QuestionView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
	Points   int    `json:"points"`
}

// TeamView is one roster entry with its current score.
type TeamView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Score int    `json:"score"`
}

// BuzzView is one queue slot with the team label already resolved.
type BuzzView struct {
	Position  int    `json:"position"`
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	Color     string `json:"color,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// NewServer creates the local state server.
func NewServer(addr string, store *game.Store) *Server {
	s := &Server{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/buzzers", s.handleBuzzers)
	mux.HandleFunc("/healthz", s.handleHealthz)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(mux)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("local state endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) view() StateView {
	snap := s.store.Timer().Snapshot()
	view := StateView{
		GameID:      s.store.GameID(),
		GameName:    s.store.GameName(),
		Phase:       string(s.store.Phase()),
		RemainingMs: snap.Remaining.Milliseconds(),
		TotalMs:     snap.Total.Milliseconds(),
		Fraction:    snap.Fraction,
		Teams:       []TeamView{},
		Buzzes:      s.buzzViews(),
	}

	if q := s.store.Question(); q != nil {
		view.Question = &QuestionView{
			ID:       q.ID,
			Text:     q.Text,
			MediaURL: q.MediaURL,
			Points:   q.Points,
		}
	}

	for _, team := range s.store.Directory().Teams() {
		view.Teams = append(view.Teams, TeamView{
			ID:    team.ID,
			Name:  team.Name,
			Color: team.Color,
			Score: team.Score,
		})
	}
	return view
}

func (s *Server) buzzViews() []BuzzView {
	entries := s.store.Arbiter().Entries()
	views := make([]BuzzView, 0, len(entries))
	for _, e := range entries {
		views = append(views, buzzView(e, s.store))
	}
	return views
}

func buzzView(e buzzer.Entry, store *game.Store) BuzzView {
	return BuzzView{
		Position:  e.Position,
		TeamID:    e.TeamID,
		TeamName:  store.Directory().Resolve(e.TeamID),
		Color:     store.Directory().Color(e.TeamID),
		LatencyMs: e.LatencyMs,
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.view())
}

func (s *Server) handleBuzzers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.buzzViews())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode state response")
	}
}

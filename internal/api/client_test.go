package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
)

func TestClient_GetGameState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games/g1/state", r.URL.Path)
		json.NewEncoder(w).Encode(protocol.GameStatePayload{
			GameID:      "g1",
			Phase:       "question-active",
			RemainingMs: 12000,
			TotalMs:     30000,
			Buzzes:      []protocol.BuzzPayload{{TeamID: "t1", LatencyMs: 390, Seq: 1}},
		})
	}))
	defer srv.Close()

	state, err := NewClient(srv.URL).GetGameState(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", state.GameID)
	assert.Equal(t, "question-active", state.Phase)
	require.Len(t, state.Buzzes, 1)
	assert.Equal(t, int64(390), state.Buzzes[0].LatencyMs)
}

func TestClient_GetRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games/g1/teams", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"teams": []protocol.TeamPayload{{ID: "t1", Name: "Red", Aliases: []string{"hw-01"}}},
		})
	}))
	defer srv.Close()

	teams, err := NewClient(srv.URL).GetRoster(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, []string{"hw-01"}, teams[0].Aliases)
}

func TestClient_ListGames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"games": []GameSummary{{ID: "g1", Name: "Pub Quiz", Phase: "idle", Teams: 4}},
		})
	}))
	defer srv.Close()

	games, err := NewClient(srv.URL).ListGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "Pub Quiz", games[0].Name)
}

func TestClient_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such game", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetGameState(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL).GetGameState(ctx, "g1")
	require.Error(t, err)
}

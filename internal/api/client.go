package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
)

// Client issues pull-style queries against the game server's HTTP API. It is
// the only pull-shaped contact with the server; everything else arrives as
// pushed events.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a query client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header applied to every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API returned status %d for %s: %s", resp.StatusCode, endpoint, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// GameSummary is one entry in the available-games listing.
type GameSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phase string `json:"phase"`
	Teams int    `json:"teams"`
}

// GetGameState fetches the full authoritative snapshot for a game.
func (c *Client) GetGameState(ctx context.Context, gameID string) (*protocol.GameStatePayload, error) {
	var state protocol.GameStatePayload
	if err := c.get(ctx, fmt.Sprintf("/api/games/%s/state", gameID), &state); err != nil {
		return nil, fmt.Errorf("get game state: %w", err)
	}
	return &state, nil
}

// GetRoster fetches the current team roster for a game.
func (c *Client) GetRoster(ctx context.Context, gameID string) ([]protocol.TeamPayload, error) {
	var roster struct {
		Teams []protocol.TeamPayload `json:"teams"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/games/%s/teams", gameID), &roster); err != nil {
		return nil, fmt.Errorf("get roster: %w", err)
	}
	return roster.Teams, nil
}

// ListGames fetches the games currently available to join.
func (c *Client) ListGames(ctx context.Context) ([]GameSummary, error) {
	var listing struct {
		Games []GameSummary `json:"games"`
	}
	if err := c.get(ctx, "/api/games", &listing); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return listing.Games, nil
}

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire structure for every event pushed by the game server.
type Envelope struct {
	ID        string          `json:"id"`        // Event UUID
	GameID    string          `json:"game_id"`   // Game session UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Server-side creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of game event
type EventType string

const (
	EventTypeGameState       EventType = "game-state"
	EventTypeQuestionStart   EventType = "question-start"
	EventTypeQuestionEnd     EventType = "question-end"
	EventTypeBuzzerPressed   EventType = "buzzer-pressed"
	EventTypeAnswerEvaluated EventType = "answer-evaluated"
	EventTypeTeamsUpdated    EventType = "teams-updated"
	EventTypeGameReset       EventType = "game-reset"
	EventTypeTimerTick       EventType = "timer-tick"
)

// Outbound command names accepted by the game server.
const (
	CommandJoinGame       = "join-game"
	CommandBuzzerPress    = "buzzer-press"
	CommandRegisterBuzzer = "register-buzzer"
)

// TeamPayload describes one team in the roster.
type TeamPayload struct {
	ID      string   `json:"id"`
	Aliases []string `json:"aliases,omitempty"` // Hardware buzzer ids mapped to this team
	Name    string   `json:"name"`
	Color   string   `json:"color,omitempty"`
	Score   int      `json:"score"`
}

// QuestionPayload describes the question currently on screen.
type QuestionPayload struct {
	QuestionID   string `json:"question_id"`
	Text         string `json:"text"`
	MediaURL     string `json:"media_url,omitempty"`
	TimeLimitSec int    `json:"time_limit_sec"`
	Points       int    `json:"points"`
}

// BuzzPayload is one reported buzzer press. LatencyMs is the server-measured
// delay since question activation and is the sole ordering key; Seq breaks ties.
type BuzzPayload struct {
	TeamID     string    `json:"team_id"`
	LatencyMs  int64     `json:"latency_ms"`
	ServerTime time.Time `json:"server_time"`
	Seq        int64     `json:"seq"`
}

// GameStatePayload is a full authoritative snapshot of the session.
type GameStatePayload struct {
	GameID      string           `json:"game_id"`
	Name        string           `json:"name,omitempty"`
	Phase       string           `json:"phase"`
	Question    *QuestionPayload `json:"question,omitempty"`
	RemainingMs int64            `json:"remaining_ms"`
	TotalMs     int64            `json:"total_ms"`
	Teams       []TeamPayload    `json:"teams"`
	Buzzes      []BuzzPayload    `json:"buzzes"`
}

// QuestionStartPayload starts a new question and resets the countdown.
type QuestionStartPayload struct {
	Question QuestionPayload `json:"question"`
	TotalMs  int64           `json:"total_ms"`
}

// QuestionEndPayload reports the authoritative final buzz order for a question.
type QuestionEndPayload struct {
	QuestionID string        `json:"question_id"`
	FinalOrder []BuzzPayload `json:"final_order"`
}

// BuzzerPressedPayload reports a single buzz for the active question.
type BuzzerPressedPayload struct {
	QuestionID string      `json:"question_id"`
	Buzz       BuzzPayload `json:"buzz"`
}

// AnswerEvaluatedPayload is the host's ruling on one team's answer.
type AnswerEvaluatedPayload struct {
	QuestionID  string `json:"question_id"`
	TeamID      string `json:"team_id"`
	Correct     bool   `json:"correct"`
	PointsDelta int    `json:"points_delta"`
}

// TeamsUpdatedPayload replaces the whole roster.
type TeamsUpdatedPayload struct {
	Teams []TeamPayload `json:"teams"`
}

// TimerTickPayload is a periodic authoritative countdown anchor.
type TimerTickPayload struct {
	QuestionID  string    `json:"question_id"`
	RemainingMs int64     `json:"remaining_ms"`
	TotalMs     int64     `json:"total_ms"`
	TickedAt    time.Time `json:"ticked_at"`
}

// JoinGamePayload subscribes this client to a game session.
type JoinGamePayload struct {
	GameID string `json:"game_id"`
	Flavor string `json:"flavor,omitempty"`
}

// BuzzerPressPayload reports a local buzz to the server. PressID is minted by
// the client so the server can deduplicate retransmitted presses.
type BuzzerPressPayload struct {
	PressID    string    `json:"press_id"`
	TeamID     string    `json:"team_id"`
	ClientTime time.Time `json:"client_time"`
}

// RegisterBuzzerPayload registers a virtual buzzer for a team.
type RegisterBuzzerPayload struct {
	TeamID        string `json:"team_id"`
	HardwareAlias string `json:"hardware_alias,omitempty"`
}

// ParsePayload parses an envelope's data into the payload struct for its type.
// A payload that fails to unmarshal is a protocol violation; the caller drops
// the event without touching any state.
func ParsePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case EventTypeGameState:
		var payload GameStatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeQuestionStart:
		var payload QuestionStartPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeQuestionEnd:
		var payload QuestionEndPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeBuzzerPressed:
		var payload BuzzerPressedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeAnswerEvaluated:
		var payload AnswerEvaluatedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeTeamsUpdated:
		var payload TeamsUpdatedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeTimerTick:
		var payload TimerTickPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return payload, nil

	case EventTypeGameReset:
		return nil, nil // no payload

	default:
		return nil, fmt.Errorf("unknown event type: %s", env.Type)
	}
}

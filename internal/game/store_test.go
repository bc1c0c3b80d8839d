package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
	"github.com/buzzdeck/buzzdeck/internal/transport"
)

type sentCommand struct {
	Event   string
	Payload interface{}
}

// fakeChannel is an in-memory transport.Channel for store tests.
type fakeChannel struct {
	mu      sync.Mutex
	inbound chan transport.Inbound
	sent    []sentCommand
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan transport.Inbound, 64)}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{Event: event, Payload: payload})
	return nil
}

func (f *fakeChannel) Inbound() <-chan transport.Inbound { return f.inbound }
func (f *fakeChannel) Close() error                      { return nil }

func (f *fakeChannel) sentCommands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

// fakeSnapshotter serves canned snapshots.
type fakeSnapshotter struct {
	mu    sync.Mutex
	state *protocol.GameStatePayload
	err   error
	calls int
}

func (f *fakeSnapshotter) GetGameState(ctx context.Context, gameID string) (*protocol.GameStatePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func newTestStore(t *testing.T, flavor Flavor) (*Store, *fakeChannel, *clockwork.FakeClock) {
	t.Helper()
	caps, err := CapabilitiesFor(flavor)
	require.NoError(t, err)

	channel := newFakeChannel()
	clock := clockwork.NewFakeClock()
	store := NewStore(Config{
		GameID:      "g1",
		Flavor:      flavor,
		Caps:        caps,
		TeamID:      "t1",
		BuzzerAlias: "hw-01",
	}, channel, &fakeSnapshotter{}, clock)
	t.Cleanup(store.stopTicker)
	return store, channel, clock
}

func envelope(t *testing.T, eventType protocol.EventType, payload interface{}) *protocol.Envelope {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		data = raw
	}
	return &protocol.Envelope{
		ID:        "e1",
		GameID:    "g1",
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func startQuestion(t *testing.T, s *Store, questionID string, totalMs int64) {
	t.Helper()
	s.Dispatch(envelope(t, protocol.EventTypeQuestionStart, protocol.QuestionStartPayload{
		Question: protocol.QuestionPayload{QuestionID: questionID, Text: "capital of France?", Points: 100},
		TotalMs:  totalMs,
	}))
}

func buzzEvent(t *testing.T, questionID, teamID string, latencyMs, seq int64) *protocol.Envelope {
	t.Helper()
	return envelope(t, protocol.EventTypeBuzzerPressed, protocol.BuzzerPressedPayload{
		QuestionID: questionID,
		Buzz:       protocol.BuzzPayload{TeamID: teamID, LatencyMs: latencyMs, Seq: seq},
	})
}

func TestStore_QuestionStartEntersActive(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)

	startQuestion(t, s, "q1", 30000)

	assert.Equal(t, PhaseQuestionActive, s.Phase())
	require.NotNil(t, s.Question())
	assert.Equal(t, "q1", s.Question().ID)
	assert.Equal(t, 30*time.Second, s.Timer().Remaining())
	assert.Equal(t, 0, s.Arbiter().Len())
}

func TestStore_BuzzEntersEvaluating(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)

	s.Dispatch(buzzEvent(t, "q1", "t1", 410, 1))

	assert.Equal(t, PhaseEvaluating, s.Phase())
	assert.Equal(t, 1, s.Arbiter().Len())
}

func TestStore_StaleQuestionEventIgnored(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q2", 30000)

	// Buzz for a question that is no longer current, e.g. delivered late
	// after a reconnect race.
	s.Dispatch(buzzEvent(t, "q1", "t1", 410, 1))

	assert.Equal(t, PhaseQuestionActive, s.Phase())
	assert.Equal(t, 0, s.Arbiter().Len())
}

func TestStore_IncorrectAnswerRemovesOnlyThatTeam(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 390, 1))
	s.Dispatch(buzzEvent(t, "q1", "t2", 410, 2))

	s.Dispatch(envelope(t, protocol.EventTypeAnswerEvaluated, protocol.AnswerEvaluatedPayload{
		QuestionID: "q1", TeamID: "t1", Correct: false,
	}))

	assert.Equal(t, PhaseEvaluating, s.Phase(), "phase unchanged so contenders stay queued")
	entries := s.Arbiter().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "t2", entries[0].TeamID)
	assert.Equal(t, 1, entries[0].Position)
	require.NotNil(t, s.Question())
}

func TestStore_CorrectAnswerResolvesToIdle(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	s.Directory().Rebuild([]protocol.TeamPayload{{ID: "t1", Name: "Red"}})
	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 390, 1))

	s.Dispatch(envelope(t, protocol.EventTypeAnswerEvaluated, protocol.AnswerEvaluatedPayload{
		QuestionID: "q1", TeamID: "t1", Correct: true, PointsDelta: 100,
	}))

	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Nil(t, s.Question())
	assert.Equal(t, 0, s.Arbiter().Len())
	assert.Equal(t, time.Duration(0), s.Timer().Remaining())

	team, ok := s.Directory().Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, 100, team.Score)
}

func TestStore_QuestionEndKeepsQueueVisible(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 390, 1))
	s.Dispatch(buzzEvent(t, "q1", "t2", 410, 2))

	s.Dispatch(envelope(t, protocol.EventTypeQuestionEnd, protocol.QuestionEndPayload{
		QuestionID: "q1",
	}))

	// The audience keeps seeing who buzzed while the host adjudicates.
	assert.Equal(t, PhaseTimeExpired, s.Phase())
	assert.Equal(t, 2, s.Arbiter().Len())
	require.NotNil(t, s.Question())
}

func TestStore_QuestionEndAppliesFinalOrder(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 400, 2))

	// Server's final order includes a buzz this client never received.
	s.Dispatch(envelope(t, protocol.EventTypeQuestionEnd, protocol.QuestionEndPayload{
		QuestionID: "q1",
		FinalOrder: []protocol.BuzzPayload{
			{TeamID: "t2", LatencyMs: 380, Seq: 1},
			{TeamID: "t1", LatencyMs: 400, Seq: 2},
		},
	}))

	entries := s.Arbiter().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "t2", entries[0].TeamID)
}

func TestStore_ResetFromAnyState(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 390, 1))

	s.Dispatch(envelope(t, protocol.EventTypeGameReset, nil))

	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Nil(t, s.Question())
	assert.Equal(t, 0, s.Arbiter().Len())
	assert.Equal(t, time.Duration(0), s.Timer().Remaining())
}

func TestStore_MalformedPayloadLeavesStateUntouched(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)

	env := &protocol.Envelope{
		ID:     "e2",
		GameID: "g1",
		Type:   protocol.EventTypeAnswerEvaluated,
		Data:   json.RawMessage(`{"team_id": 42}`),
	}
	s.Dispatch(env)

	assert.Equal(t, PhaseQuestionActive, s.Phase())
	require.NotNil(t, s.Question())
	assert.Equal(t, "q1", s.Question().ID)
}

func TestStore_TimerTickReanchors(t *testing.T) {
	s, _, clock := newTestStore(t, FlavorDisplay)
	startQuestion(t, s, "q1", 30000)
	clock.Advance(5 * time.Second)

	s.Dispatch(envelope(t, protocol.EventTypeTimerTick, protocol.TimerTickPayload{
		QuestionID: "q1", RemainingMs: 20000, TotalMs: 30000,
	}))

	assert.Equal(t, 20*time.Second, s.Timer().Remaining())

	// Tick for a stale question does not move the countdown.
	s.Dispatch(envelope(t, protocol.EventTypeTimerTick, protocol.TimerTickPayload{
		QuestionID: "q0", RemainingMs: 5000, TotalMs: 30000,
	}))
	assert.Equal(t, 20*time.Second, s.Timer().Remaining())
}

func TestStore_TeamsUpdatedRenameResolvesFresh(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	s.Dispatch(envelope(t, protocol.EventTypeTeamsUpdated, protocol.TeamsUpdatedPayload{
		Teams: []protocol.TeamPayload{{ID: "t1", Name: "Red"}},
	}))
	require.Equal(t, "Red", s.Directory().Resolve("t1"))

	s.Dispatch(envelope(t, protocol.EventTypeTeamsUpdated, protocol.TeamsUpdatedPayload{
		Teams: []protocol.TeamPayload{{ID: "t1", Name: "Crimson"}},
	}))

	startQuestion(t, s, "q1", 30000)
	s.Dispatch(buzzEvent(t, "q1", "t1", 390, 1))
	first, ok := s.Arbiter().First()
	require.True(t, ok)
	assert.Equal(t, "Crimson", s.Directory().Resolve(first.TeamID))
}

func TestStore_SnapshotForcesAnyPhase(t *testing.T) {
	s, _, _ := newTestStore(t, FlavorDisplay)
	require.Equal(t, PhaseIdle, s.Phase())

	s.ApplySnapshot(&protocol.GameStatePayload{
		GameID: "g1",
		Name:   "Friday Night Trivia",
		Phase:  string(PhaseTimeExpired),
		Question: &protocol.QuestionPayload{
			QuestionID: "q7", Text: "largest moon of Saturn?", TimeLimitSec: 30,
		},
		RemainingMs: 0,
		TotalMs:     30000,
		Teams:       []protocol.TeamPayload{{ID: "t1", Name: "Red"}},
		Buzzes:      []protocol.BuzzPayload{{TeamID: "t1", LatencyMs: 512, Seq: 1}},
	})

	assert.Equal(t, PhaseTimeExpired, s.Phase())
	require.NotNil(t, s.Question())
	assert.Equal(t, "q7", s.Question().ID)
	assert.Equal(t, "Friday Night Trivia", s.GameName())
	assert.Equal(t, 1, s.Arbiter().Len())
}

func TestStore_CommandGating(t *testing.T) {
	display, displayCh, _ := newTestStore(t, FlavorDisplay)
	assert.ErrorIs(t, display.PressBuzzer(), ErrNotPermitted)
	assert.ErrorIs(t, display.JoinGame("g2"), ErrNotPermitted)
	assert.Empty(t, displayCh.sentCommands())

	buzzerDev, buzzerCh, _ := newTestStore(t, FlavorBuzzer)
	assert.ErrorIs(t, buzzerDev.PressBuzzer(), ErrNotArmed, "no question armed yet")

	startQuestion(t, buzzerDev, "q1", 30000)
	require.NoError(t, buzzerDev.PressBuzzer())

	sent := buzzerCh.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.CommandBuzzerPress, sent[0].Event)
	press, ok := sent[0].Payload.(protocol.BuzzerPressPayload)
	require.True(t, ok)
	assert.Equal(t, "t1", press.TeamID)
	assert.NotEmpty(t, press.PressID)
}

func TestStore_AdminMaySwitchGames(t *testing.T) {
	admin, ch, _ := newTestStore(t, FlavorAdmin)
	require.NoError(t, admin.JoinGame("g2"))

	assert.Equal(t, "g2", admin.GameID())
	sent := ch.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.CommandJoinGame, sent[0].Event)
}

func TestStore_CountdownFlowsOnlyWhileQuestionActive(t *testing.T) {
	s, _, clock := newTestStore(t, FlavorDisplay)
	snaps := s.CountdownSnapshots()
	require.NotNil(t, snaps, "snapshot channel is stable from construction")

	startQuestion(t, s, "q1", 30000)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(20 * time.Millisecond)

	select {
	case snap := <-snaps:
		assert.Equal(t, 30*time.Second, snap.Total)
		assert.LessOrEqual(t, snap.Remaining, snap.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("no countdown reading while question active")
	}

	// Leaving question-active waits for the ticker run to exit, so once the
	// reset is applied no further reading can arrive.
	s.Dispatch(envelope(t, protocol.EventTypeGameReset, nil))
	for {
		select {
		case <-snaps:
			continue
		default:
		}
		break
	}
	clock.Advance(time.Second)
	select {
	case snap := <-snaps:
		t.Fatalf("countdown reading after reset: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/buzzer"
	"github.com/buzzdeck/buzzdeck/internal/countdown"
	"github.com/buzzdeck/buzzdeck/internal/protocol"
	"github.com/buzzdeck/buzzdeck/internal/roster"
	"github.com/buzzdeck/buzzdeck/internal/transport"
)

// Phase is one state of the game state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseQuestionActive Phase = "question-active"
	PhaseTimeExpired    Phase = "time-expired"
	PhaseEvaluating     Phase = "evaluating"
)

// ParsePhase maps a snapshot's phase string onto a known phase. Unknown
// strings collapse to idle so a snapshot can never wedge the machine.
func ParsePhase(s string) Phase {
	switch Phase(s) {
	case PhaseQuestionActive, PhaseTimeExpired, PhaseEvaluating, PhaseIdle:
		return Phase(s)
	default:
		return PhaseIdle
	}
}

// Question is the prompt currently tracked by the store.
type Question struct {
	ID        string
	Text      string
	MediaURL  string
	TimeLimit time.Duration
	Points    int
}

// Errors returned by outbound command methods.
var (
	ErrNotPermitted = errors.New("command not permitted for this client flavor")
	ErrNotArmed     = errors.New("buzzing is only accepted while a question is active")
)

// Config holds construction parameters for the store.
type Config struct {
	GameID       string
	Flavor       Flavor
	Caps         Capabilities
	TeamID       string // team this device buzzes for, buzzer flavor only
	BuzzerAlias  string // hardware alias registered alongside TeamID
	TickInterval time.Duration
}

// Snapshotter pulls a full authoritative game state, used to converge after
// (re)connects. api.Client satisfies this.
type Snapshotter interface {
	GetGameState(ctx context.Context, gameID string) (*protocol.GameStatePayload, error)
}

// Store is the single source of truth every other component reads from. It
// consumes all inbound events on one goroutine, owns the session, current
// question, phase and roster, and derives the buzzer queue and countdown
// through their owning components. Mutations are all-or-nothing: a payload is
// fully parsed before any state is touched.
type Store struct {
	config  Config
	channel transport.Channel
	clock   clockwork.Clock

	directory *roster.Directory
	arbiter   *buzzer.Arbiter
	timer     *countdown.Engine

	recovery *recovery

	mu       sync.Mutex
	phase    Phase
	gameName string
	question *Question

	// tickCancel stops the countdown ticker run; cancelled on every exit from
	// question-active so a late tick cannot repaint a newer phase. tickDone
	// closes when the run has actually exited.
	tickCancel context.CancelFunc
	tickDone   chan struct{}
	ticker     *countdown.Ticker

	updates chan struct{}
}

// NewStore wires the store with its owned components.
func NewStore(config Config, channel transport.Channel, snapshots Snapshotter, clock clockwork.Clock) *Store {
	directory := roster.NewDirectory()
	s := &Store{
		config:    config,
		channel:   channel,
		clock:     clock,
		directory: directory,
		arbiter:   buzzer.NewArbiter(directory.CanonicalID),
		timer:     countdown.NewEngine(clock),
		phase:     PhaseIdle,
		updates:   make(chan struct{}, 1),
	}
	s.ticker = countdown.NewTicker(s.timer, clock, config.TickInterval)
	s.recovery = newRecovery(s, snapshots)
	return s
}

// Directory exposes the roster for display consumers.
func (s *Store) Directory() *roster.Directory { return s.directory }

// Arbiter exposes the buzzer queue for display consumers.
func (s *Store) Arbiter() *buzzer.Arbiter { return s.arbiter }

// Timer exposes the countdown engine for display consumers.
func (s *Store) Timer() *countdown.Engine { return s.timer }

// GameID returns the game this client is joined to.
func (s *Store) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.GameID
}

// Phase returns the current phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// GameName returns the session's display name from the latest snapshot.
func (s *Store) GameName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameName
}

// Question returns the currently tracked question, nil while idle.
func (s *Store) Question() *Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return nil
	}
	q := *s.question
	return &q
}

// Updates signals after every applied mutation; consumers coalesce reads.
func (s *Store) Updates() <-chan struct{} { return s.updates }

// CountdownSnapshots exposes the ticker's display readings. The channel is
// stable for the store's lifetime; snapshots flow only while a question
// countdown is running.
func (s *Store) CountdownSnapshots() <-chan countdown.Snapshot {
	return s.ticker.Snapshots()
}

// Run connects the channel and processes the inbound stream until the context
// is cancelled. All state mutation happens on this goroutine.
func (s *Store) Run(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.stopTicker()
			return ctx.Err()
		case in, ok := <-s.channel.Inbound():
			if !ok {
				s.stopTicker()
				return nil
			}
			if in.Status != nil {
				s.recovery.handleStatus(ctx, *in.Status)
				continue
			}
			if in.Event == nil {
				continue
			}
			if s.recovery.buffer(in.Event) {
				continue
			}
			s.Dispatch(in.Event)
		case result := <-s.recovery.results:
			s.recovery.finish(ctx, result)
		}
	}
}

// Dispatch applies one server event. Malformed payloads and events for a
// question other than the tracked one are logged and dropped; the stream is
// self-correcting through snapshots, so neither is surfaced as an error.
func (s *Store) Dispatch(env *protocol.Envelope) {
	payload, err := protocol.ParsePayload(env)
	if err != nil {
		log.Warn().
			Err(err).
			Str("event_id", env.ID).
			Str("event_type", string(env.Type)).
			Msg("dropping malformed event")
		return
	}

	switch p := payload.(type) {
	case protocol.GameStatePayload:
		s.ApplySnapshot(&p)
	case protocol.QuestionStartPayload:
		s.applyQuestionStart(p)
	case protocol.QuestionEndPayload:
		s.applyQuestionEnd(p)
	case protocol.BuzzerPressedPayload:
		s.applyBuzzerPressed(p)
	case protocol.AnswerEvaluatedPayload:
		s.applyAnswerEvaluated(p)
	case protocol.TeamsUpdatedPayload:
		s.directory.Rebuild(p.Teams)
		s.notify()
	case protocol.TimerTickPayload:
		s.applyTimerTick(p)
	case nil:
		if env.Type == protocol.EventTypeGameReset {
			s.applyReset()
		}
	default:
		log.Warn().Str("event_type", string(env.Type)).Msg("unhandled event type")
	}
}

// CurrentQuestionID returns the tracked question id, empty while idle.
func (s *Store) CurrentQuestionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return ""
	}
	return s.question.ID
}

// staleQuestion reports whether an event's question id mismatches the tracked
// one. Stale events happen when the network reorders deliveries around a
// reconnect; applying them would corrupt newer state.
func (s *Store) staleQuestion(eventType protocol.EventType, questionID string) bool {
	current := s.CurrentQuestionID()
	if questionID == current {
		return false
	}
	log.Warn().
		Str("event_type", string(eventType)).
		Str("event_question_id", questionID).
		Str("current_question_id", current).
		Msg("ignoring event for stale question")
	return true
}

func (s *Store) applyQuestionStart(p protocol.QuestionStartPayload) {
	total := time.Duration(p.TotalMs) * time.Millisecond
	if total <= 0 {
		total = time.Duration(p.Question.TimeLimitSec) * time.Second
	}
	if total <= 0 {
		log.Warn().Str("question_id", p.Question.QuestionID).Msg("question start without a time limit, dropped")
		return
	}

	s.mu.Lock()
	s.question = &Question{
		ID:        p.Question.QuestionID,
		Text:      p.Question.Text,
		MediaURL:  p.Question.MediaURL,
		TimeLimit: total,
		Points:    p.Question.Points,
	}
	s.phase = PhaseQuestionActive
	s.mu.Unlock()

	s.arbiter.Clear()
	s.timer.Anchor(total, total)
	s.startTicker()

	log.Info().
		Str("question_id", p.Question.QuestionID).
		Dur("total", total).
		Msg("question active")
	s.notify()
}

func (s *Store) applyQuestionEnd(p protocol.QuestionEndPayload) {
	if s.staleQuestion(protocol.EventTypeQuestionEnd, p.QuestionID) {
		return
	}

	// Question and queue stay visible while the host adjudicates; only the
	// local countdown stops.
	s.stopTicker()
	s.timer.Anchor(0, s.timer.Total())
	if len(p.FinalOrder) > 0 {
		s.arbiter.Replace(p.FinalOrder)
	}

	s.mu.Lock()
	s.phase = PhaseTimeExpired
	s.mu.Unlock()

	log.Info().Str("question_id", p.QuestionID).Int("buzzes", s.arbiter.Len()).Msg("question time expired")
	s.notify()
}

func (s *Store) applyBuzzerPressed(p protocol.BuzzerPressedPayload) {
	if s.staleQuestion(protocol.EventTypeBuzzerPressed, p.QuestionID) {
		return
	}

	if !s.arbiter.Record(p.Buzz) {
		return
	}

	// First live buzz puts the host on the clock.
	s.mu.Lock()
	if s.phase == PhaseQuestionActive {
		s.phase = PhaseEvaluating
	}
	s.mu.Unlock()

	log.Info().
		Str("team", s.directory.Resolve(p.Buzz.TeamID)).
		Int64("latency_ms", p.Buzz.LatencyMs).
		Msg("buzz recorded")
	s.notify()
}

func (s *Store) applyAnswerEvaluated(p protocol.AnswerEvaluatedPayload) {
	if s.staleQuestion(protocol.EventTypeAnswerEvaluated, p.QuestionID) {
		return
	}

	// Scores move only on server-confirmed rulings, never locally predicted.
	if p.PointsDelta != 0 {
		s.directory.AdjustScore(s.directory.CanonicalID(p.TeamID), p.PointsDelta)
	}

	if p.Correct {
		s.stopTicker()
		s.arbiter.Clear()
		s.timer.Reset()
		s.mu.Lock()
		s.question = nil
		s.phase = PhaseIdle
		s.mu.Unlock()
		log.Info().Str("team", s.directory.Resolve(p.TeamID)).Msg("correct answer, question resolved")
	} else {
		// Remaining contenders stay queued; phase is unchanged.
		s.arbiter.Remove(p.TeamID)
		log.Info().Str("team", s.directory.Resolve(p.TeamID)).Msg("incorrect answer, removed from queue")
	}
	s.notify()
}

func (s *Store) applyTimerTick(p protocol.TimerTickPayload) {
	if s.staleQuestion(protocol.EventTypeTimerTick, p.QuestionID) {
		return
	}
	remaining := time.Duration(p.RemainingMs) * time.Millisecond
	total := time.Duration(p.TotalMs) * time.Millisecond
	if total <= 0 {
		total = s.timer.Total()
	}
	s.timer.Anchor(remaining, total)
}

func (s *Store) applyReset() {
	s.stopTicker()
	s.arbiter.Clear()
	s.timer.Reset()
	s.mu.Lock()
	s.question = nil
	s.phase = PhaseIdle
	s.mu.Unlock()
	log.Info().Msg("game reset")
	s.notify()
}

// ApplySnapshot force-applies a full authoritative state, bypassing the
// normal transition edges. A snapshot is ground truth, not an incremental
// event, so it may move the machine to any phase directly.
func (s *Store) ApplySnapshot(p *protocol.GameStatePayload) {
	s.stopTicker()

	if len(p.Teams) > 0 {
		s.directory.Rebuild(p.Teams)
	}

	var question *Question
	if p.Question != nil {
		total := time.Duration(p.TotalMs) * time.Millisecond
		if total <= 0 {
			total = time.Duration(p.Question.TimeLimitSec) * time.Second
		}
		question = &Question{
			ID:        p.Question.QuestionID,
			Text:      p.Question.Text,
			MediaURL:  p.Question.MediaURL,
			TimeLimit: total,
			Points:    p.Question.Points,
		}
	}

	phase := ParsePhase(p.Phase)

	s.mu.Lock()
	s.gameName = p.Name
	s.question = question
	s.phase = phase
	s.mu.Unlock()

	s.arbiter.Replace(p.Buzzes)

	if question != nil && phase != PhaseIdle {
		remaining := time.Duration(p.RemainingMs) * time.Millisecond
		s.timer.Anchor(remaining, question.TimeLimit)
		if phase == PhaseQuestionActive || phase == PhaseEvaluating {
			s.startTicker()
		}
	} else {
		s.timer.Reset()
	}

	log.Info().
		Str("game_id", p.GameID).
		Str("phase", string(phase)).
		Int("teams", len(p.Teams)).
		Int("buzzes", len(p.Buzzes)).
		Msg("snapshot applied")
	s.notify()
}

// startTicker restarts the countdown ticker run for a fresh question.
func (s *Store) startTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.tickCancel = cancel
	s.tickDone = done
	go func() {
		s.ticker.Run(ctx)
		close(done)
	}()
}

// stopTicker cancels the countdown ticker run if one is active.
func (s *Store) stopTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
}

// stopTickerLocked cancels the run and waits for it to exit, so no late tick
// can land after a phase transition. Caller holds s.mu.
func (s *Store) stopTickerLocked() {
	if s.tickCancel == nil {
		return
	}
	s.tickCancel()
	<-s.tickDone
	s.tickCancel = nil
	s.tickDone = nil
}

// notify wakes update consumers without blocking the event loop.
func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Join subscribes this client to its configured game.
func (s *Store) Join() error {
	return s.channel.Send(protocol.CommandJoinGame, protocol.JoinGamePayload{
		GameID: s.GameID(),
		Flavor: string(s.config.Flavor),
	})
}

// JoinGame subscribes to a different game; only flavors with the SelectGame
// capability (the host surface) may switch games.
func (s *Store) JoinGame(gameID string) error {
	if !s.config.Caps.SelectGame {
		return ErrNotPermitted
	}
	s.mu.Lock()
	s.config.GameID = gameID
	s.mu.Unlock()
	return s.channel.Send(protocol.CommandJoinGame, protocol.JoinGamePayload{
		GameID: gameID,
		Flavor: string(s.config.Flavor),
	})
}

// PressBuzzer reports a local buzz. Accepted only from flavors with the Buzz
// capability and only while a question is armed; the server remains the sole
// judge of the resulting order.
func (s *Store) PressBuzzer() error {
	if !s.config.Caps.Buzz {
		return ErrNotPermitted
	}
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase != PhaseQuestionActive && phase != PhaseEvaluating {
		return ErrNotArmed
	}
	return s.channel.Send(protocol.CommandBuzzerPress, protocol.BuzzerPressPayload{
		PressID:    uuid.New().String(),
		TeamID:     s.config.TeamID,
		ClientTime: s.clock.Now(),
	})
}

// RegisterBuzzer registers this device as a virtual buzzer for its team.
func (s *Store) RegisterBuzzer() error {
	if !s.config.Caps.RegisterBuzzer {
		return ErrNotPermitted
	}
	return s.channel.Send(protocol.CommandRegisterBuzzer, protocol.RegisterBuzzerPayload{
		TeamID:        s.config.TeamID,
		HardwareAlias: s.config.BuzzerAlias,
	})
}

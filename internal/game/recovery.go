package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
	"github.com/buzzdeck/buzzdeck/internal/transport"
)

// recoveryFetchRetry is how long to wait before retrying a failed snapshot
// fetch while the transport still reports connected.
const recoveryFetchRetry = 2 * time.Second

// maxBufferedEvents bounds the replay buffer while a snapshot fetch is in
// flight; beyond it the oldest events are dropped, which is safe because the
// snapshot supersedes them anyway.
const maxBufferedEvents = 512

type snapshotResult struct {
	state *protocol.GameStatePayload
}

// recovery converges the store after (re)connects. On every connected edge it
// pulls a full snapshot; events arriving before the fetch resolves are
// buffered and replayed only when their implied question id matches the
// post-snapshot question, so pre-reconnect stale events never land on top of
// newer ground truth. All fields except results are touched only on the
// store's event loop goroutine.
type recovery struct {
	store     *Store
	snapshots Snapshotter

	results chan snapshotResult

	fetching    bool
	fetchCancel context.CancelFunc
	buffered    []*protocol.Envelope
}

func newRecovery(store *Store, snapshots Snapshotter) *recovery {
	return &recovery{
		store:     store,
		snapshots: snapshots,
		results:   make(chan snapshotResult, 1),
	}
}

// handleStatus reacts to transport connectivity transitions.
func (r *recovery) handleStatus(ctx context.Context, sc transport.StatusChange) {
	switch sc.Status {
	case transport.StatusConnected:
		log.Info().Msg("transport connected, pulling full state")
		if err := r.store.Join(); err != nil {
			log.Warn().Err(err).Msg("failed to send join command")
		}
		if r.store.config.Caps.RegisterBuzzer && r.store.config.TeamID != "" {
			if err := r.store.RegisterBuzzer(); err != nil {
				log.Warn().Err(err).Msg("failed to re-register virtual buzzer")
			}
		}
		r.beginFetch(ctx)

	case transport.StatusDisconnected, transport.StatusReconnecting:
		// A fetch started on the previous session would return state the
		// server may since have advanced past; abandon it and its buffer.
		if r.fetching {
			r.abortFetch()
			log.Warn().Str("status", string(sc.Status)).Msg("snapshot fetch abandoned")
		}
	}
}

// beginFetch starts a snapshot pull, replacing any in-flight one.
func (r *recovery) beginFetch(ctx context.Context) {
	if r.fetching {
		r.abortFetch()
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	r.fetching = true
	r.fetchCancel = cancel
	r.buffered = nil

	gameID := r.store.GameID()
	go func() {
		for {
			state, err := r.snapshots.GetGameState(fetchCtx, gameID)
			if err == nil {
				select {
				case r.results <- snapshotResult{state: state}:
				case <-fetchCtx.Done():
				}
				return
			}
			if fetchCtx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("game_id", gameID).Msg("snapshot fetch failed, retrying")
			select {
			case <-fetchCtx.Done():
				return
			case <-time.After(recoveryFetchRetry):
			}
		}
	}()
}

func (r *recovery) abortFetch() {
	if r.fetchCancel != nil {
		r.fetchCancel()
		r.fetchCancel = nil
	}
	r.fetching = false
	r.buffered = nil
	// Drain a result that raced with the cancellation.
	select {
	case <-r.results:
	default:
	}
}

// buffer holds an event back while a fetch is in flight. Returns true when
// the event was buffered and must not be dispatched now.
func (r *recovery) buffer(env *protocol.Envelope) bool {
	if !r.fetching {
		return false
	}
	if len(r.buffered) >= maxBufferedEvents {
		r.buffered = r.buffered[1:]
	}
	r.buffered = append(r.buffered, env)
	return true
}

// finish applies the fetched snapshot as forced ground truth, then replays
// buffered events that still refer to the post-snapshot question.
func (r *recovery) finish(ctx context.Context, result snapshotResult) {
	if !r.fetching {
		return // stale result from an aborted fetch
	}
	buffered := r.buffered
	r.fetching = false
	r.fetchCancel = nil
	r.buffered = nil

	r.store.ApplySnapshot(result.state)

	currentQuestion := r.store.CurrentQuestionID()
	replayed, dropped := 0, 0
	for _, env := range buffered {
		qid, scoped := impliedQuestionID(env)
		if scoped && qid != currentQuestion {
			dropped++
			continue
		}
		r.store.Dispatch(env)
		replayed++
	}

	if len(buffered) > 0 {
		log.Info().
			Int("replayed", replayed).
			Int("dropped", dropped).
			Str("question_id", currentQuestion).
			Msg("buffered events reconciled after snapshot")
	}
}

// impliedQuestionID extracts the question id an event refers to. Events that
// are not scoped to a question (roster updates, resets, snapshots) report
// scoped=false and are always safe to replay.
func impliedQuestionID(env *protocol.Envelope) (id string, scoped bool) {
	var probe struct {
		QuestionID string `json:"question_id"`
		Question   *struct {
			QuestionID string `json:"question_id"`
		} `json:"question"`
	}

	switch env.Type {
	case protocol.EventTypeQuestionStart:
		if err := json.Unmarshal(env.Data, &probe); err == nil && probe.Question != nil {
			return probe.Question.QuestionID, true
		}
		return "", true
	case protocol.EventTypeQuestionEnd, protocol.EventTypeBuzzerPressed,
		protocol.EventTypeAnswerEvaluated, protocol.EventTypeTimerTick:
		if err := json.Unmarshal(env.Data, &probe); err == nil {
			return probe.QuestionID, true
		}
		return "", true
	default:
		return "", false
	}
}

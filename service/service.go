package service

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whoisai/backend/model"
	"github.com/whoisai/backend/storage/memory"
)

const (
	roomIDLength      = 8
	maxCreateAttempts = 5
)

var (
	ErrCreate      = errors.New("unable to create room")
	ErrJoin        = errors.New("unable to join room")
	ErrStartRound  = errors.New("unable to start round")
	ErrSubmit      = errors.New("unable to record submission")
	ErrAIAnswers   = errors.New("unable to generate ai answers")
	ErrConnect     = errors.New("unable to connect session")
	ErrIDExhausted = errors.New("room id space looks exhausted")
)

type (
	// RoomStore owns per-room gameplay state. All mutating calls for one
	// room are serialized by the store.
	RoomStore interface {
		CreateRoom(roomID string) error
		AddPlayer(roomID string, p model.Player) (model.Snapshot, error)
		Snapshot(roomID string) (model.Snapshot, error)
		StartRound(roomID, question string) (round int, players []string, err error)
		SubmitAnswer(roomID, playerID, answer string) error
		SubmitVote(roomID, voterID, targetID string) (model.Tally, error)
		GenerateAIAnswers(roomID string, pool []string) ([]model.AIAnswer, error)
		MarkActive(roomID string)
		MarkIdle(roomID string)
	}

	// Registry delivers events to the sessions attached to a room.
	Registry interface {
		Connect(roomID, sessionID string, wire model.Wire)
		Disconnect(roomID, sessionID string) (remaining int)
		Broadcast(ctx context.Context, roomID string, ev model.Event)
	}

	Service struct {
		store  RoomStore
		reg    Registry
		logger zerolog.Logger
	}

	Config struct {
		Store    RoomStore
		Registry Registry
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.Store,
		reg:    cfg.Registry,
		logger: cfg.Logger.With().Str("component", "game").Logger(),
	}
}

// CreateRoom allocates a fresh room id and immediately starts round 1.
// Room ids are the first 8 hex characters of a v4 UUID; on the off chance
// of a collision with a live room the allocation is retried.
func (svc *Service) CreateRoom(ctx context.Context) (string, string, error) {
	var roomID string
	for i := 0; ; i++ {
		roomID = uuid.NewString()[:roomIDLength]
		err := svc.store.CreateRoom(roomID)
		if err == nil {
			break
		}
		if !errors.Is(err, memory.ErrRoomExists) {
			return "", "", errors.Join(ErrCreate, err)
		}
		if i == maxCreateAttempts-1 {
			return "", "", errors.Join(ErrCreate, ErrIDExhausted)
		}
	}

	question, err := svc.StartRound(ctx, roomID)
	if err != nil {
		return "", "", err
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Msg("room created")
	return roomID, question, nil
}

// StartRound picks a prompt, resets the room's answers and votes, and
// broadcasts the new question with the current roster.
func (svc *Service) StartRound(ctx context.Context, roomID string) (string, error) {
	question := prompts[rand.IntN(len(prompts))]
	round, players, err := svc.store.StartRound(roomID, question)
	if err != nil {
		return "", errors.Join(ErrStartRound, err)
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Int("round", round).
		Msg("round started")
	svc.reg.Broadcast(ctx, roomID, model.NewQuestionEvent(question, players, round))
	return question, nil
}

// JoinRoom upserts the player into the roster and returns a state snapshot
// so the caller can resynchronize without waiting for the next broadcast.
func (svc *Service) JoinRoom(_ context.Context, roomID string, p model.Player) (model.Snapshot, error) {
	snap, err := svc.store.AddPlayer(roomID, p)
	if err != nil {
		return model.Snapshot{}, errors.Join(ErrJoin, err)
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("playerID", p.ID).
		Msg("player joined room")
	return snap, nil
}

// Snapshot returns the room's current state without mutating anything.
func (svc *Service) Snapshot(_ context.Context, roomID string) (model.Snapshot, error) {
	return svc.store.Snapshot(roomID)
}

// SubmitAnswer records the answer (last write wins within a round) and
// broadcasts it. The answer text is echoed to all clients on submission.
func (svc *Service) SubmitAnswer(ctx context.Context, roomID, playerID, answer string) error {
	if err := svc.store.SubmitAnswer(roomID, playerID, answer); err != nil {
		return errors.Join(ErrSubmit, err)
	}
	svc.reg.Broadcast(ctx, roomID, model.AnswerReceivedEvent(playerID, answer))
	return nil
}

// SubmitVote records the vote, then broadcasts the vote itself followed by
// the recomputed plurality leader.
func (svc *Service) SubmitVote(ctx context.Context, roomID, voterID, targetID string) error {
	tally, err := svc.store.SubmitVote(roomID, voterID, targetID)
	if err != nil {
		return errors.Join(ErrSubmit, err)
	}
	svc.reg.Broadcast(ctx, roomID, model.VoteSubmittedEvent(voterID, targetID))
	svc.reg.Broadcast(ctx, roomID, model.EliminationEvent(tally.Eliminated, tally.WasAI))
	return nil
}

// GenerateAIAnswers records a canned answer for every AI roster entry and
// broadcasts each one through the same event as a human submission.
func (svc *Service) GenerateAIAnswers(ctx context.Context, roomID string) ([]model.AIAnswer, error) {
	answers, err := svc.store.GenerateAIAnswers(roomID, aiResponses)
	if err != nil {
		return nil, errors.Join(ErrAIAnswers, err)
	}
	for _, a := range answers {
		svc.reg.Broadcast(ctx, roomID, model.AnswerReceivedEvent(a.PlayerID, a.Text))
	}
	return answers, nil
}

// CreateSession joins the player (idempotently), attaches the wire to the
// room and pushes the current state to the fresh session, then starts the
// inbound dispatch loop. The room must already exist.
//
// The registry is keyed by sessionID, not playerID: one player may hold
// several live sockets, and each one receives fan-out independently.
func (svc *Service) CreateSession(ctx context.Context, roomID, playerID, sessionID string, wire model.Wire) error {
	snap, err := svc.store.AddPlayer(roomID, model.Player{ID: playerID, Name: playerID})
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	svc.reg.Connect(roomID, sessionID, wire)
	svc.store.MarkActive(roomID)
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Str("sessionID", sessionID).
		Msg("session connected")

	select {
	case wire.TX <- model.NewQuestionEvent(snap.Question, snap.Players, snap.Round):
	case <-ctx.Done():
	}

	go svc.dispatch(ctx, roomID, playerID, wire.RX)
	return nil
}

// DeleteSession detaches one wire. Other sessions of the same player stay
// registered. When the last session leaves, the room starts its
// idle-expiry clock.
func (svc *Service) DeleteSession(_ context.Context, roomID, sessionID string) {
	if remaining := svc.reg.Disconnect(roomID, sessionID); remaining == 0 {
		svc.store.MarkIdle(roomID)
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("sessionID", sessionID).
		Msg("session deleted")
}

// dispatch consumes one session's inbound actions. Invalid or unknown
// actions are ignored; operation failures are logged and never end the
// loop. Only ctx cancellation terminates it.
func (svc *Service) dispatch(ctx context.Context, roomID, playerID string, rx <-chan model.Action) {
	logger := svc.logger.With().
		Str("roomID", roomID).
		Str("playerID", playerID).
		Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case act := <-rx:
			if err := act.Validate(); err != nil {
				logger.Debug().Err(err).Msg("ignoring invalid action")
				continue
			}
			var err error
			switch act.Action {
			case model.ActionSubmitAnswer:
				err = svc.SubmitAnswer(ctx, roomID, playerID, act.Answer)
			case model.ActionSubmitVote:
				err = svc.SubmitVote(ctx, roomID, playerID, act.Target)
			}
			if err != nil {
				logger.Warn().Err(err).Str("action", act.Action).Msg("action failed")
			}
		}
	}
}

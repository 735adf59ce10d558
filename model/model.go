package model

import (
	"errors"
	"fmt"
)

// Player is a roster entry within one room.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	IsAI bool   `json:"is_ai,omitempty"`
}

// Snapshot is the resync view handed to a joining client, so it can catch
// up without waiting for the next broadcast.
type Snapshot struct {
	RoomID   string   `json:"room_id"`
	Question string   `json:"question"`
	Players  []string `json:"players"`
	Round    int      `json:"round"`
}

// Tally is the recomputed vote standing after a vote is recorded.
type Tally struct {
	Eliminated string
	WasAI      bool
	Counts     map[string]int
}

// AIAnswer is one synthesized answer recorded for an AI roster entry.
type AIAnswer struct {
	PlayerID string `json:"player"`
	Text     string `json:"answer"`
}

// Event types sent by server.
const (
	EventNewQuestion    = "new_question"
	EventAnswerReceived = "answer_received"
	EventVoteSubmitted  = "vote_submitted"
	EventElimination    = "elimination"
)

// Event is an outbound room broadcast, discriminated by Type.
type Event struct {
	Type       string   `json:"type"`
	Question   string   `json:"question,omitempty"`
	Players    []string `json:"players,omitempty"`
	Round      int      `json:"round,omitempty"`
	Player     string   `json:"player,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Voter      string   `json:"voter,omitempty"`
	Target     string   `json:"target,omitempty"`
	Eliminated string   `json:"eliminated,omitempty"`
	WasAI      bool     `json:"was_ai,omitempty"`
}

func NewQuestionEvent(question string, players []string, round int) Event {
	return Event{
		Type:     EventNewQuestion,
		Question: question,
		Players:  players,
		Round:    round,
	}
}

func AnswerReceivedEvent(player, answer string) Event {
	return Event{
		Type:   EventAnswerReceived,
		Player: player,
		Answer: answer,
	}
}

func VoteSubmittedEvent(voter, target string) Event {
	return Event{
		Type:   EventVoteSubmitted,
		Voter:  voter,
		Target: target,
	}
}

func EliminationEvent(eliminated string, wasAI bool) Event {
	return Event{
		Type:       EventElimination,
		Eliminated: eliminated,
		WasAI:      wasAI,
	}
}

// Action types accepted from clients.
const (
	ActionSubmitAnswer = "submit_answer"
	ActionSubmitVote   = "submit_vote"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingField  = errors.New("missing required field")
)

// Action is an inbound client message, discriminated by Action.
type Action struct {
	Action string `json:"action"`
	Answer string `json:"answer,omitempty"`
	Target string `json:"target,omitempty"`
}

// Validate checks the discriminator and the fields it requires. Boundaries
// treat any validation failure as "ignore the message", never as a session
// fault.
func (a Action) Validate() error {
	switch a.Action {
	case ActionSubmitAnswer:
		if a.Answer == "" {
			return fmt.Errorf("%w: answer", ErrMissingField)
		}
	case ActionSubmitVote:
		if a.Target == "" {
			return fmt.Errorf("%w: target", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
	}
	return nil
}

const defaultEventBacklog = 32

type Wire struct {
	RX chan Action
	TX chan Event
}

// NewWire builds the channel pair for one session. TX is buffered so a
// briefly slow reader does not hold up the room's broadcast loop.
func NewWire() Wire {
	return Wire{
		RX: make(chan Action),
		TX: make(chan Event, defaultEventBacklog),
	}
}

package memory

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whoisai/backend/model"
)

var (
	ErrRoomNotFound   = errors.New("room is not found")
	ErrRoomExists     = errors.New("room already exists")
	ErrPlayerNotFound = errors.New("player is not in the room")
)

// roomState holds one room's gameplay state. Roster and vote order are
// kept alongside the maps because snapshots and tally tie-breaks depend
// on insertion order.
type roomState struct {
	mx         sync.Mutex
	question   string
	round      int
	players    map[string]model.Player
	roster     []string
	answers    map[string]string
	votes      map[string]string
	voteOrder  []string
	emptySince time.Time
}

// Store keeps all room state in process memory. The outer lock guards the
// room map only; each room carries its own lock, so operations on
// different rooms do not serialize against each other.
type Store struct {
	mx     sync.RWMutex
	rooms  map[string]*roomState
	logger zerolog.Logger
}

func NewStore(logger *zerolog.Logger) *Store {
	return &Store{
		rooms:  make(map[string]*roomState),
		logger: logger.With().Str("component", "store").Logger(),
	}
}

func (s *Store) CreateRoom(roomID string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if _, ok := s.rooms[roomID]; ok {
		return ErrRoomExists
	}
	s.rooms[roomID] = &roomState{
		players: make(map[string]model.Player),
		answers: make(map[string]string),
		votes:   make(map[string]string),
		// expires like any other idle room until a session attaches
		emptySince: time.Now(),
	}
	return nil
}

func (s *Store) get(roomID string) (*roomState, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// AddPlayer upserts a roster entry. Re-joining with the same id overwrites
// the record but keeps its original roster position.
func (s *Store) AddPlayer(roomID string, p model.Player) (model.Snapshot, error) {
	r, err := s.get(roomID)
	if err != nil {
		return model.Snapshot{}, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.players[p.ID]; !ok {
		r.roster = append(r.roster, p.ID)
	}
	r.players[p.ID] = p
	return r.snapshot(roomID), nil
}

func (s *Store) Snapshot(roomID string) (model.Snapshot, error) {
	r, err := s.get(roomID)
	if err != nil {
		return model.Snapshot{}, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	return r.snapshot(roomID), nil
}

// snapshot must be called with the room lock held.
func (r *roomState) snapshot(roomID string) model.Snapshot {
	players := make([]string, len(r.roster))
	copy(players, r.roster)
	return model.Snapshot{
		RoomID:   roomID,
		Question: r.question,
		Players:  players,
		Round:    r.round,
	}
}

// StartRound posts a new question and resets the round-scoped state.
// Returns the new round number and the roster at the moment of the reset.
func (s *Store) StartRound(roomID, question string) (int, []string, error) {
	r, err := s.get(roomID)
	if err != nil {
		return 0, nil, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	r.question = question
	r.round++
	r.answers = make(map[string]string)
	r.votes = make(map[string]string)
	r.voteOrder = nil

	players := make([]string, len(r.roster))
	copy(players, r.roster)
	return r.round, players, nil
}

// SubmitAnswer records an answer with last-write-wins semantics within the
// round. Unknown players are rejected rather than recorded as ghosts.
func (s *Store) SubmitAnswer(roomID, playerID, answer string) error {
	r, err := s.get(roomID)
	if err != nil {
		return err
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	r.answers[playerID] = answer
	return nil
}

// SubmitVote records a vote (overwrite semantics, the voter keeps its
// original tally position on a re-vote) and returns the recomputed
// standing.
func (s *Store) SubmitVote(roomID, voterID, targetID string) (model.Tally, error) {
	r, err := s.get(roomID)
	if err != nil {
		return model.Tally{}, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.players[voterID]; !ok {
		return model.Tally{}, ErrPlayerNotFound
	}
	if _, ok := r.players[targetID]; !ok {
		return model.Tally{}, ErrPlayerNotFound
	}
	if _, ok := r.votes[voterID]; !ok {
		r.voteOrder = append(r.voteOrder, voterID)
	}
	r.votes[voterID] = targetID
	return r.tally(), nil
}

// tally computes the plurality leader. Ties break toward the candidate
// that first received a vote this round. Must be called with the room
// lock held.
func (r *roomState) tally() model.Tally {
	counts := make(map[string]int, len(r.votes))
	var firstSeen []string
	for _, voter := range r.voteOrder {
		target := r.votes[voter]
		if _, ok := counts[target]; !ok {
			firstSeen = append(firstSeen, target)
		}
		counts[target]++
	}

	t := model.Tally{Counts: counts}
	best := 0
	for _, cand := range firstSeen {
		if counts[cand] > best {
			best = counts[cand]
			t.Eliminated = cand
		}
	}
	if t.Eliminated != "" {
		t.WasAI = r.players[t.Eliminated].IsAI
	}
	return t
}

// GenerateAIAnswers fills in an answer for every roster entry flagged as
// AI, drawn uniformly from pool. Human entries are left untouched.
func (s *Store) GenerateAIAnswers(roomID string, pool []string) ([]model.AIAnswer, error) {
	r, err := s.get(roomID)
	if err != nil {
		return nil, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	var out []model.AIAnswer
	for _, id := range r.roster {
		if !r.players[id].IsAI {
			continue
		}
		text := pool[rand.IntN(len(pool))]
		r.answers[id] = text
		out = append(out, model.AIAnswer{PlayerID: id, Text: text})
	}
	return out, nil
}

// MarkActive clears the idle timestamp while at least one session is
// attached to the room.
func (s *Store) MarkActive(roomID string) {
	if r, err := s.get(roomID); err == nil {
		r.mx.Lock()
		r.emptySince = time.Time{}
		r.mx.Unlock()
	}
}

// MarkIdle stamps the room as having no attached sessions, starting the
// expiry clock.
func (s *Store) MarkIdle(roomID string) {
	if r, err := s.get(roomID); err == nil {
		r.mx.Lock()
		r.emptySince = time.Now()
		r.mx.Unlock()
	}
}

// PruneIdle removes rooms that have been without sessions for at least ttl
// and reports their ids.
func (s *Store) PruneIdle(now time.Time, ttl time.Duration) []string {
	s.mx.Lock()
	defer s.mx.Unlock()

	var pruned []string
	for id, r := range s.rooms {
		r.mx.Lock()
		expired := !r.emptySince.IsZero() && now.Sub(r.emptySince) >= ttl
		r.mx.Unlock()
		if expired {
			delete(s.rooms, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// Run drives the expiry policy until ctx is canceled. A non-positive ttl
// disables pruning entirely.
func (s *Store) Run(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range s.PruneIdle(now, ttl) {
				s.logger.Debug().Str("roomID", id).Msg("idle room removed")
			}
		}
	}
}

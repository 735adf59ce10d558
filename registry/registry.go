package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whoisai/backend/model"
)

const defaultSendTimeout = time.Second

// room tracks the sessions attached to one room id. The order slice
// preserves registration order, which is the order broadcasts are
// delivered in.
type room struct {
	order []string
	wires map[string]model.Wire
}

// Registry maps room ids to their live session wires. It knows nothing
// about game semantics; it only connects, disconnects and fans out.
type Registry struct {
	logger      zerolog.Logger
	mx          *sync.RWMutex
	rooms       map[string]*room
	sendTimeout time.Duration
}

func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger:      logger.With().Str("component", "registry").Logger(),
		mx:          &sync.RWMutex{},
		rooms:       make(map[string]*room),
		sendTimeout: defaultSendTimeout,
	}
}

// Connect registers a session wire under roomID, creating the room entry
// if absent. Reconnecting an existing session id replaces its wire in
// place without growing the delivery order.
func (rg *Registry) Connect(roomID, sessionID string, wire model.Wire) {
	rg.mx.Lock()
	rm, ok := rg.rooms[roomID]
	if !ok {
		rm = &room{wires: make(map[string]model.Wire)}
		rg.rooms[roomID] = rm
	}
	if _, ok = rm.wires[sessionID]; !ok {
		rm.order = append(rm.order, sessionID)
	}
	rm.wires[sessionID] = wire
	rg.mx.Unlock()

	rg.logger.Debug().
		Str("roomID", roomID).
		Str("sessionID", sessionID).
		Msg("session connected")
}

// Disconnect removes a session and returns how many remain in the room.
// Removing an absent session is a no-op; a double disconnect must never
// fault. The room entry itself is pruned once it empties.
func (rg *Registry) Disconnect(roomID, sessionID string) int {
	rg.mx.Lock()
	defer func() {
		rg.mx.Unlock()
		rg.logger.Debug().
			Str("roomID", roomID).
			Str("sessionID", sessionID).
			Msg("session disconnected")
	}()

	rm, ok := rg.rooms[roomID]
	if !ok {
		return 0
	}
	if _, ok = rm.wires[sessionID]; ok {
		delete(rm.wires, sessionID)
		for i, id := range rm.order {
			if id == sessionID {
				rm.order = append(rm.order[:i], rm.order[i+1:]...)
				break
			}
		}
	}
	if len(rm.wires) == 0 {
		delete(rg.rooms, roomID)
		return 0
	}
	return len(rm.wires)
}

// Sessions returns the session ids attached to roomID in registration
// order.
func (rg *Registry) Sessions(roomID string) []string {
	rg.mx.RLock()
	defer rg.mx.RUnlock()

	rm, ok := rg.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, len(rm.order))
	copy(out, rm.order)
	return out
}

type target struct {
	id   string
	wire model.Wire
}

// Broadcast delivers ev to every session in roomID in registration order.
// A room with no sessions is a silent no-op. A handle that cannot accept
// the event within the send timeout is treated as dead: it is skipped,
// the remaining handles still receive the event, and its removal is
// scheduled asynchronously. A ctx cancellation mid-loop abandons the
// remainder of this fan-out entirely; it only happens during shutdown,
// when no one is left to observe the missing deliveries.
func (rg *Registry) Broadcast(ctx context.Context, roomID string, ev model.Event) {
	rg.mx.RLock()
	var targets []target
	if rm, ok := rg.rooms[roomID]; ok {
		targets = make([]target, 0, len(rm.order))
		for _, id := range rm.order {
			targets = append(targets, target{id: id, wire: rm.wires[id]})
		}
	}
	rg.mx.RUnlock()

	if len(targets) == 0 {
		rg.logger.Debug().
			Str("roomID", roomID).
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
		return
	}

	for _, t := range targets {
		sent, canceled := rg.send(ctx, ev, t.wire.TX)
		if canceled {
			return
		}
		if !sent {
			rg.logger.Error().
				Str("roomID", roomID).
				Str("sessionID", t.id).
				Msg("dead session")
			go rg.Disconnect(roomID, t.id)
		}
	}
}

func (rg *Registry) send(ctx context.Context, ev model.Event, tx chan<- model.Event) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(rg.sendTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
	case tx <- ev:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}

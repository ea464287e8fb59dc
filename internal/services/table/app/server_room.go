package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table"
)

// tableHub tracks the live room for each game with at least one subscriber.
type tableHub struct {
	mu    sync.Mutex
	rooms map[string]*gameRoom
}

func newTableHub() *tableHub {
	return &tableHub{rooms: make(map[string]*gameRoom)}
}

func (h *tableHub) room(gameID string) *gameRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[gameID]
	if ok {
		return room
	}

	room = newGameRoom(gameID)
	h.rooms[gameID] = room
	return room
}

// peek returns the live room for a game, or nil when nobody is at the table.
func (h *tableHub) peek(gameID string) *gameRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[gameID]
}

// drop releases a room once its last subscriber left. The identity check
// guards against dropping a replacement room created by a concurrent join.
func (h *tableHub) drop(gameID string, room *gameRoom) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.rooms[gameID]; ok && current == room {
		delete(h.rooms, gameID)
	}
}

// roomMember is the table-facing identity of one subscribed connection.
type roomMember struct {
	userID      string
	username    string
	displayName string
	role        table.Role
}

// gameRoom holds the cached live state of one game while peers are
// subscribed. All state access runs under the room mutex, which also
// serializes persistence: two near-simultaneous writes resolve to whichever
// one completes last.
type gameRoom struct {
	mu          sync.Mutex
	gameID      string
	loaded      bool
	ownerID     string
	state       table.LiveState
	subscribers map[*wsPeer]roomMember
}

func newGameRoom(gameID string) *gameRoom {
	return &gameRoom{
		gameID:      gameID,
		subscribers: make(map[*wsPeer]roomMember),
	}
}

// ensureLoaded pulls the game record and state snapshot from storage on the
// room's first use. Later joins reuse the cache.
func (r *gameRoom) ensureLoaded(ctx context.Context, store storage.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	game, err := store.GetGame(ctx, r.gameID)
	if err != nil {
		return err
	}
	state, err := store.GetLiveState(ctx, r.gameID)
	if err != nil {
		return err
	}
	r.ownerID = game.OwnerID
	r.state = state
	r.loaded = true
	return nil
}

func (r *gameRoom) join(peer *wsPeer, member roomMember) {
	r.mu.Lock()
	r.subscribers[peer] = member
	r.mu.Unlock()
}

// leave removes a peer and reports whether the room is now empty.
func (r *gameRoom) leave(peer *wsPeer) bool {
	r.mu.Lock()
	delete(r.subscribers, peer)
	empty := len(r.subscribers) == 0
	r.mu.Unlock()
	return empty
}

func (r *gameRoom) owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID
}

func (r *gameRoom) snapshot() table.LiveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneState(r.state)
}

// peersExcept returns every subscribed peer other than the given one.
func (r *gameRoom) peersExcept(exclude *wsPeer) []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*wsPeer, 0, len(r.subscribers))
	for peer := range r.subscribers {
		if peer != exclude {
			peers = append(peers, peer)
		}
	}
	return peers
}

// peers returns every subscribed peer.
func (r *gameRoom) peers() []*wsPeer {
	return r.peersExcept(nil)
}

// peersForUser returns every live connection a user has in this room.
func (r *gameRoom) peersForUser(userID string) []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var peers []*wsPeer
	for peer, member := range r.subscribers {
		if member.userID == userID {
			peers = append(peers, peer)
		}
	}
	return peers
}

// setField persists one live-state field and then applies the same change to
// the cache, all under the room mutex. When the write fails the cache stays
// untouched and no peers are returned, so nothing is broadcast.
func (r *gameRoom) setField(ctx context.Context, store storage.StateStore, field string, value any, apply func(state *table.LiveState)) ([]*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := store.SetLiveStateField(ctx, r.gameID, field, value); err != nil {
		return nil, err
	}
	apply(&r.state)

	peers := make([]*wsPeer, 0, len(r.subscribers))
	for peer := range r.subscribers {
		peers = append(peers, peer)
	}
	return peers, nil
}

// mutateTokens applies a read-modify-write of the token list: the callback
// sees a copy of the cached tokens, the result is persisted, and only then
// does the cache move. A callback error aborts before anything is written.
func (r *gameRoom) mutateTokens(ctx context.Context, store storage.StateStore, mutate func(tokens []table.Token) ([]table.Token, error)) ([]table.Token, []*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make([]table.Token, len(r.state.Tokens))
	copy(current, r.state.Tokens)

	next, err := mutate(current)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := encodeTokens(next)
	if err != nil {
		return nil, nil, err
	}
	if err := store.SetLiveStateField(ctx, r.gameID, "tokens", encoded); err != nil {
		return nil, nil, err
	}
	r.state.Tokens = next

	peers := make([]*wsPeer, 0, len(r.subscribers))
	for peer := range r.subscribers {
		peers = append(peers, peer)
	}
	return next, peers, nil
}

// resize persists both map dimensions under one room lock.
func (r *gameRoom) resize(ctx context.Context, store storage.StateStore, width float64, height float64) ([]*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := store.SetLiveStateField(ctx, r.gameID, "map_width", width); err != nil {
		return nil, err
	}
	if err := store.SetLiveStateField(ctx, r.gameID, "map_height", height); err != nil {
		return nil, err
	}
	r.state.MapWidth = width
	r.state.MapHeight = height

	peers := make([]*wsPeer, 0, len(r.subscribers))
	for peer := range r.subscribers {
		peers = append(peers, peer)
	}
	return peers, nil
}

func cloneState(state table.LiveState) table.LiveState {
	clone := state
	clone.Tokens = make([]table.Token, len(state.Tokens))
	copy(clone.Tokens, state.Tokens)
	if state.GrailModifiers.RollModifiers != nil {
		clone.GrailModifiers.RollModifiers = append([]string(nil), state.GrailModifiers.RollModifiers...)
	}
	if state.GrailModifiers.DamageModifiers != nil {
		clone.GrailModifiers.DamageModifiers = append([]string(nil), state.GrailModifiers.DamageModifiers...)
	}
	return clone
}

func encodeTokens(tokens []table.Token) (string, error) {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

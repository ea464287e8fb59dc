package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/roundtable/internal/dice"
	"github.com/louisbranch/roundtable/internal/platform/id"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table"
	"golang.org/x/net/websocket"
)

var errTokenForbidden = errors.New("token is not yours to move")

type joinPayload struct {
	GameID string `json:"game_id"`
}

type statePayload struct {
	GameID       string              `json:"game_id"`
	State        table.LiveState     `json:"state"`
	Participants []table.Participant `json:"participants"`
	YourRole     table.Role          `json:"your_role"`
	ServerTime   string              `json:"server_time"`
}

type presencePayload struct {
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Role        table.Role `json:"role"`
}

type mapUploadPayload struct {
	Image string `json:"image"`
}

type mapResizePayload struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type gridUpdatePayload struct {
	GridSize int `json:"grid_size"`
}

type notesUpdatePayload struct {
	Notes string `json:"notes"`
}

type tokenRemovePayload struct {
	TokenID string `json:"token_id"`
}

type tokenUpdatedPayload struct {
	Token table.Token `json:"token"`
}

type grailAssignPayload struct {
	UserID string `json:"user_id"`
}

type grailUpdatedPayload struct {
	HolderUserID string `json:"holder_user_id"`
}

type rollPayload struct {
	Expression string `json:"expression"`
	Label      string `json:"label,omitempty"`
}

type rollResultPayload struct {
	UserID             string     `json:"user_id"`
	DisplayName        string     `json:"display_name"`
	Role               table.Role `json:"role"`
	Label              string     `json:"label,omitempty"`
	Expression         string     `json:"expression"`
	OriginalExpression string     `json:"original_expression,omitempty"`
	Total              int        `json:"total"`
	Breakdown          string     `json:"breakdown"`
	CritSuccess        bool       `json:"crit_success"`
	CritFail           bool       `json:"crit_fail"`
	GrailMessage       string     `json:"grail_message,omitempty"`
	RolledAt           string     `json:"rolled_at"`
}

type chatPayload struct {
	Body string `json:"body"`
}

type chatMessagePayload struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        table.Role `json:"role"`
	Body        string     `json:"body"`
	SentAt      string     `json:"sent_at"`
}

type whisperPayload struct {
	Target string `json:"target"`
	Body   string `json:"body"`
}

type whisperMessagePayload struct {
	FromUserID      string `json:"from_user_id"`
	FromDisplayName string `json:"from_display_name"`
	ToUserID        string `json:"to_user_id"`
	ToDisplayName   string `json:"to_display_name"`
	Body            string `json:"body"`
	SentAt          string `json:"sent_at"`
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	if request == nil {
		return
	}
	user, ok := request.Context().Value(wsUserContextKey{}).(storage.User)
	if !ok {
		return
	}

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	session := newWSSession(user, peer)
	defer func() {
		if room, member, _ := session.current(); room != nil {
			h.leaveRoom(room, session.peer, member)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		ctx := request.Context()
		switch frame.Type {
		case "table.join":
			h.handleJoinFrame(ctx, session, frame)
		case "table.map.upload":
			h.handleMapUploadFrame(ctx, session, frame)
		case "table.map.resize":
			h.handleMapResizeFrame(ctx, session, frame)
		case "table.grid.update":
			h.handleGridUpdateFrame(ctx, session, frame)
		case "table.notes.update":
			h.handleNotesUpdateFrame(ctx, session, frame)
		case "table.token.upsert":
			h.handleTokenUpsertFrame(ctx, session, frame)
		case "table.token.remove":
			h.handleTokenRemoveFrame(ctx, session, frame)
		case "table.grail.assign":
			h.handleGrailAssignFrame(ctx, session, frame)
		case "table.grail.revoke":
			h.handleGrailRevokeFrame(ctx, session, frame)
		case "table.grail.updated":
			h.handleGrailSyncFrame(session, frame)
		case "table.grail.modifiers":
			h.handleGrailModifiersFrame(ctx, session, frame)
		case "table.roll":
			h.handleRollFrame(ctx, session, frame)
		case "table.chat":
			h.handleChatFrame(session, frame)
		case "table.whisper":
			h.handleWhisperFrame(ctx, session, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// leaveRoom detaches a peer, announces the departure to anyone left, and
// releases the room once it empties.
func (h *handler) leaveRoom(room *gameRoom, peer *wsPeer, member roomMember) {
	if room == nil || peer == nil {
		return
	}
	if room.leave(peer) {
		h.hub.drop(room.gameID, room)
		return
	}
	frame := wsFrame{
		Type: "table.participant.left",
		Payload: mustJSON(presencePayload{
			UserID:      member.userID,
			Username:    member.username,
			DisplayName: member.displayName,
			Role:        member.role,
		}),
	}
	for _, subscriber := range room.peers() {
		_ = subscriber.writeFrame(frame)
	}
}

func (h *handler) handleJoinFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}

	gameID := strings.TrimSpace(payload.GameID)
	if gameID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "game_id is required")
		return
	}

	participant, err := h.store.GetParticipant(ctx, gameID, session.user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = writeWSError(session.peer, frame.RequestID, "FORBIDDEN", "membership required for game")
			return
		}
		log.Printf("table: membership check failed user=%q game=%q err=%v", session.user.ID, gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "membership verification unavailable")
		return
	}

	room := h.hub.room(gameID)
	if err := room.ensureLoaded(ctx, h.store); err != nil {
		log.Printf("table: room load failed game=%q err=%v", gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "game state unavailable")
		return
	}

	member := roomMember{
		userID:      participant.UserID,
		username:    participant.Username,
		displayName: participant.DisplayName(),
		role:        participant.Role,
	}
	previous, previousMember := session.setRoom(room, member, participant)
	if previous != nil && previous != room {
		h.leaveRoom(previous, session.peer, previousMember)
	}
	room.join(session.peer, member)

	if err := h.store.TouchLastPlayed(ctx, gameID); err != nil {
		log.Printf("table: touch last played game=%q err=%v", gameID, err)
	}

	participants, err := h.store.GetParticipants(ctx, gameID)
	if err != nil {
		log.Printf("table: list participants game=%q err=%v", gameID, err)
	}

	_ = session.peer.writeFrame(wsFrame{
		Type:      "table.state",
		RequestID: frame.RequestID,
		Payload: mustJSON(statePayload{
			GameID:       gameID,
			State:        room.snapshot(),
			Participants: participants,
			YourRole:     participant.Role,
			ServerTime:   time.Now().UTC().Format(time.RFC3339),
		}),
	})

	joined := wsFrame{
		Type: "table.participant.joined",
		Payload: mustJSON(presencePayload{
			UserID:      member.userID,
			Username:    member.username,
			DisplayName: member.displayName,
			Role:        member.role,
		}),
	}
	for _, subscriber := range room.peersExcept(session.peer) {
		_ = subscriber.writeFrame(joined)
	}
}

// joinedRoom returns the session's room or reports a caller-only error.
func (h *handler) joinedRoom(session *wsSession, requestID string) (*gameRoom, roomMember, table.Participant, bool) {
	room, member, participant := session.current()
	if room == nil {
		_ = writeWSError(session.peer, requestID, "FORBIDDEN", "must join a table first")
		return nil, roomMember{}, table.Participant{}, false
	}
	return room, member, participant, true
}

func (h *handler) requireKing(session *wsSession, participant table.Participant, requestID string) bool {
	if participant.Role != table.RoleKing {
		_ = writeWSError(session.peer, requestID, "FORBIDDEN", "king role required")
		return false
	}
	return true
}

// broadcastField runs a persisted live-state update and relays the given
// frame to everyone else in the room. Storage failures stay with the caller.
func (h *handler) broadcastField(ctx context.Context, session *wsSession, room *gameRoom, frame wsFrame, requestID string, field string, value any, apply func(state *table.LiveState)) {
	peers, err := room.setField(ctx, h.store, field, value, apply)
	if err != nil {
		log.Printf("table: persist %s game=%q err=%v", field, room.gameID, err)
		_ = writeWSError(session.peer, requestID, "UNAVAILABLE", "state update could not be saved")
		return
	}
	for _, subscriber := range peers {
		if subscriber == session.peer {
			continue
		}
		_ = subscriber.writeFrame(frame)
	}
}

func (h *handler) handleMapUploadFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload mapUploadPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid map payload")
		return
	}

	update := wsFrame{Type: "table.map.updated", Payload: mustJSON(mapUploadPayload{Image: payload.Image})}
	h.broadcastField(ctx, session, room, update, frame.RequestID, "map_image", payload.Image, func(state *table.LiveState) {
		state.MapImage = payload.Image
	})
}

func (h *handler) handleMapResizeFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload mapResizePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid resize payload")
		return
	}
	if payload.Width <= 0 || payload.Height <= 0 {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "width and height must be positive")
		return
	}

	peers, err := room.resize(ctx, h.store, payload.Width, payload.Height)
	if err != nil {
		log.Printf("table: persist map size game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "state update could not be saved")
		return
	}
	resized := wsFrame{Type: "table.map.resized", Payload: mustJSON(payload)}
	for _, subscriber := range peers {
		if subscriber == session.peer {
			continue
		}
		_ = subscriber.writeFrame(resized)
	}
}

func (h *handler) handleGridUpdateFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload gridUpdatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid grid payload")
		return
	}
	if payload.GridSize < 1 {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "grid_size must be >= 1")
		return
	}

	update := wsFrame{Type: "table.grid.updated", Payload: mustJSON(payload)}
	h.broadcastField(ctx, session, room, update, frame.RequestID, "grid_size", payload.GridSize, func(state *table.LiveState) {
		state.GridSize = payload.GridSize
	})
}

func (h *handler) handleNotesUpdateFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload notesUpdatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid notes payload")
		return
	}
	if utf8.RuneCountInString(payload.Notes) > maxNotesRunes {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "notes are too long")
		return
	}

	update := wsFrame{Type: "table.notes.updated", Payload: mustJSON(payload)}
	h.broadcastField(ctx, session, room, update, frame.RequestID, "notes", payload.Notes, func(state *table.LiveState) {
		state.Notes = payload.Notes
	})
}

func (h *handler) handleTokenUpsertFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok {
		return
	}

	var payload table.Token
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid token payload")
		return
	}
	if payload.Kind == "" {
		payload.Kind = table.TokenPlayer
	}
	if payload.Kind != table.TokenPlayer && payload.Kind != table.TokenMonster {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "unknown token kind")
		return
	}
	if strings.TrimSpace(payload.ID) == "" {
		tokenID, err := id.New()
		if err != nil {
			_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "could not assign token id")
			return
		}
		payload.ID = tokenID
	}

	_, peers, err := room.mutateTokens(ctx, h.store, func(tokens []table.Token) ([]table.Token, error) {
		if existing, found := table.FindToken(tokens, payload.ID); found {
			if !table.CanMutateToken(participant, existing) {
				return nil, errTokenForbidden
			}
		}
		if !table.CanMutateToken(participant, payload) {
			return nil, errTokenForbidden
		}
		return table.UpsertToken(tokens, payload), nil
	})
	if err != nil {
		if errors.Is(err, errTokenForbidden) {
			_ = writeWSError(session.peer, frame.RequestID, "FORBIDDEN", "token is not yours to move")
			return
		}
		log.Printf("table: persist tokens game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "state update could not be saved")
		return
	}

	update := wsFrame{Type: "table.token.updated", Payload: mustJSON(tokenUpdatedPayload{Token: payload})}
	for _, subscriber := range peers {
		if subscriber == session.peer {
			continue
		}
		_ = subscriber.writeFrame(update)
	}
}

func (h *handler) handleTokenRemoveFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload tokenRemovePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid token payload")
		return
	}
	tokenID := strings.TrimSpace(payload.TokenID)
	if tokenID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "token_id is required")
		return
	}

	_, peers, err := room.mutateTokens(ctx, h.store, func(tokens []table.Token) ([]table.Token, error) {
		if _, found := table.FindToken(tokens, tokenID); !found {
			return nil, storage.ErrNotFound
		}
		next, _ := table.RemoveToken(tokens, tokenID)
		return next, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = writeWSError(session.peer, frame.RequestID, "NOT_FOUND", "token not found")
			return
		}
		log.Printf("table: persist tokens game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "state update could not be saved")
		return
	}

	removed := wsFrame{Type: "table.token.removed", Payload: mustJSON(payload)}
	for _, subscriber := range peers {
		if subscriber == session.peer {
			continue
		}
		_ = subscriber.writeFrame(removed)
	}
}

// requireGrailKeeper gates grail administration to the game owner holding
// the king role.
func (h *handler) requireGrailKeeper(session *wsSession, room *gameRoom, participant table.Participant, requestID string) bool {
	if participant.Role != table.RoleKing || room.owner() != session.user.ID {
		_ = writeWSError(session.peer, requestID, "FORBIDDEN", "grail administration requires the game owner")
		return false
	}
	return true
}

func (h *handler) handleGrailAssignFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireGrailKeeper(session, room, participant, frame.RequestID) {
		return
	}

	var payload grailAssignPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid grail payload")
		return
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "user_id is required")
		return
	}

	h.setGrailHolder(ctx, session, room, frame.RequestID, userID)
}

func (h *handler) handleGrailRevokeFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireGrailKeeper(session, room, participant, frame.RequestID) {
		return
	}
	h.setGrailHolder(ctx, session, room, frame.RequestID, "")
}

func (h *handler) setGrailHolder(ctx context.Context, session *wsSession, room *gameRoom, requestID string, userID string) {
	if err := h.store.SetGrailHolder(ctx, room.gameID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = writeWSError(session.peer, requestID, "NOT_FOUND", "grail holder must be a participant")
			return
		}
		log.Printf("table: persist grail holder game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, requestID, "UNAVAILABLE", "grail update could not be saved")
		return
	}

	updated := wsFrame{Type: "table.grail.updated", Payload: mustJSON(grailUpdatedPayload{HolderUserID: userID})}
	for _, subscriber := range room.peers() {
		_ = subscriber.writeFrame(updated)
	}
}

// handleGrailSyncFrame relays a king's grail re-sync notice to the rest of
// the room. setGrailHolder pushes its own changes; this frame lets the king
// nudge stale tables after out-of-band updates.
func (h *handler) handleGrailSyncFrame(session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireKing(session, participant, frame.RequestID) {
		return
	}

	var payload grailUpdatedPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid grail payload")
		return
	}

	relay := wsFrame{Type: "table.grail.updated", Payload: mustJSON(payload)}
	for _, subscriber := range room.peersExcept(session.peer) {
		_ = subscriber.writeFrame(relay)
	}
}

func (h *handler) handleGrailModifiersFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, _, participant, ok := h.joinedRoom(session, frame.RequestID)
	if !ok || !h.requireGrailKeeper(session, room, participant, frame.RequestID) {
		return
	}

	var payload table.GrailModifiers
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid grail modifiers payload")
		return
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid grail modifiers payload")
		return
	}

	update := wsFrame{Type: "table.grail.modifiers.updated", Payload: mustJSON(payload)}
	peers, err := room.setField(ctx, h.store, "grail_modifiers", string(encoded), func(state *table.LiveState) {
		state.GrailModifiers = payload
	})
	if err != nil {
		log.Printf("table: persist grail modifiers game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "state update could not be saved")
		return
	}
	for _, subscriber := range peers {
		_ = subscriber.writeFrame(update)
	}
}

func (h *handler) handleRollFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, member, _, ok := h.joinedRoom(session, frame.RequestID)
	if !ok {
		return
	}

	var payload rollPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid roll payload")
		return
	}
	expression := strings.TrimSpace(payload.Expression)
	if expression == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "expression is required")
		return
	}

	// Grail status is read back from storage so a freshly assigned grail
	// applies to the very next roll.
	hasGrail := false
	if participant, err := h.store.GetParticipant(ctx, room.gameID, member.userID); err == nil {
		hasGrail = participant.HasGrail
	}

	original := expression
	modifiers := room.snapshot().GrailModifiers
	grailMessage := ""
	if hasGrail {
		for _, tag := range modifiers.RollModifiers {
			expression = dice.ApplyRollModifier(expression, tag)
		}
		grailMessage = modifiers.CustomMessage
	}

	if _, err := dice.Parse(expression); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid dice expression")
		return
	}

	seed, err := h.rollSeed()
	if err != nil {
		log.Printf("table: roll seed unavailable: %v", err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "dice are unavailable")
		return
	}
	result, err := dice.Roll(rand.New(rand.NewSource(seed)), expression)
	if err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid dice expression")
		return
	}

	total := result.Total
	if hasGrail && dice.IsDamageRoll(original+" "+payload.Label) {
		for _, tag := range modifiers.DamageModifiers {
			total = dice.ApplyDamageModifier(total, tag)
		}
	}

	resultPayload := rollResultPayload{
		UserID:      member.userID,
		DisplayName: member.displayName,
		Role:        member.role,
		Label:       strings.TrimSpace(payload.Label),
		Expression:  expression,
		Total:       total,
		Breakdown:   result.Breakdown,
		CritSuccess: result.CritSuccess,
		CritFail:    result.CritFail,
		RolledAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if expression != original {
		resultPayload.OriginalExpression = original
		resultPayload.GrailMessage = grailMessage
	}

	rolled := wsFrame{Type: "table.roll.result", Payload: mustJSON(resultPayload)}
	for _, subscriber := range room.peers() {
		_ = subscriber.writeFrame(rolled)
	}
}

func (h *handler) handleChatFrame(session *wsSession, frame wsFrame) {
	room, member, _, ok := h.joinedRoom(session, frame.RequestID)
	if !ok {
		return
	}

	var payload chatPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid chat payload")
		return
	}
	body := strings.TrimSpace(payload.Body)
	if body == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "body is required")
		return
	}
	if utf8.RuneCountInString(body) > maxChatBodyRunes {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "body must be at most 2000 characters")
		return
	}

	message := wsFrame{
		Type: "table.chat.message",
		Payload: mustJSON(chatMessagePayload{
			UserID:      member.userID,
			DisplayName: member.displayName,
			Role:        member.role,
			Body:        body,
			SentAt:      time.Now().UTC().Format(time.RFC3339),
		}),
	}
	for _, subscriber := range room.peers() {
		_ = subscriber.writeFrame(message)
	}
}

func (h *handler) handleWhisperFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	room, member, _, ok := h.joinedRoom(session, frame.RequestID)
	if !ok {
		return
	}

	var payload whisperPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid whisper payload")
		return
	}
	body := strings.TrimSpace(payload.Body)
	if body == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "body is required")
		return
	}
	if utf8.RuneCountInString(body) > maxChatBodyRunes {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "body must be at most 2000 characters")
		return
	}

	participants, err := h.store.GetParticipants(ctx, room.gameID)
	if err != nil {
		log.Printf("table: list participants game=%q err=%v", room.gameID, err)
		_ = writeWSError(session.peer, frame.RequestID, "UNAVAILABLE", "whisper delivery unavailable")
		return
	}

	target, err := table.ResolveWhisperTarget(participants, payload.Target)
	if err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "NOT_FOUND", "whisper target not found")
		return
	}

	targetPeers := room.peersForUser(target.UserID)
	if len(targetPeers) == 0 {
		_ = writeWSError(session.peer, frame.RequestID, "NOT_ONLINE", "whisper target is not at the table")
		return
	}

	message := wsFrame{
		Type: "table.whisper.message",
		Payload: mustJSON(whisperMessagePayload{
			FromUserID:      member.userID,
			FromDisplayName: member.displayName,
			ToUserID:        target.UserID,
			ToDisplayName:   target.DisplayName(),
			Body:            body,
			SentAt:          time.Now().UTC().Format(time.RFC3339),
		}),
	}
	// Delivery is to the target's connections only; the sender's client
	// renders its own copy locally.
	for _, subscriber := range targetPeers {
		_ = subscriber.writeFrame(message)
	}
}

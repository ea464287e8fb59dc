package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/roundtable/internal/auth/token"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/storage/sqlite"
	"github.com/louisbranch/roundtable/internal/table"
	"golang.org/x/net/websocket"
)

type wsTestFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type testEnv struct {
	srv    *httptest.Server
	store  *sqlite.Store
	tokens token.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "roundtable.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	tokens := token.Config{Secret: []byte("ws-test-secret")}
	srv := httptest.NewServer(NewHandler(store, tokens))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, tokens: tokens}
}

func (e *testEnv) createUser(t *testing.T, id string, username string) storage.User {
	t.Helper()
	user := storage.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash-" + username,
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func (e *testEnv) createGame(t *testing.T, id string, ownerID string) storage.Game {
	t.Helper()
	game := storage.Game{
		ID:      id,
		Name:    "Test Table",
		OwnerID: ownerID,
	}
	if err := e.store.CreateGame(context.Background(), game); err != nil {
		t.Fatalf("create game %s: %v", id, err)
	}
	return game
}

func (e *testEnv) addKnight(t *testing.T, gameID string, userID string) {
	t.Helper()
	if err := e.store.AddParticipant(context.Background(), gameID, userID, table.RoleKnight); err != nil {
		t.Fatalf("add participant %s: %v", userID, err)
	}
}

func (e *testEnv) cookieFor(t *testing.T, user storage.User) string {
	t.Helper()
	credential, err := e.tokens.Mint(user.ID, user.Username)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tokenCookieName + "=" + credential
}

func (e *testEnv) dial(t *testing.T, cookie string) *websocket.Conn {
	t.Helper()
	conn, err := dialWS(e.srv.URL, cookie)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialWS(httpURL string, cookie string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	if strings.TrimSpace(cookie) == "" {
		return websocket.Dial(wsURL, "", httpURL)
	}
	cfg, err := websocket.NewConfig(wsURL, httpURL)
	if err != nil {
		return nil, err
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("Cookie", cookie)
	return websocket.DialConfig(cfg)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func joinTable(t *testing.T, conn *websocket.Conn, gameID string) wsTestFrame {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":       "table.join",
		"request_id": "req-join-1",
		"payload":    map[string]any{"game_id": gameID},
	})
	got := readFrame(t, conn)
	if got.Type != "table.state" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.state")
	}
	return got
}

func TestWebSocketRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	conn, err := dialWS(env.srv.URL, "")
	if conn != nil {
		_ = conn.Close()
	}
	if err == nil {
		t.Fatal("expected websocket dial error")
	}
	if !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("dial error = %v, expected bad status", err)
	}
}

func TestWebSocketJoinReturnsStateSnapshot(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	env.createGame(t, "game-1", king.ID)

	conn := env.dial(t, env.cookieFor(t, king))
	got := joinTable(t, conn, "game-1")

	if !strings.Contains(string(got.Payload), `"game_id":"game-1"`) {
		t.Fatalf("state payload = %s, expected game id", string(got.Payload))
	}
	if !strings.Contains(string(got.Payload), `"your_role":"king"`) {
		t.Fatalf("state payload = %s, expected king role", string(got.Payload))
	}
}

func TestWebSocketJoinRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	outsider := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)

	conn := env.dial(t, env.cookieFor(t, outsider))
	writeFrame(t, conn, map[string]any{
		"type":       "table.join",
		"request_id": "req-join-1",
		"payload":    map[string]any{"game_id": "game-1"},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.error")
	}
	if !strings.Contains(string(got.Payload), "FORBIDDEN") {
		t.Fatalf("error payload = %s, expected FORBIDDEN", string(got.Payload))
	}
}

func TestWebSocketCommandBeforeJoinReturnsForbidden(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	env.createGame(t, "game-1", king.ID)

	conn := env.dial(t, env.cookieFor(t, king))
	writeFrame(t, conn, map[string]any{
		"type":       "table.chat",
		"request_id": "req-chat-1",
		"payload":    map[string]any{"body": "hello"},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketUnknownTypeReturnsError(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	env.createGame(t, "game-1", king.ID)

	conn := env.dial(t, env.cookieFor(t, king))
	writeFrame(t, conn, map[string]any{
		"type":       "table.unknown",
		"request_id": "req-bad-1",
		"payload":    map[string]any{},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "INVALID_ARGUMENT") {
		t.Fatalf("frame = %q %s, expected INVALID_ARGUMENT table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketMapUploadBroadcastsToOthersOnly(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, kingConn, "game-1")
	joinTable(t, knightConn, "game-1")

	joined := readFrame(t, kingConn)
	if joined.Type != "table.participant.joined" {
		t.Fatalf("frame type = %q, want %q", joined.Type, "table.participant.joined")
	}

	writeFrame(t, kingConn, map[string]any{
		"type":       "table.map.upload",
		"request_id": "req-map-1",
		"payload":    map[string]any{"image": "data:image/png;base64,abc"},
	})

	update := readFrame(t, knightConn)
	if update.Type != "table.map.updated" {
		t.Fatalf("knight frame type = %q, want %q", update.Type, "table.map.updated")
	}

	// The uploader gets no echo: the next frame the king sees is their own
	// chat message, not the map update.
	writeFrame(t, kingConn, map[string]any{
		"type":       "table.chat",
		"request_id": "req-chat-1",
		"payload":    map[string]any{"body": "map is up"},
	})
	next := readFrame(t, kingConn)
	if next.Type != "table.chat.message" {
		t.Fatalf("king frame type = %q, want %q", next.Type, "table.chat.message")
	}

	state, err := env.store.GetLiveState(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get live state: %v", err)
	}
	if state.MapImage != "data:image/png;base64,abc" {
		t.Fatalf("map image = %q, expected persisted upload", state.MapImage)
	}
}

func TestWebSocketMapUploadRequiresKing(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	conn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, conn, "game-1")

	writeFrame(t, conn, map[string]any{
		"type":       "table.map.upload",
		"request_id": "req-map-1",
		"payload":    map[string]any{"image": "data:image/png;base64,abc"},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketKnightTokenOwnership(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knightA := env.createUser(t, "user-2", "bob")
	knightB := env.createUser(t, "user-3", "carol")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knightA.ID)
	env.addKnight(t, "game-1", knightB.ID)
	if err := env.store.UpdateCharacterName(context.Background(), "game-1", knightA.ID, "Sir Bobric"); err != nil {
		t.Fatalf("update character name: %v", err)
	}

	connA := env.dial(t, env.cookieFor(t, knightA))
	connB := env.dial(t, env.cookieFor(t, knightB))
	joinTable(t, connA, "game-1")
	joinTable(t, connB, "game-1")
	_ = readFrame(t, connA) // knight B joined

	writeFrame(t, connA, map[string]any{
		"type":       "table.token.upsert",
		"request_id": "req-token-1",
		"payload": map[string]any{
			"id":    "tok-1",
			"x":     120,
			"y":     80,
			"kind":  "player",
			"owner": "sir bobric",
		},
	})

	update := readFrame(t, connB)
	if update.Type != "table.token.updated" {
		t.Fatalf("frame type = %q, want %q", update.Type, "table.token.updated")
	}

	// Another knight cannot remove a token they do not own.
	writeFrame(t, connB, map[string]any{
		"type":       "table.token.remove",
		"request_id": "req-token-2",
		"payload":    map[string]any{"token_id": "tok-1"},
	})
	denied := readFrame(t, connB)
	if denied.Type != "table.error" || !strings.Contains(string(denied.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", denied.Type, string(denied.Payload))
	}

	state, err := env.store.GetLiveState(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get live state: %v", err)
	}
	if len(state.Tokens) != 1 || state.Tokens[0].ID != "tok-1" {
		t.Fatalf("tokens = %+v, expected tok-1 to survive", state.Tokens)
	}
}

func TestWebSocketKnightCannotMoveMonsterToken(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	joinTable(t, kingConn, "game-1")
	writeFrame(t, kingConn, map[string]any{
		"type":       "table.token.upsert",
		"request_id": "req-token-1",
		"payload": map[string]any{
			"id":   "mon-1",
			"x":    10,
			"y":    10,
			"kind": "monster",
		},
	})

	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, knightConn, "game-1")
	writeFrame(t, knightConn, map[string]any{
		"type":       "table.token.upsert",
		"request_id": "req-token-2",
		"payload": map[string]any{
			"id":   "mon-1",
			"x":    200,
			"y":    200,
			"kind": "monster",
		},
	})

	got := readFrame(t, knightConn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketRollBroadcastsToWholeTable(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, kingConn, "game-1")
	joinTable(t, knightConn, "game-1")
	_ = readFrame(t, kingConn) // knight joined

	writeFrame(t, knightConn, map[string]any{
		"type":       "table.roll",
		"request_id": "req-roll-1",
		"payload":    map[string]any{"expression": "2d6+3"},
	})

	for _, conn := range []*websocket.Conn{kingConn, knightConn} {
		got := readFrame(t, conn)
		if got.Type != "table.roll.result" {
			t.Fatalf("frame type = %q, want %q", got.Type, "table.roll.result")
		}
		var result rollResultPayload
		if err := json.Unmarshal(got.Payload, &result); err != nil {
			t.Fatalf("decode roll result: %v", err)
		}
		if result.Total < 5 || result.Total > 15 {
			t.Fatalf("roll total = %d, want within [5, 15]", result.Total)
		}
		if result.UserID != knight.ID {
			t.Fatalf("roll user = %q, want %q", result.UserID, knight.ID)
		}
	}
}

func TestWebSocketRollRejectsInvalidExpression(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	env.createGame(t, "game-1", king.ID)

	conn := env.dial(t, env.cookieFor(t, king))
	joinTable(t, conn, "game-1")

	writeFrame(t, conn, map[string]any{
		"type":       "table.roll",
		"request_id": "req-roll-1",
		"payload":    map[string]any{"expression": "1d20x3"},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "INVALID_ARGUMENT") {
		t.Fatalf("frame = %q %s, expected INVALID_ARGUMENT table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketGrailModifierRewritesRoll(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	joinTable(t, kingConn, "game-1")

	writeFrame(t, kingConn, map[string]any{
		"type":       "table.grail.modifiers",
		"request_id": "req-grail-1",
		"payload":    map[string]any{"roll_modifiers": []string{"advantage"}, "damage_modifiers": []string{}},
	})
	if got := readFrame(t, kingConn); got.Type != "table.grail.modifiers.updated" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.grail.modifiers.updated")
	}

	writeFrame(t, kingConn, map[string]any{
		"type":       "table.grail.assign",
		"request_id": "req-grail-2",
		"payload":    map[string]any{"user_id": knight.ID},
	})
	if got := readFrame(t, kingConn); got.Type != "table.grail.updated" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.grail.updated")
	}

	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, knightConn, "game-1")
	_ = readFrame(t, kingConn) // knight joined

	writeFrame(t, knightConn, map[string]any{
		"type":       "table.roll",
		"request_id": "req-roll-1",
		"payload":    map[string]any{"expression": "1d20+5"},
	})

	got := readFrame(t, knightConn)
	if got.Type != "table.roll.result" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.roll.result")
	}
	var result rollResultPayload
	if err := json.Unmarshal(got.Payload, &result); err != nil {
		t.Fatalf("decode roll result: %v", err)
	}
	if result.Expression != "2d20kh1+5" {
		t.Fatalf("expression = %q, want %q", result.Expression, "2d20kh1+5")
	}
	if result.OriginalExpression != "1d20+5" {
		t.Fatalf("original expression = %q, want %q", result.OriginalExpression, "1d20+5")
	}
}

func TestWebSocketGrailAssignRequiresOwnerKing(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	conn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, conn, "game-1")

	writeFrame(t, conn, map[string]any{
		"type":       "table.grail.assign",
		"request_id": "req-grail-1",
		"payload":    map[string]any{"user_id": knight.ID},
	})

	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketWhisperByAliasReachesKingOnly(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knightA := env.createUser(t, "user-2", "bob")
	knightB := env.createUser(t, "user-3", "carol")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knightA.ID)
	env.addKnight(t, "game-1", knightB.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	connA := env.dial(t, env.cookieFor(t, knightA))
	connB := env.dial(t, env.cookieFor(t, knightB))
	joinTable(t, kingConn, "game-1")
	joinTable(t, connA, "game-1")
	joinTable(t, connB, "game-1")
	_ = readFrame(t, kingConn) // knight A joined
	_ = readFrame(t, kingConn) // knight B joined
	_ = readFrame(t, connA)    // knight B joined

	writeFrame(t, connA, map[string]any{
		"type":       "table.whisper",
		"request_id": "req-whisper-1",
		"payload":    map[string]any{"target": "DM", "body": "the rogue is lying"},
	})

	got := readFrame(t, kingConn)
	if got.Type != "table.whisper.message" {
		t.Fatalf("king frame type = %q, want %q", got.Type, "table.whisper.message")
	}
	if !strings.Contains(string(got.Payload), "the rogue is lying") {
		t.Fatalf("whisper payload = %s, expected body", string(got.Payload))
	}

	// Neither the sender nor knight B gets a server copy of the whisper:
	// after the follow-up chat, it is the next frame both of them see.
	writeFrame(t, connA, map[string]any{
		"type":       "table.chat",
		"request_id": "req-chat-1",
		"payload":    map[string]any{"body": "anyway"},
	})
	for name, conn := range map[string]*websocket.Conn{"sender": connA, "knight B": connB} {
		next := readFrame(t, conn)
		if next.Type != "table.chat.message" {
			t.Fatalf("%s frame type = %q, want %q", name, next.Type, "table.chat.message")
		}
	}
}

func TestWebSocketTokenRemoveIsKingOnly(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, kingConn, "game-1")
	joinTable(t, knightConn, "game-1")
	_ = readFrame(t, kingConn) // knight joined

	writeFrame(t, knightConn, map[string]any{
		"type":       "table.token.upsert",
		"request_id": "req-token-1",
		"payload": map[string]any{
			"id":    "tok-1",
			"x":     30,
			"y":     40,
			"kind":  "player",
			"owner": "bob",
		},
	})
	if got := readFrame(t, kingConn); got.Type != "table.token.updated" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.token.updated")
	}

	// Even the token's owner cannot remove it while a knight.
	writeFrame(t, knightConn, map[string]any{
		"type":       "table.token.remove",
		"request_id": "req-token-2",
		"payload":    map[string]any{"token_id": "tok-1"},
	})
	denied := readFrame(t, knightConn)
	if denied.Type != "table.error" || !strings.Contains(string(denied.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", denied.Type, string(denied.Payload))
	}
	state, err := env.store.GetLiveState(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get live state: %v", err)
	}
	if len(state.Tokens) != 1 {
		t.Fatalf("tokens = %+v, expected tok-1 to survive", state.Tokens)
	}

	writeFrame(t, kingConn, map[string]any{
		"type":       "table.token.remove",
		"request_id": "req-token-3",
		"payload":    map[string]any{"token_id": "tok-1"},
	})
	removed := readFrame(t, knightConn)
	if removed.Type != "table.token.removed" {
		t.Fatalf("frame type = %q, want %q", removed.Type, "table.token.removed")
	}
	state, err = env.store.GetLiveState(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get live state: %v", err)
	}
	if len(state.Tokens) != 0 {
		t.Fatalf("tokens = %+v, expected empty list", state.Tokens)
	}
}

func TestWebSocketGrailSyncRelay(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, kingConn, "game-1")
	joinTable(t, knightConn, "game-1")
	_ = readFrame(t, kingConn) // knight joined

	writeFrame(t, kingConn, map[string]any{
		"type":       "table.grail.updated",
		"request_id": "req-sync-1",
		"payload":    map[string]any{"holder_user_id": knight.ID},
	})
	got := readFrame(t, knightConn)
	if got.Type != "table.grail.updated" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.grail.updated")
	}
	if !strings.Contains(string(got.Payload), knight.ID) {
		t.Fatalf("relay payload = %s, expected holder id", string(got.Payload))
	}

	writeFrame(t, knightConn, map[string]any{
		"type":       "table.grail.updated",
		"request_id": "req-sync-2",
		"payload":    map[string]any{"holder_user_id": knight.ID},
	})
	denied := readFrame(t, knightConn)
	if denied.Type != "table.error" || !strings.Contains(string(denied.Payload), "FORBIDDEN") {
		t.Fatalf("frame = %q %s, expected FORBIDDEN table.error", denied.Type, string(denied.Payload))
	}
}

func TestWebSocketWhisperTargetErrors(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	conn := env.dial(t, env.cookieFor(t, king))
	joinTable(t, conn, "game-1")

	writeFrame(t, conn, map[string]any{
		"type":       "table.whisper",
		"request_id": "req-whisper-1",
		"payload":    map[string]any{"target": "nobody", "body": "hello?"},
	})
	got := readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "NOT_FOUND") {
		t.Fatalf("frame = %q %s, expected NOT_FOUND table.error", got.Type, string(got.Payload))
	}

	// The target exists but is not connected.
	writeFrame(t, conn, map[string]any{
		"type":       "table.whisper",
		"request_id": "req-whisper-2",
		"payload":    map[string]any{"target": "bob", "body": "are you there?"},
	})
	got = readFrame(t, conn)
	if got.Type != "table.error" || !strings.Contains(string(got.Payload), "NOT_ONLINE") {
		t.Fatalf("frame = %q %s, expected NOT_ONLINE table.error", got.Type, string(got.Payload))
	}
}

func TestWebSocketLeaveAnnouncesDeparture(t *testing.T) {
	env := newTestEnv(t)
	king := env.createUser(t, "user-1", "alice")
	knight := env.createUser(t, "user-2", "bob")
	env.createGame(t, "game-1", king.ID)
	env.addKnight(t, "game-1", knight.ID)

	kingConn := env.dial(t, env.cookieFor(t, king))
	knightConn := env.dial(t, env.cookieFor(t, knight))
	joinTable(t, kingConn, "game-1")
	joinTable(t, knightConn, "game-1")
	_ = readFrame(t, kingConn) // knight joined

	_ = knightConn.Close()

	got := readFrame(t, kingConn)
	if got.Type != "table.participant.left" {
		t.Fatalf("frame type = %q, want %q", got.Type, "table.participant.left")
	}
	if !strings.Contains(string(got.Payload), knight.ID) {
		t.Fatalf("left payload = %s, expected departing user id", string(got.Payload))
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/roundtable/internal/auth/token"
	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/random"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/storage/sqlite"
	"github.com/louisbranch/roundtable/internal/table"
	"golang.org/x/net/websocket"
)

const (
	tokenCookieName = "rt_token"

	// Map uploads travel inline as data URLs, so table frames get a far
	// larger budget than a text protocol would need.
	maxFramePayloadBytes   = 1 << 20
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxChatBodyRunes = 2000
	maxNotesRunes    = 20000
)

// Config defines the inputs for the table server process.
type Config struct {
	HTTPAddr          string
	StoragePath       string
	Tokens            token.Config
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the table HTTP/WebSocket process.
//
// It owns the SQLite store and the in-memory room hub; everything a game
// table needs runs inside this one process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsSession tracks one connection's identity and current room.
type wsSession struct {
	mu          sync.Mutex
	user        storage.User
	peer        *wsPeer
	room        *gameRoom
	member      roomMember
	participant table.Participant
}

func newWSSession(user storage.User, peer *wsPeer) *wsSession {
	return &wsSession{user: user, peer: peer}
}

func (s *wsSession) setRoom(next *gameRoom, member roomMember, participant table.Participant) (*gameRoom, roomMember) {
	s.mu.Lock()
	previous := s.room
	previousMember := s.member
	s.room = next
	s.member = member
	s.participant = participant
	s.mu.Unlock()
	return previous, previousMember
}

func (s *wsSession) current() (*gameRoom, roomMember, table.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.member, s.participant
}

// handler carries the shared dependencies of the REST and WebSocket routes.
type handler struct {
	store    storage.Store
	tokens   token.Config
	hub      *tableHub
	rollSeed func() (int64, error)
}

type wsUserContextKey struct{}

// NewHandler creates table routes backed by the given store. Used by tests
// and embedded setups; NewServer wires the same handler over its own store.
func NewHandler(store storage.Store, tokens token.Config) http.Handler {
	return newHandler(&handler{
		store:    store,
		tokens:   tokens,
		hub:      newTableHub(),
		rollSeed: random.NewSeed,
	})
}

func newHandler(h *handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	h.registerAPIRoutes(mux)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		h.handleWSConn(conn)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user, err := h.userFromRequest(r)
		if err != nil {
			log.Printf("table: websocket unauthorized for host=%q remote=%s: %v", r.Host, r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsUserContextKey{}, user)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// userFromRequest authenticates a request from its bearer token or session
// cookie and re-resolves the user record, so revoked accounts lose access
// even while their token is still valid.
func (h *handler) userFromRequest(r *http.Request) (storage.User, error) {
	credential := accessTokenFromRequest(r)
	if credential == "" {
		return storage.User{}, token.ErrUnauthenticated
	}

	claims, err := h.tokens.Verify(credential)
	if err != nil {
		return storage.User{}, err
	}

	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, fmt.Errorf("%w: unknown user", token.ErrUnauthenticated)
		}
		return storage.User{}, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if credential, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(credential)
		}
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "table.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured table server with its own SQLite store.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.StoragePath) == "" {
		return nil, errors.New("storage path is required")
	}
	if len(config.Tokens.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(store, config.Tokens),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a table server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init table server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve table: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("table server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("table server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close storage: %v", err)
		}
	}
}

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/roundtable/internal/dice"
	"github.com/louisbranch/roundtable/internal/platform/id"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table"
	"golang.org/x/crypto/bcrypt"
)

// deletionConfirmationText must be typed back verbatim before a game is
// permanently destroyed.
const deletionConfirmationText = "DELETE MY CAMPAIGN PERMANENTLY"

const (
	minPasswordRunes      = 8
	maxUsernameRunes      = 32
	maxCharacterNameRunes = 64
)

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string  `json:"token"`
	User  apiUser `json:"user"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

type apiGame struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	OwnerID           string         `json:"owner_id"`
	RuleSystem        string         `json:"rule_system"`
	GridType          table.GridType `json:"grid_type"`
	DefaultGridSize   int            `json:"default_grid_size"`
	CreatedAt         string         `json:"created_at"`
	LastPlayed        string         `json:"last_played"`
	DeletionRequested bool           `json:"deletion_requested,omitempty"`
}

type createGameRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	RuleSystem      string `json:"rule_system"`
	GridType        string `json:"grid_type"`
	DefaultGridSize int    `json:"default_grid_size"`
}

type gameDetailResponse struct {
	Game         apiGame             `json:"game"`
	Participants []table.Participant `json:"participants"`
	State        table.LiveState     `json:"state"`
	YourRole     table.Role          `json:"your_role"`
}

type characterNameRequest struct {
	CharacterName string `json:"character_name"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type grailRequest struct {
	UserID string `json:"user_id"`
}

type deletionConfirmRequest struct {
	Confirmation string `json:"confirmation"`
}

type sheetRequest struct {
	CharacterName string          `json:"character_name"`
	Data          json.RawMessage `json:"data"`
}

type macroRequest struct {
	Name        string `json:"name"`
	Formula     string `json:"formula"`
	Description string `json:"description"`
}

type apiSheet struct {
	GameID        string          `json:"game_id"`
	UserID        string          `json:"user_id"`
	CharacterName string          `json:"character_name,omitempty"`
	Data          json.RawMessage `json:"data"`
	UpdatedAt     string          `json:"updated_at"`
}

type apiMacro struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Formula     string `json:"formula"`
	Description string `json:"description,omitempty"`
}

func toAPISheet(sheet storage.CharacterSheet) apiSheet {
	return apiSheet{
		GameID:        sheet.GameID,
		UserID:        sheet.UserID,
		CharacterName: sheet.CharacterName,
		Data:          json.RawMessage(sheet.Data),
		UpdatedAt:     sheet.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toAPIMacro(macro storage.Macro) apiMacro {
	return apiMacro{
		ID:          macro.ID,
		Name:        macro.Name,
		Formula:     macro.Formula,
		Description: macro.Description,
	}
}

func (h *handler) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("GET /api/user", h.authenticated(h.handleCurrentUser))

	mux.HandleFunc("GET /api/games", h.authenticated(h.handleListGames))
	mux.HandleFunc("POST /api/games", h.authenticated(h.handleCreateGame))
	mux.HandleFunc("GET /api/games/{id}", h.authenticated(h.handleGetGame))
	mux.HandleFunc("POST /api/games/{id}/join", h.authenticated(h.handleJoinGame))
	mux.HandleFunc("PUT /api/games/{id}/character-name", h.authenticated(h.handleCharacterName))
	mux.HandleFunc("PUT /api/games/{id}/participants/{userID}/role", h.authenticated(h.handleParticipantRole))
	mux.HandleFunc("PUT /api/games/{id}/settings", h.authenticated(h.handleGameSettings))

	mux.HandleFunc("POST /api/games/{id}/grail", h.authenticated(h.handleGrailAssign))
	mux.HandleFunc("DELETE /api/games/{id}/grail", h.authenticated(h.handleGrailRevoke))
	mux.HandleFunc("GET /api/games/{id}/grail/modifiers", h.authenticated(h.handleGrailModifiersGet))
	mux.HandleFunc("PUT /api/games/{id}/grail/modifiers", h.authenticated(h.handleGrailModifiersPut))

	mux.HandleFunc("POST /api/games/{id}/deletion", h.authenticated(h.handleRequestDeletion))
	mux.HandleFunc("DELETE /api/games/{id}/deletion", h.authenticated(h.handleCancelDeletion))
	mux.HandleFunc("POST /api/games/{id}/deletion/confirm", h.authenticated(h.handleConfirmDeletion))
	mux.HandleFunc("DELETE /api/games/{id}", h.authenticated(h.handleAdminDeleteGame))

	mux.HandleFunc("GET /api/games/{id}/sheet", h.authenticated(h.handleGetSheet))
	mux.HandleFunc("PUT /api/games/{id}/sheet", h.authenticated(h.handleSaveSheet))
	mux.HandleFunc("GET /api/games/{id}/sheets", h.authenticated(h.handleListSheets))

	mux.HandleFunc("GET /api/games/{id}/macros", h.authenticated(h.handleListMacros))
	mux.HandleFunc("POST /api/games/{id}/macros", h.authenticated(h.handleCreateMacro))
	mux.HandleFunc("PUT /api/games/{id}/macros/{macroID}", h.authenticated(h.handleUpdateMacro))
	mux.HandleFunc("DELETE /api/games/{id}/macros/{macroID}", h.authenticated(h.handleDeleteMacro))
}

func (h *handler) authenticated(next func(w http.ResponseWriter, r *http.Request, user storage.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.userFromRequest(r)
		if err != nil {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}
		next(w, r, user)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("table: encode response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, apiErrorEnvelope{Error: apiError{Code: code, Message: message}})
}

// writeStorageError maps persistence sentinels onto API error responses.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "record not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		writeAPIError(w, http.StatusConflict, "ALREADY_EXISTS", "record already exists")
	case errors.Is(err, storage.ErrDeletionNotRequested):
		writeAPIError(w, http.StatusConflict, "FAILED_PRECONDITION", "deletion has not been requested")
	default:
		log.Printf("table: storage error: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return false
	}
	return true
}

func toAPIUser(user storage.User) apiUser {
	return apiUser{ID: user.ID, Username: user.Username, Email: user.Email, IsAdmin: user.IsAdmin}
}

func toAPIGame(game storage.Game) apiGame {
	return apiGame{
		ID:                game.ID,
		Name:              game.Name,
		Description:       game.Description,
		OwnerID:           game.OwnerID,
		RuleSystem:        game.RuleSystem,
		GridType:          game.GridType,
		DefaultGridSize:   game.DefaultGridSize,
		CreatedAt:         game.CreatedAt.UTC().Format(time.RFC3339),
		LastPlayed:        game.LastPlayed.UTC().Format(time.RFC3339),
		DeletionRequested: game.DeletionRequested,
	}
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	switch {
	case username == "" || utf8.RuneCountInString(username) > maxUsernameRunes:
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "username is required and must be at most 32 characters")
		return
	case email == "" || !strings.Contains(email, "@"):
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "a valid email is required")
		return
	case utf8.RuneCountInString(req.Password) < minPasswordRunes:
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	userID, err := id.New()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	user := storage.User{
		ID:           userID,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeAPIError(w, http.StatusConflict, "ALREADY_EXISTS", "username or email is taken")
			return
		}
		writeStorageError(w, err)
		return
	}

	h.writeSession(w, user)
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials")
			return
		}
		writeStorageError(w, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials")
		return
	}

	h.writeSession(w, user)
}

// writeSession mints a token and returns it both as a cookie, for the
// browser client, and in the body, for API callers.
func (h *handler) writeSession(w http.ResponseWriter, user storage.User) {
	credential, err := h.tokens.Mint(user.ID, user.Username)
	if err != nil {
		log.Printf("table: mint token: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    credential,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Token: credential, User: toAPIUser(user)})
}

func (h *handler) handleCurrentUser(w http.ResponseWriter, r *http.Request, user storage.User) {
	writeJSON(w, http.StatusOK, toAPIUser(user))
}

func (h *handler) handleListGames(w http.ResponseWriter, r *http.Request, user storage.User) {
	games, err := h.store.ListGamesForUser(r.Context(), user.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	response := make([]apiGame, 0, len(games))
	for _, game := range games {
		response = append(response, toAPIGame(game))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) handleCreateGame(w http.ResponseWriter, r *http.Request, user storage.User) {
	var req createGameRequest
	if !readJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required")
		return
	}

	game := storage.Game{
		Name:            name,
		Description:     strings.TrimSpace(req.Description),
		OwnerID:         user.ID,
		RuleSystem:      strings.TrimSpace(req.RuleSystem),
		DefaultGridSize: req.DefaultGridSize,
	}
	if req.GridType != "" {
		gridType, ok := table.ParseGridType(req.GridType)
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown grid type")
			return
		}
		game.GridType = gridType
	}

	gameID, err := id.New()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	game.ID = gameID

	if err := h.store.CreateGame(r.Context(), game); err != nil {
		writeStorageError(w, err)
		return
	}
	created, err := h.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIGame(created))
}

// requireParticipant loads the game and the caller's membership in it.
func (h *handler) requireParticipant(w http.ResponseWriter, r *http.Request, user storage.User) (storage.Game, table.Participant, bool) {
	gameID := r.PathValue("id")
	game, err := h.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeStorageError(w, err)
		return storage.Game{}, table.Participant{}, false
	}
	participant, err := h.store.GetParticipant(r.Context(), gameID, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "membership required for game")
			return storage.Game{}, table.Participant{}, false
		}
		writeStorageError(w, err)
		return storage.Game{}, table.Participant{}, false
	}
	return game, participant, true
}

// requireOwner loads the game and checks the caller owns it.
func (h *handler) requireOwner(w http.ResponseWriter, r *http.Request, user storage.User) (storage.Game, bool) {
	gameID := r.PathValue("id")
	game, err := h.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeStorageError(w, err)
		return storage.Game{}, false
	}
	if game.OwnerID != user.ID {
		writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "game owner required")
		return storage.Game{}, false
	}
	return game, true
}

func (h *handler) handleGetGame(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, participant, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}

	participants, err := h.store.GetParticipants(r.Context(), game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	state, err := h.store.GetLiveState(r.Context(), game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, gameDetailResponse{
		Game:         toAPIGame(game),
		Participants: participants,
		State:        state,
		YourRole:     participant.Role,
	})
}

func (h *handler) handleJoinGame(w http.ResponseWriter, r *http.Request, user storage.User) {
	gameID := r.PathValue("id")
	if _, err := h.store.GetGame(r.Context(), gameID); err != nil {
		writeStorageError(w, err)
		return
	}
	if err := h.store.AddParticipant(r.Context(), gameID, user.ID, table.RoleKnight); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeAPIError(w, http.StatusConflict, "ALREADY_EXISTS", "already a participant")
			return
		}
		writeStorageError(w, err)
		return
	}
	participant, err := h.store.GetParticipant(r.Context(), gameID, user.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (h *handler) handleCharacterName(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}

	var req characterNameRequest
	if !readJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.CharacterName)
	if utf8.RuneCountInString(name) > maxCharacterNameRunes {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "character name must be at most 64 characters")
		return
	}

	if err := h.store.UpdateCharacterName(r.Context(), game.ID, user.ID, name); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleParticipantRole(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, caller, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}
	if caller.Role != table.RoleKing {
		writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "king role required")
		return
	}

	targetID := r.PathValue("userID")
	if targetID == game.OwnerID {
		writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "the owner's role cannot be changed")
		return
	}

	var req roleRequest
	if !readJSON(w, r, &req) {
		return
	}
	role, valid := table.ParseRole(req.Role)
	if !valid {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown role")
		return
	}

	if err := h.store.UpdateParticipantRole(r.Context(), game.ID, targetID, role); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleGameSettings(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}

	var req createGameRequest
	if !readJSON(w, r, &req) {
		return
	}
	settings := storage.GameSettings{
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		RuleSystem:      strings.TrimSpace(req.RuleSystem),
		DefaultGridSize: req.DefaultGridSize,
	}
	if settings.Name == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required")
		return
	}
	if req.GridType != "" {
		gridType, valid := table.ParseGridType(req.GridType)
		if !valid {
			writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown grid type")
			return
		}
		settings.GridType = gridType
	}

	if err := h.store.UpdateGameSettings(r.Context(), game.ID, settings); err != nil {
		writeStorageError(w, err)
		return
	}
	updated, err := h.store.GetGame(r.Context(), game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIGame(updated))
}

func (h *handler) handleGrailAssign(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}

	var req grailRequest
	if !readJSON(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "user_id is required")
		return
	}

	if err := h.store.SetGrailHolder(r.Context(), game.ID, userID); err != nil {
		writeStorageError(w, err)
		return
	}
	h.notifyGrailHolder(game.ID, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleGrailRevoke(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}
	if err := h.store.SetGrailHolder(r.Context(), game.ID, ""); err != nil {
		writeStorageError(w, err)
		return
	}
	h.notifyGrailHolder(game.ID, "")
	w.WriteHeader(http.StatusNoContent)
}

// notifyGrailHolder pushes a grail change to any peers currently at the
// table, so REST-driven grants show up without a rejoin.
func (h *handler) notifyGrailHolder(gameID string, userID string) {
	room := h.hub.peek(gameID)
	if room == nil {
		return
	}
	updated := wsFrame{Type: "table.grail.updated", Payload: mustJSON(grailUpdatedPayload{HolderUserID: userID})}
	for _, subscriber := range room.peers() {
		_ = subscriber.writeFrame(updated)
	}
}

func (h *handler) handleGrailModifiersGet(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, participant, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}
	if participant.Role != table.RoleKing && !participant.HasGrail {
		writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "grail modifiers are visible to the king and the holder")
		return
	}

	state, err := h.store.GetLiveState(r.Context(), game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.GrailModifiers)
}

func (h *handler) handleGrailModifiersPut(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}

	var req table.GrailModifiers
	if !readJSON(w, r, &req) {
		return
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid modifiers")
		return
	}

	if room := h.hub.peek(game.ID); room != nil {
		if _, err := room.setField(r.Context(), h.store, "grail_modifiers", string(encoded), func(state *table.LiveState) {
			state.GrailModifiers = req
		}); err != nil {
			writeStorageError(w, err)
			return
		}
	} else if err := h.store.SetLiveStateField(r.Context(), game.ID, "grail_modifiers", string(encoded)); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleRequestDeletion(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}
	if err := h.store.RequestGameDeletion(r.Context(), game.ID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCancelDeletion(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}
	if err := h.store.CancelGameDeletion(r.Context(), game.ID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleConfirmDeletion(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}

	var req deletionConfirmRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Confirmation != deletionConfirmationText {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "confirmation text does not match")
		return
	}

	if err := h.store.PermanentlyDeleteGame(r.Context(), game.ID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleAdminDeleteGame(w http.ResponseWriter, r *http.Request, user storage.User) {
	if !user.IsAdmin {
		writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "admin access required")
		return
	}
	if err := h.store.PrivilegedDeleteGame(r.Context(), r.PathValue("id")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleGetSheet(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}
	sheet, err := h.store.GetCharacterSheet(r.Context(), game.ID, user.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPISheet(sheet))
}

func (h *handler) handleSaveSheet(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}

	var req sheetRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Data) == 0 || !json.Valid(req.Data) {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "sheet data must be valid JSON")
		return
	}

	sheet := storage.CharacterSheet{
		GameID:        game.ID,
		UserID:        user.ID,
		CharacterName: strings.TrimSpace(req.CharacterName),
		Data:          string(req.Data),
	}
	if err := h.store.SaveCharacterSheet(r.Context(), sheet); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleListSheets(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, ok := h.requireOwner(w, r, user)
	if !ok {
		return
	}
	sheets, err := h.store.ListCharacterSheets(r.Context(), game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	response := make([]apiSheet, 0, len(sheets))
	for _, sheet := range sheets {
		response = append(response, toAPISheet(sheet))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) handleListMacros(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}
	macros, err := h.store.ListMacros(r.Context(), user.ID, game.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	response := make([]apiMacro, 0, len(macros))
	for _, macro := range macros {
		response = append(response, toAPIMacro(macro))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handler) handleCreateMacro(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}

	macro, valid := h.macroFromRequest(w, r)
	if !valid {
		return
	}
	macroID, err := id.New()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	macro.ID = macroID
	macro.UserID = user.ID
	macro.GameID = game.ID

	if err := h.store.CreateMacro(r.Context(), macro); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIMacro(macro))
}

func (h *handler) handleUpdateMacro(w http.ResponseWriter, r *http.Request, user storage.User) {
	game, _, ok := h.requireParticipant(w, r, user)
	if !ok {
		return
	}

	macro, valid := h.macroFromRequest(w, r)
	if !valid {
		return
	}
	macro.ID = r.PathValue("macroID")
	macro.UserID = user.ID
	macro.GameID = game.ID

	if err := h.store.UpdateMacro(r.Context(), macro); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDeleteMacro(w http.ResponseWriter, r *http.Request, user storage.User) {
	if _, _, ok := h.requireParticipant(w, r, user); !ok {
		return
	}
	if err := h.store.DeleteMacro(r.Context(), r.PathValue("macroID"), user.ID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// macroFromRequest validates the shared fields of macro create and update.
func (h *handler) macroFromRequest(w http.ResponseWriter, r *http.Request) (storage.Macro, bool) {
	var req macroRequest
	if !readJSON(w, r, &req) {
		return storage.Macro{}, false
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required")
		return storage.Macro{}, false
	}
	formula := strings.TrimSpace(req.Formula)
	if _, err := dice.Parse(formula); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "formula is not a valid dice expression")
		return storage.Macro{}, false
	}

	return storage.Macro{
		Name:        name,
		Formula:     formula,
		Description: strings.TrimSpace(req.Description),
	}, true
}

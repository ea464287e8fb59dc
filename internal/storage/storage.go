// Package storage defines persistence contracts for roundtable state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/roundtable/internal/table"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidField indicates a live-state update named a field outside the
	// updatable allow-list.
	ErrInvalidField = errors.New("field is not updatable")
	// ErrDeletionNotRequested indicates a permanent delete was attempted
	// without a prior deletion request.
	ErrDeletionNotRequested = errors.New("deletion has not been requested")
)

// User is one registered account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Game is one table a king runs for their knights.
type Game struct {
	ID                  string
	Name                string
	Description         string
	OwnerID             string
	RuleSystem          string
	GridType            table.GridType
	DefaultGridSize     int
	CreatedAt           time.Time
	LastPlayed          time.Time
	DeletionRequested   bool
	DeletionRequestedAt time.Time
}

// GameSettings holds the owner-editable subset of a game record.
type GameSettings struct {
	Name            string
	Description     string
	RuleSystem      string
	GridType        table.GridType
	DefaultGridSize int
}

// CharacterSheet stores one participant's opaque sheet data for a game.
type CharacterSheet struct {
	GameID        string
	UserID        string
	CharacterName string
	Data          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Macro is one saved roll formula.
type Macro struct {
	ID          string
	UserID      string
	GameID      string
	Name        string
	Formula     string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserStore persists account records.
type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

// GameStore persists game records and their lifecycle.
type GameStore interface {
	// CreateGame inserts the game, its owner's king membership, and an
	// empty state row in one transaction.
	CreateGame(ctx context.Context, game Game) error
	GetGame(ctx context.Context, gameID string) (Game, error)
	ListGamesForUser(ctx context.Context, userID string) ([]Game, error)
	UpdateGameSettings(ctx context.Context, gameID string, settings GameSettings) error
	TouchLastPlayed(ctx context.Context, gameID string) error
	RequestGameDeletion(ctx context.Context, gameID string) error
	CancelGameDeletion(ctx context.Context, gameID string) error
	// PermanentlyDeleteGame removes a game whose deletion was previously
	// requested; otherwise it fails with ErrDeletionNotRequested.
	PermanentlyDeleteGame(ctx context.Context, gameID string) error
	// PrivilegedDeleteGame removes a game unconditionally.
	PrivilegedDeleteGame(ctx context.Context, gameID string) error
}

// ParticipantStore persists game memberships.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, gameID string, userID string, role table.Role) error
	GetParticipant(ctx context.Context, gameID string, userID string) (table.Participant, error)
	GetParticipants(ctx context.Context, gameID string) ([]table.Participant, error)
	UpdateParticipantRole(ctx context.Context, gameID string, userID string, role table.Role) error
	UpdateCharacterName(ctx context.Context, gameID string, userID string, characterName string) error
	// SetGrailHolder clears every grail flag in the game and then sets the
	// given user's, so at most one participant holds the grail at a time.
	// An empty userID revokes the grail entirely.
	SetGrailHolder(ctx context.Context, gameID string, userID string) error
}

// StateStore persists the live shared state of a game table.
type StateStore interface {
	GetLiveState(ctx context.Context, gameID string) (table.LiveState, error)
	// SetLiveStateField updates a single allow-listed state field. Any field
	// outside the allow-list fails with ErrInvalidField.
	SetLiveStateField(ctx context.Context, gameID string, field string, value any) error
}

// SheetStore persists character sheets.
type SheetStore interface {
	SaveCharacterSheet(ctx context.Context, sheet CharacterSheet) error
	GetCharacterSheet(ctx context.Context, gameID string, userID string) (CharacterSheet, error)
	ListCharacterSheets(ctx context.Context, gameID string) ([]CharacterSheet, error)
}

// MacroStore persists saved roll formulas.
type MacroStore interface {
	CreateMacro(ctx context.Context, macro Macro) error
	ListMacros(ctx context.Context, userID string, gameID string) ([]Macro, error)
	UpdateMacro(ctx context.Context, macro Macro) error
	DeleteMacro(ctx context.Context, macroID string, userID string) error
}

// Store combines every persistence contract the table service depends on.
type Store interface {
	UserStore
	GameStore
	ParticipantStore
	StateStore
	SheetStore
	MacroStore
}

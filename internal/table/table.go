// Package table defines the shared domain types for a live game table:
// participant roles, map tokens, grail modifiers, and the rules that gate
// who may change what.
package table

import (
	"strings"
)

// Role identifies a participant's authority at the table.
type Role string

const (
	// RoleKing is the game master. Exactly one per game.
	RoleKing Role = "king"
	// RoleKnight is a player.
	RoleKnight Role = "knight"
)

// ParseRole validates a stored role value.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(value)) {
	case RoleKing:
		return RoleKing, true
	case RoleKnight:
		return RoleKnight, true
	default:
		return "", false
	}
}

// GridType selects how the map surface is subdivided.
type GridType string

const (
	GridSquare     GridType = "square"
	GridHexagon    GridType = "hexagon"
	GridContinuous GridType = "continuous"
)

// ParseGridType validates a stored grid type value.
func ParseGridType(value string) (GridType, bool) {
	switch GridType(strings.TrimSpace(value)) {
	case GridSquare:
		return GridSquare, true
	case GridHexagon:
		return GridHexagon, true
	case GridContinuous:
		return GridContinuous, true
	default:
		return "", false
	}
}

// TokenKind distinguishes player pieces from monsters on the map.
type TokenKind string

const (
	TokenPlayer  TokenKind = "player"
	TokenMonster TokenKind = "monster"
)

// Token is one piece on the shared map.
//
// Owner holds the display name of the participant who placed a player token.
// It is a weak reference: renaming a character leaves existing tokens behind.
type Token struct {
	ID    string    `json:"id"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Label string    `json:"label,omitempty"`
	Color string    `json:"color,omitempty"`
	Kind  TokenKind `json:"kind"`
	Owner string    `json:"owner,omitempty"`
}

// GrailModifiers stores the boons attached to the current grail holder.
type GrailModifiers struct {
	RollModifiers   []string `json:"roll_modifiers"`
	DamageModifiers []string `json:"damage_modifiers"`
	CustomMessage   string   `json:"custom_message,omitempty"`
}

// LiveState is the mutable shared state of one game table.
type LiveState struct {
	MapImage       string         `json:"map_image"`
	Tokens         []Token        `json:"tokens"`
	GridSize       int            `json:"grid_size"`
	Notes          string         `json:"notes"`
	MapWidth       float64        `json:"map_width"`
	MapHeight      float64        `json:"map_height"`
	GrailModifiers GrailModifiers `json:"grail_modifiers"`
}

// Participant is one (user, game) membership with its table-facing identity.
type Participant struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	CharacterName string `json:"character_name,omitempty"`
	Role          Role   `json:"role"`
	HasGrail      bool   `json:"has_grail"`
}

// DisplayName is the name a participant acts under at the table.
func (p Participant) DisplayName() string {
	if name := strings.TrimSpace(p.CharacterName); name != "" {
		return name
	}
	return strings.TrimSpace(p.Username)
}

// UpsertToken replaces the token with a matching ID in place, or appends the
// token when the ID is new. The returned slice preserves token order so an
// upsert never reshuffles the map.
func UpsertToken(tokens []Token, token Token) []Token {
	for i := range tokens {
		if tokens[i].ID == token.ID {
			tokens[i] = token
			return tokens
		}
	}
	return append(tokens, token)
}

// RemoveToken deletes the token with the given ID and reports whether it
// existed.
func RemoveToken(tokens []Token, tokenID string) ([]Token, bool) {
	for i := range tokens {
		if tokens[i].ID == tokenID {
			return append(tokens[:i], tokens[i+1:]...), true
		}
	}
	return tokens, false
}

// FindToken returns the token with the given ID.
func FindToken(tokens []Token, tokenID string) (Token, bool) {
	for _, token := range tokens {
		if token.ID == tokenID {
			return token, true
		}
	}
	return Token{}, false
}

// CanMutateToken reports whether a participant may create, move, or remove
// the given token. The king may touch everything; a knight may only touch
// player tokens owned by their own display name.
func CanMutateToken(actor Participant, token Token) bool {
	if actor.Role == RoleKing {
		return true
	}
	if token.Kind != TokenPlayer {
		return false
	}
	owner := strings.TrimSpace(token.Owner)
	return owner != "" && strings.EqualFold(owner, actor.DisplayName())
}

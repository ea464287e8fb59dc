package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table"
)

// liveStateFields is the only set of game_state columns a caller may update.
// Routing every update through this map is the defense against a client
// naming an arbitrary column.
var liveStateFields = map[string]func(value any) (any, error){
	"map_image":       coerceString,
	"tokens":          coerceJSON,
	"grid_size":       coerceInt,
	"notes":           coerceString,
	"map_width":       coerceFloat,
	"map_height":      coerceFloat,
	"grail_modifiers": coerceJSON,
}

// GetLiveState returns the shared table state for a game.
func (s *Store) GetLiveState(ctx context.Context, gameID string) (table.LiveState, error) {
	if err := ctx.Err(); err != nil {
		return table.LiveState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return table.LiveState{}, fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return table.LiveState{}, fmt.Errorf("game id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT map_image, tokens, grid_size, notes, map_width, map_height, grail_modifiers
		   FROM game_state
		  WHERE game_id = ?`,
		gameID,
	)

	var state table.LiveState
	var tokensJSON string
	var modifiersJSON string
	err := row.Scan(
		&state.MapImage,
		&tokensJSON,
		&state.GridSize,
		&state.Notes,
		&state.MapWidth,
		&state.MapHeight,
		&modifiersJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return table.LiveState{}, storage.ErrNotFound
		}
		return table.LiveState{}, fmt.Errorf("get live state: %w", err)
	}

	if err := json.Unmarshal([]byte(tokensJSON), &state.Tokens); err != nil {
		return table.LiveState{}, fmt.Errorf("decode tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(modifiersJSON), &state.GrailModifiers); err != nil {
		return table.LiveState{}, fmt.Errorf("decode grail modifiers: %w", err)
	}
	return state, nil
}

// SetLiveStateField updates one allow-listed game_state column.
func (s *Store) SetLiveStateField(ctx context.Context, gameID string, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}

	coerce, ok := liveStateFields[field]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrInvalidField, field)
	}
	coerced, err := coerce(value)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", storage.ErrInvalidField, field, err)
	}

	// The field name is safe to interpolate: it came from the allow-list
	// above, never from the caller's input.
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE game_state SET `+field+` = ?, updated_at = ? WHERE game_id = ?`,
		coerced,
		toMillis(time.Now()),
		gameID,
	)
	if err != nil {
		return fmt.Errorf("set live state field %s: %w", field, err)
	}
	return requireRowAffected(result, "set live state field")
}

func coerceString(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return text, nil
}

// coerceJSON accepts a JSON document as a string or any marshalable value.
func coerceJSON(value any) (any, error) {
	if text, ok := value.(string); ok {
		if !json.Valid([]byte(text)) {
			return nil, errors.New("value is not valid JSON")
		}
		return text, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return string(encoded), nil
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", value)
	}
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("expected number, got %T", value)
	}
}

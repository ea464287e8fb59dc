package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/roundtable/internal/storage"
)

// CreateMacro inserts one saved roll formula.
func (s *Store) CreateMacro(ctx context.Context, macro storage.Macro) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	macroID := strings.TrimSpace(macro.ID)
	userID := strings.TrimSpace(macro.UserID)
	gameID := strings.TrimSpace(macro.GameID)
	name := strings.TrimSpace(macro.Name)
	formula := strings.TrimSpace(macro.Formula)
	if macroID == "" {
		return fmt.Errorf("macro id is required")
	}
	if userID == "" || gameID == "" {
		return fmt.Errorf("user id and game id are required")
	}
	if name == "" {
		return fmt.Errorf("macro name is required")
	}
	if formula == "" {
		return fmt.Errorf("macro formula is required")
	}
	now := toMillis(time.Now())

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO macros (id, user_id, game_id, name, formula, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		macroID,
		userID,
		gameID,
		name,
		formula,
		strings.TrimSpace(macro.Description),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create macro: %w", err)
	}
	return nil
}

// ListMacros returns one user's macros for a game, alphabetically.
func (s *Store) ListMacros(ctx context.Context, userID string, gameID string) ([]storage.Macro, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	gameID = strings.TrimSpace(gameID)
	if userID == "" || gameID == "" {
		return nil, fmt.Errorf("user id and game id are required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, user_id, game_id, name, formula, description, created_at, updated_at
		   FROM macros
		  WHERE user_id = ? AND game_id = ?
		  ORDER BY name ASC`,
		userID,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var macros []storage.Macro
	for rows.Next() {
		macro, err := scanMacro(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list macros: %w", err)
		}
		macros = append(macros, macro)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	return macros, nil
}

// UpdateMacro replaces the editable fields of one macro. The owning user is
// part of the key so one user cannot edit another's macro.
func (s *Store) UpdateMacro(ctx context.Context, macro storage.Macro) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	macroID := strings.TrimSpace(macro.ID)
	userID := strings.TrimSpace(macro.UserID)
	name := strings.TrimSpace(macro.Name)
	formula := strings.TrimSpace(macro.Formula)
	if macroID == "" || userID == "" {
		return fmt.Errorf("macro id and user id are required")
	}
	if name == "" {
		return fmt.Errorf("macro name is required")
	}
	if formula == "" {
		return fmt.Errorf("macro formula is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE macros
		    SET name = ?, formula = ?, description = ?, updated_at = ?
		  WHERE id = ? AND user_id = ?`,
		name,
		formula,
		strings.TrimSpace(macro.Description),
		toMillis(time.Now()),
		macroID,
		userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("update macro: %w", err)
	}
	return requireRowAffected(result, "update macro")
}

// DeleteMacro removes one macro owned by the user.
func (s *Store) DeleteMacro(ctx context.Context, macroID string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	macroID = strings.TrimSpace(macroID)
	userID = strings.TrimSpace(userID)
	if macroID == "" || userID == "" {
		return fmt.Errorf("macro id and user id are required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM macros WHERE id = ? AND user_id = ?`,
		macroID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete macro: %w", err)
	}
	return requireRowAffected(result, "delete macro")
}

func scanMacro(scan func(dest ...any) error) (storage.Macro, error) {
	var macro storage.Macro
	var createdAt int64
	var updatedAt int64
	err := scan(
		&macro.ID,
		&macro.UserID,
		&macro.GameID,
		&macro.Name,
		&macro.Formula,
		&macro.Description,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Macro{}, storage.ErrNotFound
		}
		return storage.Macro{}, fmt.Errorf("get macro: %w", err)
	}
	macro.CreatedAt = fromMillis(createdAt)
	macro.UpdatedAt = fromMillis(updatedAt)
	return macro, nil
}

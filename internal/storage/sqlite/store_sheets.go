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
)

// SaveCharacterSheet inserts or replaces one participant's sheet.
func (s *Store) SaveCharacterSheet(ctx context.Context, sheet storage.CharacterSheet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID := strings.TrimSpace(sheet.GameID)
	userID := strings.TrimSpace(sheet.UserID)
	if gameID == "" || userID == "" {
		return fmt.Errorf("game id and user id are required")
	}
	data := strings.TrimSpace(sheet.Data)
	if data == "" {
		data = "{}"
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("character data is not valid JSON")
	}
	now := toMillis(time.Now())

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO character_sheets (game_id, user_id, character_name, character_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, user_id) DO UPDATE
		 SET character_name = excluded.character_name,
		     character_data = excluded.character_data,
		     updated_at = excluded.updated_at`,
		gameID,
		userID,
		strings.TrimSpace(sheet.CharacterName),
		data,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("save character sheet: %w", err)
	}
	return nil
}

// GetCharacterSheet returns one participant's sheet.
func (s *Store) GetCharacterSheet(ctx context.Context, gameID string, userID string) (storage.CharacterSheet, error) {
	if err := ctx.Err(); err != nil {
		return storage.CharacterSheet{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CharacterSheet{}, fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return storage.CharacterSheet{}, fmt.Errorf("game id and user id are required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT game_id, user_id, character_name, character_data, created_at, updated_at
		   FROM character_sheets
		  WHERE game_id = ? AND user_id = ?`,
		gameID,
		userID,
	)
	return scanSheet(row.Scan)
}

// ListCharacterSheets returns every sheet of a game.
func (s *Store) ListCharacterSheets(ctx context.Context, gameID string) ([]storage.CharacterSheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, fmt.Errorf("game id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT game_id, user_id, character_name, character_data, created_at, updated_at
		   FROM character_sheets
		  WHERE game_id = ?
		  ORDER BY user_id ASC`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list character sheets: %w", err)
	}
	defer rows.Close()

	var sheets []storage.CharacterSheet
	for rows.Next() {
		sheet, err := scanSheet(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list character sheets: %w", err)
		}
		sheets = append(sheets, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list character sheets: %w", err)
	}
	return sheets, nil
}

func scanSheet(scan func(dest ...any) error) (storage.CharacterSheet, error) {
	var sheet storage.CharacterSheet
	var createdAt int64
	var updatedAt int64
	err := scan(
		&sheet.GameID,
		&sheet.UserID,
		&sheet.CharacterName,
		&sheet.Data,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CharacterSheet{}, storage.ErrNotFound
		}
		return storage.CharacterSheet{}, fmt.Errorf("get character sheet: %w", err)
	}
	sheet.CreatedAt = fromMillis(createdAt)
	sheet.UpdatedAt = fromMillis(updatedAt)
	return sheet, nil
}

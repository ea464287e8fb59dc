package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/table"
)

const gameColumns = `id, name, description, owner_id, rule_system, grid_type,
	        default_grid_size, created_at, last_played,
	        deletion_requested, deletion_requested_at`

// CreateGame inserts one game, its owner's king membership, and an empty
// state row in a single transaction.
func (s *Store) CreateGame(ctx context.Context, game storage.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID := strings.TrimSpace(game.ID)
	name := strings.TrimSpace(game.Name)
	ownerID := strings.TrimSpace(game.OwnerID)
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}
	if name == "" {
		return fmt.Errorf("game name is required")
	}
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	ruleSystem := strings.TrimSpace(game.RuleSystem)
	if ruleSystem == "" {
		ruleSystem = "dnd5e"
	}
	gridType := game.GridType
	if gridType == "" {
		gridType = table.GridSquare
	}
	if _, ok := table.ParseGridType(string(gridType)); !ok {
		return fmt.Errorf("grid type %q is not valid", gridType)
	}
	gridSize := game.DefaultGridSize
	if gridSize <= 0 {
		gridSize = 50
	}
	createdAt := game.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	lastPlayed := game.LastPlayed.UTC()
	if lastPlayed.IsZero() {
		lastPlayed = createdAt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create game: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO games (
		   id, name, description, owner_id, rule_system, grid_type,
		   default_grid_size, created_at, last_played
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gameID,
		name,
		strings.TrimSpace(game.Description),
		ownerID,
		ruleSystem,
		string(gridType),
		gridSize,
		toMillis(createdAt),
		toMillis(lastPlayed),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create game: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO game_participants (game_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?)`,
		gameID,
		ownerID,
		string(table.RoleKing),
		toMillis(createdAt),
	); err != nil {
		return fmt.Errorf("create game owner membership: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO game_state (game_id, grid_size, updated_at)
		 VALUES (?, ?, ?)`,
		gameID,
		gridSize,
		toMillis(createdAt),
	); err != nil {
		return fmt.Errorf("create game state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create game: %w", err)
	}
	return nil
}

// GetGame returns one game by ID.
func (s *Store) GetGame(ctx context.Context, gameID string) (storage.Game, error) {
	if err := ctx.Err(); err != nil {
		return storage.Game{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Game{}, fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return storage.Game{}, fmt.Errorf("game id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+gameColumns+`
		   FROM games
		  WHERE id = ?`,
		gameID,
	)
	return scanGame(row.Scan)
}

// ListGamesForUser returns every game the user participates in, most
// recently played first.
func (s *Store) ListGamesForUser(ctx context.Context, userID string) ([]storage.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT g.id, g.name, g.description, g.owner_id, g.rule_system, g.grid_type,
		        g.default_grid_size, g.created_at, g.last_played,
		        g.deletion_requested, g.deletion_requested_at
		   FROM games g
		   JOIN game_participants p ON p.game_id = g.id
		  WHERE p.user_id = ?
		  ORDER BY g.last_played DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []storage.Game
	for rows.Next() {
		game, err := scanGame(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list games: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}

// UpdateGameSettings replaces the owner-editable fields of a game.
func (s *Store) UpdateGameSettings(ctx context.Context, gameID string, settings storage.GameSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	name := strings.TrimSpace(settings.Name)
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}
	if name == "" {
		return fmt.Errorf("game name is required")
	}
	if _, ok := table.ParseGridType(string(settings.GridType)); !ok {
		return fmt.Errorf("grid type %q is not valid", settings.GridType)
	}
	if settings.DefaultGridSize <= 0 {
		return fmt.Errorf("default grid size must be greater than zero")
	}
	ruleSystem := strings.TrimSpace(settings.RuleSystem)
	if ruleSystem == "" {
		ruleSystem = "dnd5e"
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games
		    SET name = ?, description = ?, rule_system = ?, grid_type = ?, default_grid_size = ?
		  WHERE id = ?`,
		name,
		strings.TrimSpace(settings.Description),
		ruleSystem,
		string(settings.GridType),
		settings.DefaultGridSize,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("update game settings: %w", err)
	}
	return requireRowAffected(result, "update game settings")
}

// TouchLastPlayed bumps the game's last-played timestamp to now.
func (s *Store) TouchLastPlayed(ctx context.Context, gameID string) error {
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

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games SET last_played = ? WHERE id = ?`,
		toMillis(time.Now()),
		gameID,
	)
	if err != nil {
		return fmt.Errorf("touch last played: %w", err)
	}
	return requireRowAffected(result, "touch last played")
}

// RequestGameDeletion marks a game for deletion.
func (s *Store) RequestGameDeletion(ctx context.Context, gameID string) error {
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

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games SET deletion_requested = 1, deletion_requested_at = ? WHERE id = ?`,
		toMillis(time.Now()),
		gameID,
	)
	if err != nil {
		return fmt.Errorf("request game deletion: %w", err)
	}
	return requireRowAffected(result, "request game deletion")
}

// CancelGameDeletion clears a pending deletion request.
func (s *Store) CancelGameDeletion(ctx context.Context, gameID string) error {
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

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games SET deletion_requested = 0, deletion_requested_at = NULL WHERE id = ?`,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("cancel game deletion: %w", err)
	}
	return requireRowAffected(result, "cancel game deletion")
}

// PermanentlyDeleteGame removes a game whose deletion was requested.
// Participant, state, sheet, and macro rows cascade.
func (s *Store) PermanentlyDeleteGame(ctx context.Context, gameID string) error {
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

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM games WHERE id = ? AND deletion_requested = 1`,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("permanently delete game: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("permanently delete game: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetGame(ctx, gameID); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrDeletionNotRequested
	}
	return nil
}

// PrivilegedDeleteGame removes a game without a prior deletion request.
func (s *Store) PrivilegedDeleteGame(ctx context.Context, gameID string) error {
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

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, gameID)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return requireRowAffected(result, "delete game")
}

func scanGame(scan func(dest ...any) error) (storage.Game, error) {
	var game storage.Game
	var gridType string
	var createdAt int64
	var lastPlayed int64
	var deletionRequested int
	var deletionRequestedAt sql.NullInt64
	err := scan(
		&game.ID,
		&game.Name,
		&game.Description,
		&game.OwnerID,
		&game.RuleSystem,
		&gridType,
		&game.DefaultGridSize,
		&createdAt,
		&lastPlayed,
		&deletionRequested,
		&deletionRequestedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Game{}, storage.ErrNotFound
		}
		return storage.Game{}, fmt.Errorf("get game: %w", err)
	}
	game.GridType = table.GridType(gridType)
	game.CreatedAt = fromMillis(createdAt)
	game.LastPlayed = fromMillis(lastPlayed)
	game.DeletionRequested = deletionRequested != 0
	if deletionRequestedAt.Valid {
		game.DeletionRequestedAt = fromMillis(deletionRequestedAt.Int64)
	}
	return game, nil
}

func requireRowAffected(result sql.Result, operation string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

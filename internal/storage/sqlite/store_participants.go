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

// AddParticipant inserts one game membership.
func (s *Store) AddParticipant(ctx context.Context, gameID string, userID string, role table.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, ok := table.ParseRole(string(role)); !ok {
		return fmt.Errorf("role %q is not valid", role)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO game_participants (game_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?)`,
		gameID,
		userID,
		string(role),
		toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// GetParticipant returns one membership with its table-facing identity.
func (s *Store) GetParticipant(ctx context.Context, gameID string, userID string) (table.Participant, error) {
	if err := ctx.Err(); err != nil {
		return table.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return table.Participant{}, fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return table.Participant{}, fmt.Errorf("game id and user id are required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT p.user_id, u.username, p.character_name, p.role, p.has_grail
		   FROM game_participants p
		   JOIN users u ON u.id = p.user_id
		  WHERE p.game_id = ? AND p.user_id = ?`,
		gameID,
		userID,
	)
	return scanParticipant(row.Scan)
}

// GetParticipants returns every membership of a game in join order.
func (s *Store) GetParticipants(ctx context.Context, gameID string) ([]table.Participant, error) {
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
		`SELECT p.user_id, u.username, p.character_name, p.role, p.has_grail
		   FROM game_participants p
		   JOIN users u ON u.id = p.user_id
		  WHERE p.game_id = ?
		  ORDER BY p.joined_at ASC, p.user_id ASC`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []table.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// UpdateParticipantRole changes one membership's role.
func (s *Store) UpdateParticipantRole(ctx context.Context, gameID string, userID string, role table.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return fmt.Errorf("game id and user id are required")
	}
	if _, ok := table.ParseRole(string(role)); !ok {
		return fmt.Errorf("role %q is not valid", role)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE game_participants SET role = ? WHERE game_id = ? AND user_id = ?`,
		string(role),
		gameID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("update participant role: %w", err)
	}
	return requireRowAffected(result, "update participant role")
}

// UpdateCharacterName changes the name a participant acts under.
func (s *Store) UpdateCharacterName(ctx context.Context, gameID string, userID string, characterName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" || userID == "" {
		return fmt.Errorf("game id and user id are required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE game_participants SET character_name = ? WHERE game_id = ? AND user_id = ?`,
		strings.TrimSpace(characterName),
		gameID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("update character name: %w", err)
	}
	return requireRowAffected(result, "update character name")
}

// SetGrailHolder clears every grail flag in the game and sets the given
// user's in one transaction. An empty userID leaves no holder.
func (s *Store) SetGrailHolder(ctx context.Context, gameID string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set grail holder: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE game_participants SET has_grail = 0 WHERE game_id = ?`,
		gameID,
	); err != nil {
		return fmt.Errorf("clear grail flags: %w", err)
	}

	if userID != "" {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE game_participants SET has_grail = 1 WHERE game_id = ? AND user_id = ?`,
			gameID,
			userID,
		)
		if err != nil {
			return fmt.Errorf("set grail holder: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("set grail holder: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set grail holder: %w", err)
	}
	return nil
}

func scanParticipant(scan func(dest ...any) error) (table.Participant, error) {
	var participant table.Participant
	var role string
	var hasGrail int
	err := scan(
		&participant.UserID,
		&participant.Username,
		&participant.CharacterName,
		&role,
		&hasGrail,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return table.Participant{}, storage.ErrNotFound
		}
		return table.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	participant.Role = table.Role(role)
	participant.HasGrail = hasGrail != 0
	return participant, nil
}

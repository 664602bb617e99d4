package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kotae-ai/kotae/internal/model"
)

// CreateSession inserts a new interview session and returns it with its
// generated identifier and creation timestamp populated.
func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := WithRetry(ctx, db.logger, func() error {
		return db.pool.QueryRow(ctx, `
			INSERT INTO sessions (id, user_id, category, role, difficulty, turn_count, max_turns, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, s.ID, s.UserID, s.Category, s.Role, s.Difficulty, s.TurnCount, s.MaxTurns, s.Status).Scan(&s.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}

// GetSession loads a session by id. Returns ErrNotFound when no row matches.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx, `
		SELECT id, user_id, category, role, difficulty, turn_count, max_turns, status, created_at, completed_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Category, &s.Role, &s.Difficulty, &s.TurnCount,
		&s.MaxTurns, &s.Status, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session %s: %w", id, err)
	}
	return &s, nil
}

// UpdateSessionProgress persists the current turn counter and difficulty for a
// session after a turn advances.
func (db *DB) UpdateSessionProgress(ctx context.Context, id uuid.UUID, turnCount, difficulty int) error {
	err := WithRetry(ctx, db.logger, func() error {
		tag, err := db.pool.Exec(ctx, `
			UPDATE sessions SET turn_count = $2, difficulty = $3 WHERE id = $1
		`, id, turnCount, difficulty)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: update session %s progress: %w", id, err)
	}
	return nil
}

// CompleteSession marks a session completed, recording its final difficulty
// and completion time.
func (db *DB) CompleteSession(ctx context.Context, id uuid.UUID, difficulty int) error {
	now := time.Now().UTC()
	err := WithRetry(ctx, db.logger, func() error {
		tag, err := db.pool.Exec(ctx, `
			UPDATE sessions
			SET status = $2, difficulty = $3, completed_at = $4
			WHERE id = $1
		`, id, model.SessionCompleted, difficulty, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: complete session %s: %w", id, err)
	}
	return nil
}

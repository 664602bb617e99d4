package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/model"
)

// SaveMessage inserts a transcript message and returns it with the generated
// identifier and creation timestamp populated.
func (db *DB) SaveMessage(ctx context.Context, m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := WithRetry(ctx, db.logger, func() error {
		return db.pool.QueryRow(ctx, `
			INSERT INTO messages (id, session_id, role, content, turn_num, competency, score, is_follow_up)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, m.ID, m.SessionID, m.Role, m.Content, m.TurnNum, m.Competency, m.Score, m.IsFollowUp).Scan(&m.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

// AmendMessageScore attaches a grading outcome to an already-persisted answer.
// The answer content itself is immutable; only competency and score change.
func (db *DB) AmendMessageScore(ctx context.Context, id uuid.UUID, competency string, score int) error {
	err := WithRetry(ctx, db.logger, func() error {
		tag, err := db.pool.Exec(ctx, `
			UPDATE messages SET competency = $2, score = $3 WHERE id = $1
		`, id, competency, score)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: amend message %s score: %w", id, err)
	}
	return nil
}

// ListMessages returns all transcript messages for a session ordered by turn
// number, then insertion time for messages sharing a turn.
func (db *DB) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]model.Message, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, session_id, role, content, turn_num, competency, score, is_follow_up, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY turn_num ASC, created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TurnNum,
			&m.Competency, &m.Score, &m.IsFollowUp, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list messages for %s: %w", sessionID, err)
	}
	return msgs, nil
}

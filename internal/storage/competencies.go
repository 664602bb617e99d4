package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/model"
)

// UpsertCompetencyScore folds a new score into the running average for a
// competency within a session. The stored average is count-weighted so each
// graded answer contributes equally regardless of when it arrived.
func (db *DB) UpsertCompetencyScore(ctx context.Context, sessionID uuid.UUID, competency string, score int) error {
	err := WithRetry(ctx, db.logger, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO competency_scores (session_id, competency, avg_score, attempts)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (session_id, competency) DO UPDATE SET
				avg_score = (competency_scores.avg_score * competency_scores.attempts + EXCLUDED.avg_score)
					/ (competency_scores.attempts + 1),
				attempts = competency_scores.attempts + 1
		`, sessionID, competency, float64(score))
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert competency score: %w", err)
	}
	return nil
}

// ListCompetencyScores returns the per-competency running averages for a
// session, weakest first.
func (db *DB) ListCompetencyScores(ctx context.Context, sessionID uuid.UUID) ([]model.CompetencyScore, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT competency, avg_score, attempts
		FROM competency_scores
		WHERE session_id = $1
		ORDER BY avg_score ASC, competency ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list competency scores for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var scores []model.CompetencyScore
	for rows.Next() {
		var cs model.CompetencyScore
		if err := rows.Scan(&cs.Competency, &cs.AvgScore, &cs.Attempts); err != nil {
			return nil, fmt.Errorf("storage: scan competency score: %w", err)
		}
		scores = append(scores, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list competency scores for %s: %w", sessionID, err)
	}
	return scores, nil
}

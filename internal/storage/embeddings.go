package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SaveMessageEmbedding persists a durable copy of the answer embedding
// alongside the transcript. The vector index in Qdrant serves similarity
// search; this copy lets embeddings be re-indexed without calling the
// embedding provider again.
func (db *DB) SaveMessageEmbedding(ctx context.Context, messageID, sessionID uuid.UUID, embedding pgvector.Vector) error {
	err := WithRetry(ctx, db.logger, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO message_embeddings (message_id, session_id, embedding)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id) DO NOTHING
		`, messageID, sessionID, embedding)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: save message embedding: %w", err)
	}
	return nil
}

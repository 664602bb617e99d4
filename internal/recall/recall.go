// Package recall indexes graded answers and looks up semantically similar
// past answers within a session, so the follow-up policy can detect
// recurring weaknesses.
//
// Recall is strictly non-critical: every caller treats an error from this
// package as "no recurrence signal" and proceeds with the turn.
package recall

import (
	"context"

	"github.com/google/uuid"
)

// Similarity constants for recurring-weakness lookup.
const (
	// ScoreThreshold is the minimum cosine similarity for a past answer
	// to count as "the same ground".
	ScoreThreshold = 0.75

	// MatchLimit bounds how many similar past answers are considered.
	MatchLimit = 4

	// WeakScore is the recorded grading score below which a similar past
	// answer flags a recurring weakness.
	WeakScore = 3
)

// Answer is one graded question/answer pair to index.
type Answer struct {
	SessionID  uuid.UUID
	MessageID  uuid.UUID
	Turn       int
	Competency string
	Score      int
	Embedding  []float32
}

// Match is a semantically similar past answer found for a session.
type Match struct {
	MessageID  uuid.UUID
	Competency string
	// Score is the recorded grading score of the matched answer.
	Score int
	// Similarity is the raw cosine similarity of the match.
	Similarity float32
}

// Recaller indexes graded answers and finds similar past ones.
// Implementations must be safe for concurrent use.
type Recaller interface {
	// Index stores a graded answer for future similarity lookups.
	Index(ctx context.Context, a Answer) error

	// FindSimilar returns past answers from the same session whose
	// embeddings are similar to the query embedding.
	FindSimilar(ctx context.Context, sessionID uuid.UUID, embedding []float32, limit int) ([]Match, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// HasRecurringWeakness reports whether any match carries a recorded score
// below WeakScore.
func HasRecurringWeakness(matches []Match) bool {
	for _, m := range matches {
		if m.Score < WeakScore {
			return true
		}
	}
	return false
}

// Noop is a Recaller that indexes nothing and finds nothing. Used when no
// vector index is configured; follow-up decisions then rest on score and
// gaps alone.
type Noop struct{}

// Index discards the answer.
func (Noop) Index(context.Context, Answer) error { return nil }

// FindSimilar returns no matches.
func (Noop) FindSimilar(context.Context, uuid.UUID, []float32, int) ([]Match, error) {
	return nil, nil
}

// Healthy always succeeds.
func (Noop) Healthy(context.Context) error { return nil }

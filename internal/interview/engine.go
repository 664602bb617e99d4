// Package interview drives the turn-orchestration state machine at the heart
// of the service: ask, grade, decide follow-up, coach, recalibrate, repeat
// until the turn budget is exhausted, then report.
//
// Both the HTTP API and MCP server delegate to the Engine, so the turn
// protocol behaves identically across interfaces.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/kotae-ai/kotae/internal/embedding"
	"github.com/kotae-ai/kotae/internal/llm"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/problems"
	"github.com/kotae-ai/kotae/internal/recall"
	"github.com/kotae-ai/kotae/internal/speech"
	"github.com/kotae-ai/kotae/internal/storage"
	"github.com/kotae-ai/kotae/internal/telemetry"
)

// weakThreshold is the rolling competency average below which a competency is
// flagged as a probe target for the interviewer.
const weakThreshold = 3.0

// Difficulty calibration bounds: the competency mean at or above which
// difficulty rises, and at or below which it drops.
const (
	raiseAt = 4.0
	lowerAt = 2.0
)

// Store is the session persistence the engine depends on. *storage.DB
// implements it; tests substitute fakes.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	UpdateSessionProgress(ctx context.Context, id uuid.UUID, turnCount, difficulty int) error
	CompleteSession(ctx context.Context, id uuid.UUID, difficulty int) error
	SaveMessage(ctx context.Context, m *model.Message) error
	AmendMessageScore(ctx context.Context, id uuid.UUID, competency string, score int) error
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]model.Message, error)
	UpsertCompetencyScore(ctx context.Context, sessionID uuid.UUID, competency string, score int) error
	ListCompetencyScores(ctx context.Context, sessionID uuid.UUID) ([]model.CompetencyScore, error)
	SaveMessageEmbedding(ctx context.Context, messageID, sessionID uuid.UUID, embedding pgvector.Vector) error
}

// Engine runs one state machine instance per session. All external calls
// within a turn are sequential: grading feeds the follow-up decision, which
// feeds coaching.
type Engine struct {
	store    Store
	gen      llm.Generator
	embedder embedding.Provider
	recaller recall.Recaller
	tts      speech.Synthesizer
	logger   *slog.Logger

	registry *registry

	turnDuration  metric.Float64Histogram
	gradeDuration metric.Float64Histogram
}

// New creates an Engine. recaller and tts may be the package Noop
// implementations when the backing services are not configured.
func New(store Store, gen llm.Generator, embedder embedding.Provider, recaller recall.Recaller, tts speech.Synthesizer, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("kotae/interview")
	turnDur, _ := meter.Float64Histogram("kotae.turn.duration",
		metric.WithDescription("Time to process one answered turn (ms)"),
		metric.WithUnit("ms"),
	)
	gradeDur, _ := meter.Float64Histogram("kotae.grade.duration",
		metric.WithDescription("Time to grade one answer (ms)"),
		metric.WithUnit("ms"),
	)
	return &Engine{
		store:         store,
		gen:           gen,
		embedder:      embedder,
		recaller:      recaller,
		tts:           tts,
		logger:        logger,
		registry:      newRegistry(),
		turnDuration:  turnDur,
		gradeDuration: gradeDur,
	}
}

// CreateSession validates the request, applies defaults and persists a new
// session owned by userID.
func (e *Engine) CreateSession(ctx context.Context, userID string, req model.CreateSessionRequest) (*model.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess := &model.Session{
		UserID:     userID,
		Category:   req.Category,
		Role:       req.Role,
		Difficulty: req.Difficulty,
		MaxTurns:   req.MaxTurns,
		Status:     model.SessionActive,
	}
	if sess.Role == "" {
		sess.Role = model.DefaultRole
	}
	if sess.Difficulty == 0 {
		sess.Difficulty = model.DefaultDifficulty
	}
	if sess.MaxTurns == 0 {
		sess.MaxTurns = model.DefaultMaxTurns
	}

	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.registry.seed(sess.ID)

	e.logger.Info("session created",
		"session_id", sess.ID,
		"category", sess.Category,
		"difficulty", sess.Difficulty,
		"max_turns", sess.MaxTurns,
	)
	return sess, nil
}

// Start issues the first question of a session and moves it to
// AwaitingAnswer. Rejects a second start.
func (e *Engine) Start(ctx context.Context, sessionID uuid.UUID, userID string) (*model.StartResponse, error) {
	sess, err := e.authorize(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionCompleted {
		return nil, ErrSessionComplete
	}

	st, err := e.acquire(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	if st.state != StateAwaitingStart {
		if st.state == StateComplete {
			return nil, ErrSessionComplete
		}
		return nil, ErrAlreadyStarted
	}

	question, err := e.gen.Question(ctx, llm.QuestionContext{
		Category:   sess.Category,
		Role:       sess.Role,
		Difficulty: sess.Difficulty,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: first question: %w", ErrUpstreamGeneration, err)
	}

	// The first question carries turn 1; the turn counter stays at 0 until
	// the first answer arrives.
	msg := &model.Message{
		SessionID: sess.ID,
		Role:      model.RoleInterviewer,
		Content:   question,
		TurnNum:   1,
	}
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	st.lastQuestion = question
	st.recordQuestion(1, question)
	st.state = StateAwaitingAnswer

	audio := e.synthesize(ctx, sess.ID, question)

	e.logger.Info("session started", "session_id", sess.ID, "difficulty", sess.Difficulty)
	return &model.StartResponse{
		Question:   question,
		Audio:      audio,
		Turn:       1,
		Difficulty: sess.Difficulty,
	}, nil
}

// Report builds the coaching report for a session: overall score across all
// scored answers, per-competency rollups, the coaching-note sequence and the
// answered-turn count.
func (e *Engine) Report(ctx context.Context, sessionID uuid.UUID, userID string) (*model.Report, error) {
	sess, err := e.authorize(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := e.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	var scoreSum, scored, answered int
	for _, m := range msgs {
		if m.Role != model.RoleUser {
			continue
		}
		answered++
		if m.Score != nil {
			scoreSum += *m.Score
			scored++
		}
	}
	var overall float64
	if scored > 0 {
		overall = float64(scoreSum) / float64(scored)
	}

	comps, err := e.store.ListCompetencyScores(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	// Reports are read-only, so an in-flight turn must not block them. If
	// the turn lock is free, hydrate if needed; if a turn holds it, the
	// state is already hydrated and the notes snapshot is safe on its own.
	st := e.registry.get(sess.ID)
	if st.mu.TryLock() {
		if !st.hydrated {
			st.hydrate(sess, msgs)
		}
		st.mu.Unlock()
	}
	notes := st.snapshotNotes()

	return &model.Report{
		SessionID:       sess.ID,
		Category:        sess.Category,
		Role:            sess.Role,
		Status:          sess.Status,
		OverallScore:    overall,
		TurnsAnswered:   answered,
		FinalDifficulty: sess.Difficulty,
		Competencies:    comps,
		CoachingNotes:   notes,
	}, nil
}

// History returns the full message transcript of a session in turn order.
func (e *Engine) History(ctx context.Context, sessionID uuid.UUID, userID string) ([]model.Message, error) {
	sess, err := e.authorize(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return e.store.ListMessages(ctx, sess.ID)
}

// TechnicalProblems returns the session's deterministic pair of coding
// problems: a warm-up and a harder one. The same session always gets the same
// pair.
func (e *Engine) TechnicalProblems(ctx context.Context, sessionID uuid.UUID, userID string) (easy, hard problems.Problem, err error) {
	sess, err := e.authorize(ctx, sessionID, userID)
	if err != nil {
		return problems.Problem{}, problems.Problem{}, err
	}
	if sess.Category != model.CategoryTechnical {
		return problems.Problem{}, problems.Problem{}, ErrNotTechnical
	}
	return problems.PickTwo(sess.ID.String())
}

// authorize loads the session and enforces ownership before any side effect.
func (e *Engine) authorize(ctx context.Context, sessionID uuid.UUID, userID string) (*model.Session, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// acquire takes exclusive ownership of the session's state machine for the
// duration of one turn, hydrating it from the transcript after a restart.
// Returns ErrTurnInProgress instead of queueing behind an in-flight turn.
func (e *Engine) acquire(ctx context.Context, sess *model.Session) (*sessionState, error) {
	st := e.registry.get(sess.ID)
	if !st.mu.TryLock() {
		return nil, ErrTurnInProgress
	}
	if !st.hydrated {
		msgs, err := e.store.ListMessages(ctx, sess.ID)
		if err != nil {
			st.mu.Unlock()
			return nil, err
		}
		st.hydrate(sess, msgs)
	}
	return st, nil
}

// synthesize attempts speech synthesis for a question. Any failure, timeout
// or interrupt degrades to no audio; the turn never fails on synthesis.
func (e *Engine) synthesize(ctx context.Context, sessionID uuid.UUID, text string) string {
	audio, err := e.tts.Synthesize(ctx, text, sessionID)
	if err != nil {
		e.logger.Warn("speech synthesis failed, continuing without audio",
			"session_id", sessionID, "error", err)
		return ""
	}
	return audio
}

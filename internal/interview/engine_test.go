package interview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/llm"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/recall"
	"github.com/kotae-ai/kotae/internal/speech"
	"github.com/kotae-ai/kotae/internal/storage"
)

// fakeStore is an in-memory Store with database-like copy semantics: reads
// return copies, so engine-side mutation is only visible after a write.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.Session
	messages []model.Message
	comps    map[uuid.UUID]map[string]model.CompetencyScore
	embSaved int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]model.Session),
		comps:    make(map[uuid.UUID]map[string]model.CompetencyScore),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (f *fakeStore) UpdateSessionProgress(_ context.Context, id uuid.UUID, turnCount, difficulty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.TurnCount = turnCount
	s.Difficulty = difficulty
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) CompleteSession(_ context.Context, id uuid.UUID, difficulty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	s.Status = model.SessionCompleted
	s.Difficulty = difficulty
	s.CompletedAt = &now
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) SaveMessage(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeStore) AmendMessageScore(_ context.Context, id uuid.UUID, competency string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].Competency = &competency
			f.messages[i].Score = &score
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) ListMessages(_ context.Context, sessionID uuid.UUID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnNum < out[j].TurnNum })
	return out, nil
}

func (f *fakeStore) UpsertCompetencyScore(_ context.Context, sessionID uuid.UUID, competency string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byName := f.comps[sessionID]
	if byName == nil {
		byName = make(map[string]model.CompetencyScore)
		f.comps[sessionID] = byName
	}
	cs, ok := byName[competency]
	if !ok {
		byName[competency] = model.CompetencyScore{Competency: competency, AvgScore: float64(score), Attempts: 1}
		return nil
	}
	cs.AvgScore = (cs.AvgScore*float64(cs.Attempts) + float64(score)) / float64(cs.Attempts+1)
	cs.Attempts++
	byName[competency] = cs
	return nil
}

func (f *fakeStore) ListCompetencyScores(_ context.Context, sessionID uuid.UUID) ([]model.CompetencyScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CompetencyScore
	for _, cs := range f.comps[sessionID] {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvgScore < out[j].AvgScore })
	return out, nil
}

func (f *fakeStore) SaveMessageEmbedding(_ context.Context, _, _ uuid.UUID, _ pgvector.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embSaved++
	return nil
}

func (f *fakeStore) messagesByRole(sessionID uuid.UUID, role model.MessageRole) []model.Message {
	msgs, _ := f.ListMessages(context.Background(), sessionID)
	var out []model.Message
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type gradeResult struct {
	g   model.Grading
	err error
}

// fakeGen scripts generator responses per call and counts invocations.
type fakeGen struct {
	mu            sync.Mutex
	grades        []gradeResult
	followUps     []string
	questionCalls int
	gradeCalls    int
	followUpCalls int
	coachCalls    int

	// gradeGate, when non-nil, blocks Grade until the channel is closed.
	gradeGate    chan struct{}
	gradeStarted chan struct{}
}

func (g *fakeGen) Question(_ context.Context, _ llm.QuestionContext) (string, error) {
	g.mu.Lock()
	g.questionCalls++
	n := g.questionCalls
	g.mu.Unlock()
	return fmt.Sprintf("generated question %d", n), nil
}

func (g *fakeGen) Grade(_ context.Context, _ llm.GradeContext) (model.Grading, error) {
	g.mu.Lock()
	g.gradeCalls++
	var res gradeResult
	if len(g.grades) > 0 {
		res = g.grades[0]
		g.grades = g.grades[1:]
	} else {
		res.g = grading(4, "communication", nil, "")
	}
	started := g.gradeStarted
	gate := g.gradeGate
	g.mu.Unlock()

	if started != nil {
		close(started)
		g.mu.Lock()
		g.gradeStarted = nil
		g.mu.Unlock()
	}
	if gate != nil {
		<-gate
	}
	return res.g, res.err
}

func (g *fakeGen) FollowUp(_ context.Context, _ llm.FollowUpContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.followUpCalls++
	if len(g.followUps) > 0 {
		q := g.followUps[0]
		g.followUps = g.followUps[1:]
		return q, nil
	}
	return "generated follow-up", nil
}

func (g *fakeGen) CoachNote(_ context.Context, _ llm.CoachContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coachCalls++
	return fmt.Sprintf("coaching note %d", g.coachCalls), nil
}

// fakeEmbedder returns a fixed non-zero vector.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.NewVector([]float32{0.1, 0.2, 0.3}), nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i := range out {
		out[i] = pgvector.NewVector([]float32{0.1, 0.2, 0.3})
	}
	return out, nil
}

// fakeRecaller scripts similarity matches and records indexed answers.
type fakeRecaller struct {
	mu      sync.Mutex
	matches []recall.Match
	findErr error
	indexed []recall.Answer
}

func (r *fakeRecaller) Index(_ context.Context, a recall.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, a)
	return nil
}

func (r *fakeRecaller) FindSimilar(_ context.Context, _ uuid.UUID, _ []float32, _ int) ([]recall.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matches, r.findErr
}

func (r *fakeRecaller) Healthy(_ context.Context) error { return nil }

func grading(score int, competency string, gaps []string, suggestion string) model.Grading {
	return model.Grading{
		Score:              score,
		Competency:         competency,
		Feedback:           "feedback",
		Strengths:          []string{"clear"},
		Gaps:               gaps,
		FollowUpSuggestion: suggestion,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(store Store, gen *fakeGen, rec recall.Recaller) *Engine {
	if rec == nil {
		rec = recall.Noop{}
	}
	return New(store, gen, fakeEmbedder{}, rec, speech.Noop{}, testLogger())
}

func createAndStart(t *testing.T, e *Engine, userID string, req model.CreateSessionRequest) *model.Session {
	t.Helper()
	sess, err := e.CreateSession(context.Background(), userID, req)
	require.NoError(t, err)
	_, err = e.Start(context.Background(), sess.ID, userID)
	require.NoError(t, err)
	return sess
}

func TestCreateSessionDefaults(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)

	sess, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{
		Category: model.CategoryBehavioral,
	})
	require.NoError(t, err)

	assert.Equal(t, model.DefaultRole, sess.Role)
	assert.Equal(t, model.DefaultDifficulty, sess.Difficulty)
	assert.Equal(t, model.DefaultMaxTurns, sess.MaxTurns)
	assert.Equal(t, model.SessionActive, sess.Status)
	assert.Zero(t, sess.TurnCount)
}

func TestCreateSessionValidation(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)

	_, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: "trivia"})
	assert.Error(t, err)

	_, err = e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{
		Category:   model.CategoryGeneral,
		Difficulty: 9,
	})
	assert.Error(t, err)
}

func TestStartIssuesFirstQuestion(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, &fakeGen{}, nil)

	sess, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})
	require.NoError(t, err)

	resp, err := e.Start(context.Background(), sess.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Turn)
	assert.NotEmpty(t, resp.Question)

	qs := store.messagesByRole(sess.ID, model.RoleInterviewer)
	require.Len(t, qs, 1)
	assert.Equal(t, 1, qs[0].TurnNum)
	assert.False(t, qs[0].IsFollowUp)

	// Counter stays at zero until the first answer.
	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TurnCount)

	_, err = e.Start(context.Background(), sess.ID, "u1")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSubmitAnswerBeforeStart(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)
	sess, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})
	require.NoError(t, err)

	_, err = e.SubmitAnswer(context.Background(), sess.ID, "u1", "hello")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestOwnershipEnforced(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)
	sess := createAndStart(t, e, "owner", model.CreateSessionRequest{Category: model.CategoryGeneral})

	_, err := e.Start(context.Background(), sess.ID, "intruder")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.SubmitAnswer(context.Background(), sess.ID, "intruder", "answer")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.Report(context.Background(), sess.ID, "intruder")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUnknownSession(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)
	_, err := e.Start(context.Background(), uuid.New(), "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// The max_turns=2 scenario: a weak first answer triggers a follow-up and a
// difficulty drop; the second answer exhausts the budget.
func TestWeakAnswerFollowUpScenario(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(1, "algorithms", []string{"no complexity analysis"}, "")},
		{g: grading(3, "algorithms", nil, "")},
	}}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{
		Category: model.CategoryTechnical,
		MaxTurns: 2,
	})
	require.Equal(t, 3, sess.Difficulty)

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "bubble sort I guess")
	require.NoError(t, err)

	assert.False(t, resp.Complete)
	assert.True(t, resp.IsFollowUp)
	assert.Equal(t, 2, resp.Turn)
	assert.Equal(t, 1, resp.Grading.Score)
	assert.NotEmpty(t, resp.CoachingNote)
	// Single competency at 1.0 pulls the mean to the lower trigger.
	assert.Equal(t, 2, resp.Difficulty)
	assert.Equal(t, 1, gen.followUpCalls)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnCount)
	assert.Equal(t, model.SessionActive, got.Status)

	resp, err = e.SubmitAnswer(context.Background(), sess.ID, "u1", "with a min-heap it is O(n log n)")
	require.NoError(t, err)
	assert.True(t, resp.Complete)
	assert.Empty(t, resp.Question)
	assert.Contains(t, resp.CoachingNote, "coaching note 1")
	assert.Contains(t, resp.CoachingNote, "coaching note 2")

	got, err = store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Final coach message carries the bullet-joined summary past the counter.
	coach := store.messagesByRole(sess.ID, model.RoleCoach)
	require.Len(t, coach, 1)
	assert.Equal(t, got.TurnCount+1, coach[0].TurnNum)

	_, err = e.SubmitAnswer(context.Background(), sess.ID, "u1", "one more")
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestFollowUpSuggestionUsedVerbatim(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(2, "system design", []string{"no capacity estimate"}, "How many QPS would that handle?")},
	}}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "shard everything")
	require.NoError(t, err)

	assert.True(t, resp.IsFollowUp)
	assert.Equal(t, "How many QPS would that handle?", resp.Question)
	assert.Zero(t, gen.followUpCalls)
}

func TestNoFollowUpOnAdequateAnswer(t *testing.T) {
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(3, "communication", nil, "")},
	}}
	e := newTestEngine(newFakeStore(), gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryBehavioral})

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "a fine answer")
	require.NoError(t, err)
	assert.False(t, resp.IsFollowUp)
	// First at start, second for the fresh next question.
	assert.Equal(t, 2, gen.questionCalls)
}

func TestScore3WithGapsTriggersFollowUp(t *testing.T) {
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(3, "communication", []string{"vague outcome"}, "")},
	}}
	e := newTestEngine(newFakeStore(), gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryBehavioral})

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "we shipped it")
	require.NoError(t, err)
	assert.True(t, resp.IsFollowUp)
}

func TestRecurrenceTriggersFollowUp(t *testing.T) {
	rec := &fakeRecaller{matches: []recall.Match{
		{MessageID: uuid.New(), Competency: "algorithms", Score: 2, Similarity: 0.9},
	}}
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(3, "algorithms", nil, "")},
	}}
	e := newTestEngine(newFakeStore(), gen, rec)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "similar shaky ground")
	require.NoError(t, err)
	assert.True(t, resp.IsFollowUp)

	// Answer was indexed after the lookup.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.indexed, 1)
	assert.Equal(t, 3, rec.indexed[0].Score)
	assert.Equal(t, "algorithms", rec.indexed[0].Competency)
}

func TestSimilarityFailureDegrades(t *testing.T) {
	rec := &fakeRecaller{findErr: fmt.Errorf("qdrant unreachable")}
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(3, "algorithms", nil, "")},
	}}
	e := newTestEngine(newFakeStore(), gen, rec)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})

	// Score 3 with no gaps: without a recurrence signal, no follow-up.
	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "an answer")
	require.NoError(t, err)
	assert.False(t, resp.IsFollowUp)
	assert.NotEmpty(t, resp.Question)
}

func TestGradingFailureFailsTurn(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{grades: []gradeResult{
		{err: fmt.Errorf("llm: unparsable grading output")},
		{g: grading(4, "communication", nil, "")},
	}}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})

	_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "my answer")
	require.ErrorIs(t, err, ErrUpstreamGeneration)

	// Raw answer persisted but never amended; counter unchanged.
	answers := store.messagesByRole(sess.ID, model.RoleUser)
	require.Len(t, answers, 1)
	assert.Nil(t, answers[0].Score)
	assert.Nil(t, answers[0].Competency)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TurnCount)

	// The session recovers: the next submission grades normally.
	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "my answer, again")
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Grading.Score)
}

func TestDifficultyRaisesAndClamps(t *testing.T) {
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(5, "system design", nil, "")},
		{g: grading(5, "system design", nil, "")},
	}}
	e := newTestEngine(newFakeStore(), gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{
		Category:   model.CategoryTechnical,
		Difficulty: 5,
	})

	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "excellent answer")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Difficulty)

	resp, err = e.SubmitAnswer(context.Background(), sess.ID, "u1", "another excellent answer")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Difficulty)
}

func TestCompetencyTwoPointMerge(t *testing.T) {
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(5, "algorithms", nil, "")},
		{g: grading(1, "algorithms", []string{"gap"}, "probe harder")},
	}}
	e := newTestEngine(newFakeStore(), gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})

	_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "first")
	require.NoError(t, err)
	resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "second")
	require.NoError(t, err)

	// The first answer raised difficulty to 4; the merged mean (5+1)/2 = 3.0
	// fires neither calibration trigger, so it stays there.
	assert.Equal(t, 4, resp.Difficulty)

	st := e.registry.get(sess.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.InDelta(t, 3.0, st.competency["algorithms"], 1e-9)
}

func TestReport(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(4, "communication", nil, "")},
		{g: grading(2, "leadership", []string{"no delegation story"}, "Who owned the rollout?")},
	}}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryBehavioral})

	_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "first answer")
	require.NoError(t, err)
	_, err = e.SubmitAnswer(context.Background(), sess.ID, "u1", "second answer")
	require.NoError(t, err)

	report, err := e.Report(context.Background(), sess.ID, "u1")
	require.NoError(t, err)

	assert.Equal(t, sess.ID, report.SessionID)
	assert.Equal(t, 2, report.TurnsAnswered)
	assert.InDelta(t, 3.0, report.OverallScore, 1e-9)
	assert.Len(t, report.CoachingNotes, 2)
	require.Len(t, report.Competencies, 2)
	// Weakest first.
	assert.Equal(t, "leadership", report.Competencies[0].Competency)
}

func TestReportEmptySession(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)
	sess, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})
	require.NoError(t, err)

	report, err := e.Report(context.Background(), sess.ID, "u1")
	require.NoError(t, err)
	assert.Zero(t, report.OverallScore)
	assert.Zero(t, report.TurnsAnswered)
	assert.Empty(t, report.CoachingNotes)
}

func TestHistoryOrdered(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, &fakeGen{}, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})
	_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "an answer")
	require.NoError(t, err)

	msgs, err := e.History(context.Background(), sess.ID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 3) // question, answer, next question
	assert.Equal(t, model.RoleInterviewer, msgs[0].Role)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	for i := 1; i < len(msgs); i++ {
		assert.GreaterOrEqual(t, msgs[i].TurnNum, msgs[i-1].TurnNum)
	}
}

func TestTechnicalProblems(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeGen{}, nil)

	tech, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})
	require.NoError(t, err)
	behavioral, err := e.CreateSession(context.Background(), "u1", model.CreateSessionRequest{Category: model.CategoryBehavioral})
	require.NoError(t, err)

	easy1, hard1, err := e.TechnicalProblems(context.Background(), tech.ID, "u1")
	require.NoError(t, err)
	easy2, hard2, err := e.TechnicalProblems(context.Background(), tech.ID, "u1")
	require.NoError(t, err)

	assert.Equal(t, easy1.ID, easy2.ID)
	assert.Equal(t, hard1.ID, hard2.ID)
	assert.NotEqual(t, easy1.ID, hard1.ID)

	_, _, err = e.TechnicalProblems(context.Background(), behavioral.ID, "u1")
	assert.ErrorIs(t, err, ErrNotTechnical)
}

func TestConcurrentTurnRejected(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{
		gradeGate:    make(chan struct{}),
		gradeStarted: make(chan struct{}),
	}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "slow answer")
		done <- err
	}()
	<-gen.gradeStarted

	_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "racing answer")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(gen.gradeGate)
	require.NoError(t, <-done)
}

// Reports are read-only and must stay available while a turn is in flight.
func TestReportDuringTurn(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{
		gradeGate:    make(chan struct{}),
		gradeStarted: make(chan struct{}),
	}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryGeneral})

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", "slow answer")
		done <- err
	}()
	<-gen.gradeStarted

	report, err := e.Report(context.Background(), sess.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, report.SessionID)
	assert.Empty(t, report.CoachingNotes)

	close(gen.gradeGate)
	require.NoError(t, <-done)

	report, err = e.Report(context.Background(), sess.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, report.CoachingNotes, 1)
}

// A fresh engine over the same store picks a session back up from the
// transcript.
func TestHydrationAfterRestart(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{grades: []gradeResult{
		{g: grading(2, "algorithms", []string{"gap"}, "probe this")},
		{g: grading(4, "algorithms", nil, "")},
	}}

	e1 := newTestEngine(store, gen, nil)
	sess := createAndStart(t, e1, "u1", model.CreateSessionRequest{Category: model.CategoryTechnical})
	_, err := e1.SubmitAnswer(context.Background(), sess.ID, "u1", "first answer")
	require.NoError(t, err)

	e2 := newTestEngine(store, gen, nil)
	resp, err := e2.SubmitAnswer(context.Background(), sess.ID, "u1", "answer after restart")
	require.NoError(t, err)
	assert.False(t, resp.Complete)

	// Rebuilt competency state: (2+4)/2 = 3.0.
	st := e2.registry.get(sess.ID)
	st.mu.Lock()
	assert.InDelta(t, 3.0, st.competency["algorithms"], 1e-9)
	st.mu.Unlock()

	_, err = e2.Start(context.Background(), sess.ID, "u1")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestTurnCounterMonotonic(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{}
	e := newTestEngine(store, gen, nil)

	sess := createAndStart(t, e, "u1", model.CreateSessionRequest{Category: model.CategoryGeneral, MaxTurns: 6})

	prev := 0
	for i := 0; i < 3; i++ {
		resp, err := e.SubmitAnswer(context.Background(), sess.ID, "u1", fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
		assert.Greater(t, resp.Turn, prev)
		prev = resp.Turn
	}
}

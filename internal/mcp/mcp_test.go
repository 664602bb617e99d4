package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/problems"
)

type fakeEngine struct {
	lastUserID    string
	lastSessionID uuid.UUID
	lastAnswer    string

	session *model.Session
	start   *model.StartResponse
	turn    *model.TurnResponse
	report  *model.Report
	history []model.Message
	err     error
}

func (f *fakeEngine) CreateSession(_ context.Context, userID string, req model.CreateSessionRequest) (*model.Session, error) {
	f.lastUserID = userID
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeEngine) Start(_ context.Context, sessionID uuid.UUID, userID string) (*model.StartResponse, error) {
	f.lastUserID, f.lastSessionID = userID, sessionID
	if f.err != nil {
		return nil, f.err
	}
	return f.start, nil
}

func (f *fakeEngine) SubmitAnswer(_ context.Context, sessionID uuid.UUID, userID, answer string) (*model.TurnResponse, error) {
	f.lastUserID, f.lastSessionID, f.lastAnswer = userID, sessionID, answer
	if f.err != nil {
		return nil, f.err
	}
	return f.turn, nil
}

func (f *fakeEngine) Report(_ context.Context, sessionID uuid.UUID, userID string) (*model.Report, error) {
	f.lastUserID, f.lastSessionID = userID, sessionID
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func (f *fakeEngine) History(_ context.Context, sessionID uuid.UUID, userID string) ([]model.Message, error) {
	f.lastUserID, f.lastSessionID = userID, sessionID
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeEngine) TechnicalProblems(_ context.Context, sessionID uuid.UUID, userID string) (problems.Problem, problems.Problem, error) {
	f.lastUserID, f.lastSessionID = userID, sessionID
	if f.err != nil {
		return problems.Problem{}, problems.Problem{}, f.err
	}
	return problems.Problem{ID: 1, Title: "Two Sum", Difficulty: "Easy"},
		problems.Problem{ID: 9, Title: "LRU Cache", Difficulty: "Hard"}, nil
}

func newTestMCP(eng Engine) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(eng, logger, "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandleCreate(t *testing.T) {
	id := uuid.New()
	eng := &fakeEngine{session: &model.Session{
		ID:         id,
		Category:   model.CategoryTechnical,
		Role:       "Backend Engineer",
		Difficulty: 3,
		MaxTurns:   8,
	}}
	s := newTestMCP(eng)

	result, err := s.handleCreate(context.Background(), toolRequest("kotae_create", map[string]any{
		"user_id":  "user-1",
		"category": "technical",
		"role":     "Backend Engineer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		SessionID  uuid.UUID `json:"session_id"`
		Difficulty int       `json:"difficulty"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, id, out.SessionID)
	assert.Equal(t, 3, out.Difficulty)
	assert.Equal(t, "user-1", eng.lastUserID)
}

func TestHandleCreateMissingUserID(t *testing.T) {
	s := newTestMCP(&fakeEngine{})

	result, err := s.handleCreate(context.Background(), toolRequest("kotae_create", map[string]any{
		"category": "technical",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "user_id")
}

func TestHandleCreateInvalidCategory(t *testing.T) {
	s := newTestMCP(&fakeEngine{})

	result, err := s.handleCreate(context.Background(), toolRequest("kotae_create", map[string]any{
		"user_id":  "user-1",
		"category": "interpretive dance",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStart(t *testing.T) {
	eng := &fakeEngine{start: &model.StartResponse{Question: "Walk me through a deadlock you fixed.", Turn: 1, Difficulty: 3}}
	s := newTestMCP(eng)

	id := uuid.New()
	result, err := s.handleStart(context.Background(), toolRequest("kotae_start", map[string]any{
		"user_id":    "user-1",
		"session_id": id.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Question string `json:"question"`
		Turn     int    `json:"turn"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, "Walk me through a deadlock you fixed.", out.Question)
	assert.Equal(t, 1, out.Turn)
	assert.Equal(t, id, eng.lastSessionID)
}

func TestHandleStartBadSessionID(t *testing.T) {
	s := newTestMCP(&fakeEngine{})

	result, err := s.handleStart(context.Background(), toolRequest("kotae_start", map[string]any{
		"user_id":    "user-1",
		"session_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "UUID")
}

func TestHandleAnswer(t *testing.T) {
	eng := &fakeEngine{turn: &model.TurnResponse{
		Grading:      model.Grading{Score: 4, Competency: "concurrency", Feedback: "solid"},
		CoachingNote: "quantify the impact next time",
		Question:     "How would you test that fix?",
		Turn:         2,
		Difficulty:   3,
	}}
	s := newTestMCP(eng)

	result, err := s.handleAnswer(context.Background(), toolRequest("kotae_answer", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
		"answer":     "I added a lock ordering invariant.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Complete bool          `json:"session_complete"`
		Grading  model.Grading `json:"grading"`
		Question string        `json:"question"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.False(t, out.Complete)
	assert.Equal(t, 4, out.Grading.Score)
	assert.Equal(t, "How would you test that fix?", out.Question)
	assert.Equal(t, "I added a lock ordering invariant.", eng.lastAnswer)
}

func TestHandleAnswerComplete(t *testing.T) {
	eng := &fakeEngine{turn: &model.TurnResponse{
		Complete:     true,
		Grading:      model.Grading{Score: 3, Competency: "system design", Feedback: "ok"},
		CoachingNote: "- note one\n- note two",
		Turn:         9,
		Difficulty:   4,
	}}
	s := newTestMCP(eng)

	result, err := s.handleAnswer(context.Background(), toolRequest("kotae_answer", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
		"answer":     "final answer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := parseToolText(t, result)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, true, out["session_complete"])
	assert.NotContains(t, out, "question")
}

func TestHandleAnswerEmpty(t *testing.T) {
	s := newTestMCP(&fakeEngine{})

	result, err := s.handleAnswer(context.Background(), toolRequest("kotae_answer", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
		"answer":     "   ",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleAnswerEngineError(t *testing.T) {
	s := newTestMCP(&fakeEngine{err: fmt.Errorf("interview: session is complete")})

	result, err := s.handleAnswer(context.Background(), toolRequest("kotae_answer", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
		"answer":     "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "turn failed")
}

func TestHandleReport(t *testing.T) {
	id := uuid.New()
	eng := &fakeEngine{report: &model.Report{
		SessionID:     id,
		Status:        model.SessionCompleted,
		OverallScore:  3.5,
		TurnsAnswered: 8,
		Competencies: []model.CompetencyScore{
			{Competency: "algorithms", AvgScore: 2.5, Attempts: 4},
			{Competency: "communication", AvgScore: 4.5, Attempts: 4},
		},
	}}
	s := newTestMCP(eng)

	result, err := s.handleReport(context.Background(), toolRequest("kotae_report", map[string]any{
		"user_id":    "user-1",
		"session_id": id.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out model.Report
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, id, out.SessionID)
	assert.Len(t, out.Competencies, 2)
}

func TestHandleHistory(t *testing.T) {
	eng := &fakeEngine{history: []model.Message{
		{Role: model.RoleInterviewer, Content: "Q1", TurnNum: 1},
		{Role: model.RoleUser, Content: "A1", TurnNum: 1},
	}}
	s := newTestMCP(eng)

	result, err := s.handleHistory(context.Background(), toolRequest("kotae_history", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Messages []model.Message `json:"messages"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, 2, out.Count)
}

func TestHandleProblems(t *testing.T) {
	s := newTestMCP(&fakeEngine{})

	result, err := s.handleProblems(context.Background(), toolRequest("kotae_problems", map[string]any{
		"user_id":    "user-1",
		"session_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Problems []problems.Problem `json:"problems"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	require.Len(t, out.Problems, 2)
	assert.Equal(t, "Two Sum", out.Problems[0].Title)
}

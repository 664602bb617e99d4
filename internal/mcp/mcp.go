// Package mcp implements the Model Context Protocol server for Kotae.
//
// The MCP server exposes the interview loop as tools, allowing MCP-compatible
// AI agents to run coached practice sessions over the same engine the HTTP
// API uses. Identity travels as an explicit user_id tool argument because the
// MCP transport carries no request headers of its own.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/problems"
)

// Engine is the interview surface the MCP tools bind.
type Engine interface {
	CreateSession(ctx context.Context, userID string, req model.CreateSessionRequest) (*model.Session, error)
	Start(ctx context.Context, sessionID uuid.UUID, userID string) (*model.StartResponse, error)
	SubmitAnswer(ctx context.Context, sessionID uuid.UUID, userID, answer string) (*model.TurnResponse, error)
	Report(ctx context.Context, sessionID uuid.UUID, userID string) (*model.Report, error)
	History(ctx context.Context, sessionID uuid.UUID, userID string) ([]model.Message, error)
	TechnicalProblems(ctx context.Context, sessionID uuid.UUID, userID string) (problems.Problem, problems.Problem, error)
}

// Server wraps the MCP server with Kotae's interview engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Engine
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(engine Engine, logger *slog.Logger, version string) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kotae",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// kotae_create — create a practice session.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_create",
			mcplib.WithDescription("Create a new interview practice session"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("category", mcplib.Description("Interview category: behavioral, technical, or general"), mcplib.Required()),
			mcplib.WithString("role", mcplib.Description("Target role, e.g. Backend Engineer")),
			mcplib.WithNumber("difficulty", mcplib.Description("Starting difficulty 1-5")),
			mcplib.WithNumber("max_turns", mcplib.Description("Number of graded answers before the session completes")),
		),
		s.handleCreate,
	)

	// kotae_start — ask the first question.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_start",
			mcplib.WithDescription("Start a session and receive the first interview question"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleStart,
	)

	// kotae_answer — submit an answer and run one full turn.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_answer",
			mcplib.WithDescription("Submit an answer; returns grading, a coaching note, and the next question"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
			mcplib.WithString("answer", mcplib.Description("The answer text"), mcplib.Required()),
		),
		s.handleAnswer,
	)

	// kotae_report — session performance report.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_report",
			mcplib.WithDescription("Get the performance report for a session: overall score, per-competency averages, coaching notes"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleReport,
	)

	// kotae_history — full session transcript.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_history",
			mcplib.WithDescription("Get the full transcript of a session in turn order"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleHistory,
	)

	// kotae_problems — coding problems for technical sessions.
	s.mcpServer.AddTool(
		mcplib.NewTool("kotae_problems",
			mcplib.WithDescription("Get the two coding problems assigned to a technical session"),
			mcplib.WithString("user_id", mcplib.Description("Caller identity"), mcplib.Required()),
			mcplib.WithString("session_id", mcplib.Description("Session UUID"), mcplib.Required()),
		),
		s.handleProblems,
	)
}

func (s *Server) handleCreate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := strings.TrimSpace(request.GetString("user_id", ""))
	if userID == "" {
		return errorResult("user_id is required"), nil
	}

	req := model.CreateSessionRequest{
		Category:   model.Category(request.GetString("category", "")),
		Role:       request.GetString("role", ""),
		Difficulty: request.GetInt("difficulty", 0),
		MaxTurns:   request.GetInt("max_turns", 0),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	sess, err := s.engine.CreateSession(ctx, userID, req)
	if err != nil {
		return errorResult(fmt.Sprintf("create session failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"session_id": sess.ID,
		"category":   sess.Category,
		"role":       sess.Role,
		"difficulty": sess.Difficulty,
		"max_turns":  sess.MaxTurns,
	})
}

func (s *Server) handleStart(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, sessionID, errResult := identityArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	resp, err := s.engine.Start(ctx, sessionID, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("start failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"question":   resp.Question,
		"turn":       resp.Turn,
		"difficulty": resp.Difficulty,
	})
}

func (s *Server) handleAnswer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, sessionID, errResult := identityArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	answer := request.GetString("answer", "")
	if turnReq := (model.TurnRequest{Answer: answer}); turnReq.Validate() != nil {
		return errorResult("answer cannot be empty"), nil
	}

	resp, err := s.engine.SubmitAnswer(ctx, sessionID, userID, answer)
	if err != nil {
		return errorResult(fmt.Sprintf("turn failed: %v", err)), nil
	}

	out := map[string]any{
		"session_complete": resp.Complete,
		"grading":          resp.Grading,
		"coaching_note":    resp.CoachingNote,
		"turn":             resp.Turn,
		"difficulty":       resp.Difficulty,
	}
	if !resp.Complete {
		out["question"] = resp.Question
		out["is_follow_up"] = resp.IsFollowUp
	}
	return jsonResult(out)
}

func (s *Server) handleReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, sessionID, errResult := identityArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	report, err := s.engine.Report(ctx, sessionID, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("report failed: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, sessionID, errResult := identityArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	msgs, err := s.engine.History(ctx, sessionID, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("history failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (s *Server) handleProblems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, sessionID, errResult := identityArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	easy, hard, err := s.engine.TechnicalProblems(ctx, sessionID, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("problems lookup failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"problems": []problems.Problem{easy, hard},
	})
}

// identityArgs extracts and validates the user_id and session_id arguments
// shared by every per-session tool.
func identityArgs(request mcplib.CallToolRequest) (string, uuid.UUID, *mcplib.CallToolResult) {
	userID := strings.TrimSpace(request.GetString("user_id", ""))
	if userID == "" {
		return "", uuid.Nil, errorResult("user_id is required")
	}
	sessionID, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return "", uuid.Nil, errorResult("session_id must be a valid UUID")
	}
	return userID, sessionID, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

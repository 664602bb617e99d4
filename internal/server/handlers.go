package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/interview"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/problems"
	"github.com/kotae-ai/kotae/internal/recall"
	"github.com/kotae-ai/kotae/internal/speech"
	"github.com/kotae-ai/kotae/internal/storage"
)

// Interviewer is the turn-protocol surface the HTTP layer binds.
// *interview.Engine implements it; tests substitute fakes.
type Interviewer interface {
	CreateSession(ctx context.Context, userID string, req model.CreateSessionRequest) (*model.Session, error)
	Start(ctx context.Context, sessionID uuid.UUID, userID string) (*model.StartResponse, error)
	SubmitAnswer(ctx context.Context, sessionID uuid.UUID, userID, answer string) (*model.TurnResponse, error)
	Report(ctx context.Context, sessionID uuid.UUID, userID string) (*model.Report, error)
	History(ctx context.Context, sessionID uuid.UUID, userID string) ([]model.Message, error)
	TechnicalProblems(ctx context.Context, sessionID uuid.UUID, userID string) (problems.Problem, problems.Problem, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine    Interviewer
	tts       speech.Synthesizer
	db        *storage.DB
	recaller  recall.Recaller
	logger    *slog.Logger
	startedAt time.Time
	version   string
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB, Recaller.
type HandlersDeps struct {
	Engine   Interviewer
	TTS      speech.Synthesizer
	DB       *storage.DB
	Recaller recall.Recaller
	Logger   *slog.Logger
	Version  string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:    d.Engine,
		tts:       d.TTS,
		db:        d.DB,
		recaller:  d.Recaller,
		logger:    d.Logger,
		startedAt: time.Now(),
		version:   d.Version,
	}
}

// HandleCreateSession handles POST /v1/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	sess, err := h.engine.CreateSession(r.Context(), UserIDFromContext(r.Context()), req)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.CreateSessionResponse{SessionID: sess.ID.String()})
}

// HandleStart handles POST /v1/sessions/{session_id}/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	resp, err := h.engine.Start(r.Context(), sessionID, UserIDFromContext(r.Context()))
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleTurn handles POST /v1/sessions/{session_id}/turn.
func (h *Handlers) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}

	var req model.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	resp, err := h.engine.SubmitAnswer(r.Context(), sessionID, UserIDFromContext(r.Context()), req.Answer)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleReport handles GET /v1/sessions/{session_id}/report.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	report, err := h.engine.Report(r.Context(), sessionID, UserIDFromContext(r.Context()))
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleHistory handles GET /v1/sessions/{session_id}/history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	msgs, err := h.engine.History(r.Context(), sessionID, UserIDFromContext(r.Context()))
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// HandleTechnicalProblems handles GET /v1/sessions/{session_id}/technical-problems.
func (h *Handlers) HandleTechnicalProblems(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	easy, hard, err := h.engine.TechnicalProblems(r.Context(), sessionID, UserIDFromContext(r.Context()))
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"problems": []problems.Problem{easy, hard},
	})
}

// HandleSynthesize handles POST /v1/tts. Synthesis failure degrades to an
// empty audio field rather than an error response.
func (h *Handlers) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req model.SynthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "text cannot be empty")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session_id")
		return
	}

	audio, err := h.tts.Synthesize(r.Context(), req.Text, sessionID)
	if err != nil {
		h.logger.Warn("tts synthesis failed", "session_id", sessionID, "error", err)
		audio = ""
	}
	writeJSON(w, r, http.StatusOK, model.SynthesizeResponse{Audio: audio, Text: req.Text})
}

// HandleInterrupt handles POST /v1/tts/interrupt.
func (h *Handlers) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req model.InterruptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session_id")
		return
	}

	h.tts.Interrupt(sessionID)
	writeJSON(w, r, http.StatusOK, model.InterruptResponse{Interrupted: true, SessionID: req.SessionID})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			pgStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	} else {
		pgStatus = "not configured"
	}

	resp := model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}

	if h.recaller != nil {
		if err := h.recaller.Healthy(r.Context()); err == nil {
			resp.Qdrant = "connected"
		} else {
			resp.Qdrant = "disconnected"
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// pathUUID parses a UUID path value, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// respondEngineError maps engine sentinel errors onto the API error taxonomy.
func (h *Handlers) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interview.ErrSessionNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
	case errors.Is(err, interview.ErrForbidden):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "session belongs to another user")
	case errors.Is(err, interview.ErrAlreadyStarted):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "session already started")
	case errors.Is(err, interview.ErrNotStarted):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "session not started")
	case errors.Is(err, interview.ErrSessionComplete):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "session already complete")
	case errors.Is(err, interview.ErrTurnInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "another turn is in progress")
	case errors.Is(err, interview.ErrNotTechnical):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session is not a technical interview")
	case errors.Is(err, interview.ErrUpstreamGeneration):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "language generation failed")
	default:
		h.logger.Error("internal error", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

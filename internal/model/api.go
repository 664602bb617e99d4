package model

import (
	"fmt"
	"strings"
	"time"
)

// MaxAnswerLen bounds the answer text accepted on a turn. Oversized answers
// would blow through the grading prompt budget and the messages TEXT column.
const MaxAnswerLen = 32 * 1024 // 32 KB

// MaxRoleLen bounds the free-text target role.
const MaxRoleLen = 200

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUpstream      = "UPSTREAM_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateSessionRequest is the request body for POST /v1/sessions.
type CreateSessionRequest struct {
	Category   Category `json:"category"`
	Role       string   `json:"role,omitempty"`
	Difficulty int      `json:"difficulty,omitempty"`
	MaxTurns   int      `json:"max_turns,omitempty"`
}

// Validate checks the create request before any side effect.
func (r CreateSessionRequest) Validate() error {
	if !ValidCategory(r.Category) {
		return fmt.Errorf("model: unknown category %q", r.Category)
	}
	if r.Difficulty != 0 && (r.Difficulty < MinDifficulty || r.Difficulty > MaxDifficulty) {
		return fmt.Errorf("model: difficulty must be between %d and %d", MinDifficulty, MaxDifficulty)
	}
	if len(r.Role) > MaxRoleLen {
		return fmt.Errorf("model: role exceeds maximum length of %d characters", MaxRoleLen)
	}
	if r.MaxTurns < 0 || r.MaxTurns > MaxTurnsLimit {
		return fmt.Errorf("model: max_turns must be between 1 and %d", MaxTurnsLimit)
	}
	return nil
}

// CreateSessionResponse is the response body for POST /v1/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// TurnRequest is the request body for POST /v1/sessions/{id}/turn.
type TurnRequest struct {
	Answer string `json:"answer"`
}

// Validate rejects empty or oversized answers before any side effect.
func (r TurnRequest) Validate() error {
	if strings.TrimSpace(r.Answer) == "" {
		return fmt.Errorf("model: answer cannot be empty")
	}
	if len(r.Answer) > MaxAnswerLen {
		return fmt.Errorf("model: answer exceeds maximum length of %d bytes", MaxAnswerLen)
	}
	return nil
}

// StartResponse is the response body for POST /v1/sessions/{id}/start.
type StartResponse struct {
	Question   string `json:"question"`
	Audio      string `json:"tts_audio,omitempty"`
	Turn       int    `json:"turn"`
	Difficulty int    `json:"difficulty"`
	Complete   bool   `json:"session_complete"`
}

// TurnResponse is the response body for POST /v1/sessions/{id}/turn.
// When Complete is true, Question and Audio are empty and CoachingNote holds
// the final note of the session.
type TurnResponse struct {
	Complete     bool    `json:"session_complete"`
	Grading      Grading `json:"grading"`
	CoachingNote string  `json:"coaching_note"`
	Question     string  `json:"question,omitempty"`
	Audio        string  `json:"tts_audio,omitempty"`
	Turn         int     `json:"turn"`
	Difficulty   int     `json:"difficulty"`
	IsFollowUp   bool    `json:"is_follow_up"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Qdrant   string `json:"qdrant,omitempty"`
	Uptime   int64  `json:"uptime_seconds"`
}

// SynthesizeRequest is the request body for POST /v1/tts.
type SynthesizeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// SynthesizeResponse is the response body for POST /v1/tts.
type SynthesizeResponse struct {
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text"`
}

// InterruptRequest is the request body for POST /v1/tts/interrupt.
type InterruptRequest struct {
	SessionID string `json:"session_id"`
}

// InterruptResponse is the response body for POST /v1/tts/interrupt.
type InterruptResponse struct {
	Interrupted bool   `json:"interrupted"`
	SessionID   string `json:"session_id"`
}

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is the interview track a session runs on. It selects the
// interviewer persona and the question style.
type Category string

const (
	CategoryBehavioral Category = "behavioral"
	CategoryTechnical  Category = "technical"
	CategoryGeneral    Category = "general"
)

// ValidCategory reports whether c is a known interview category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryBehavioral, CategoryTechnical, CategoryGeneral:
		return true
	}
	return false
}

// SessionStatus is the lifecycle status of an interview session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Difficulty bounds. Difficulty 1 is entry level, 5 is staff/principal.
const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// DefaultRole is used when a session is created without a target role.
const DefaultRole = "Software Engineer"

// DefaultDifficulty is the starting difficulty when none is requested.
const DefaultDifficulty = 3

// Turn budget bounds. The counter covers answers and issued questions past
// the first, so the budget caps total exchanges, not just fresh questions.
const (
	DefaultMaxTurns = 8
	MaxTurnsLimit   = 40
)

// Session is a single interview session owned by one user.
type Session struct {
	ID          uuid.UUID     `json:"id"`
	UserID      string        `json:"user_id"`
	Category    Category      `json:"category"`
	Role        string        `json:"role"`
	Difficulty  int           `json:"difficulty"`
	TurnCount   int           `json:"turn_count"`
	MaxTurns    int           `json:"max_turns"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ClampDifficulty bounds d to the valid difficulty range.
func ClampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}

// MessageRole identifies who produced a transcript message.
type MessageRole string

const (
	RoleInterviewer MessageRole = "interviewer"
	RoleUser        MessageRole = "user"
	RoleCoach       MessageRole = "coach"
)

// Message is one entry in a session transcript. Competency and Score are set
// only on graded answers; they stay nil on questions, ungraded answers and
// coaching notes.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	SessionID  uuid.UUID   `json:"session_id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	TurnNum    int         `json:"turn_num"`
	Competency *string     `json:"competency,omitempty"`
	Score      *int        `json:"score,omitempty"`
	IsFollowUp bool        `json:"is_follow_up"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Grading is the structured evaluation of one answer.
type Grading struct {
	Score              int      `json:"score"`
	Competency         string   `json:"competency"`
	Feedback           string   `json:"feedback"`
	Strengths          []string `json:"strengths"`
	Gaps               []string `json:"gaps"`
	FollowUpSuggestion string   `json:"follow_up_suggestion,omitempty"`
}

// Validate checks the grading fields the downstream turn logic depends on.
func (g Grading) Validate() error {
	if g.Score < MinDifficulty || g.Score > MaxDifficulty {
		return fmt.Errorf("model: grading score %d out of range [1,5]", g.Score)
	}
	if g.Competency == "" {
		return fmt.Errorf("model: grading missing competency")
	}
	if g.Feedback == "" {
		return fmt.Errorf("model: grading missing feedback")
	}
	return nil
}

// CompetencyScore is the running average for one competency within a session.
// The average is count-weighted over Attempts graded answers.
type CompetencyScore struct {
	Competency string  `json:"competency"`
	AvgScore   float64 `json:"avg_score"`
	Attempts   int     `json:"attempts"`
}

// Report summarizes a session: overall performance, per-competency averages
// and the coaching notes accumulated across turns.
type Report struct {
	SessionID       uuid.UUID         `json:"session_id"`
	Category        Category          `json:"category"`
	Role            string            `json:"role"`
	Status          SessionStatus     `json:"status"`
	OverallScore    float64           `json:"overall_score"`
	TurnsAnswered   int               `json:"turns_answered"`
	FinalDifficulty int               `json:"final_difficulty"`
	Competencies    []CompetencyScore `json:"competencies"`
	CoachingNotes   []string          `json:"coaching_notes"`
}

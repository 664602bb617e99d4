// Package llm defines the language-generation boundary for the interview
// engine and provides the Anthropic Messages implementation.
//
// The Generator interface keeps the orchestrator independent of any one
// provider; tests substitute fakes.
package llm

import (
	"context"

	"github.com/kotae-ai/kotae/internal/model"
)

// QuestionContext carries everything the interviewer needs to produce
// the next question.
type QuestionContext struct {
	Category   model.Category
	Role       string
	Difficulty int
	// WeakCompetencies are competencies whose rolling score is below the
	// probe threshold; the interviewer is nudged toward them.
	WeakCompetencies []string
	// PriorQuestions is a bounded window of recent interviewer questions,
	// echoed so the model avoids repeating itself.
	PriorQuestions []PriorQuestion
}

// PriorQuestion is one previously asked question, echoed for context.
type PriorQuestion struct {
	Turn    int
	Content string
}

// GradeContext carries one question/answer pair for evaluation.
type GradeContext struct {
	Question   string
	Answer     string
	Category   model.Category
	Role       string
	Difficulty int
}

// FollowUpContext carries the material for generating one targeted
// follow-up question.
type FollowUpContext struct {
	Question string
	Answer   string
	Gaps     []string
	Role     string
}

// CoachContext carries the material for one coaching note.
type CoachContext struct {
	Question string
	Answer   string
	Score    int
	Feedback string
	Gaps     []string
}

// Generator produces interview text. Implementations must be safe for
// concurrent use across sessions.
type Generator interface {
	// Question generates the next interview question.
	Question(ctx context.Context, qc QuestionContext) (string, error)

	// Grade evaluates an answer against the fixed rubric and returns the
	// structured grading result. Output that cannot be parsed against the
	// grading shape is an error, never silently defaulted.
	Grade(ctx context.Context, gc GradeContext) (model.Grading, error)

	// FollowUp generates one targeted follow-up question probing the
	// identified gaps.
	FollowUp(ctx context.Context, fc FollowUpContext) (string, error)

	// CoachNote generates one concise, actionable coaching note.
	CoachNote(ctx context.Context, cc CoachContext) (string, error)
}

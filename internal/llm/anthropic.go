package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kotae-ai/kotae/internal/model"
)

// Model defaults. The heavier model asks questions; grading needs structured
// output discipline; follow-ups and coaching notes are short and cheap.
const (
	DefaultQuestionModel = "claude-opus-4-6"
	DefaultGradingModel  = "claude-sonnet-4-6"
	DefaultLightModel    = "claude-haiku-4-5-20251001"
)

// difficultyLabels maps the numeric difficulty to the label used in prompts.
var difficultyLabels = map[int]string{
	1: "entry-level",
	2: "junior",
	3: "mid-level",
	4: "senior",
	5: "staff/principal",
}

// interviewerSystemPrompts are the category-specific interviewer instructions.
var interviewerSystemPrompts = map[model.Category]string{
	model.CategoryBehavioral: "You are a senior engineering manager conducting a behavioral interview. " +
		"Ask one STAR-format behavioral question at a time. " +
		"Calibrate complexity to the specified difficulty level. " +
		"Do not ask compound questions. Output ONLY the question text, no preamble.",
	model.CategoryTechnical: "You are a senior staff engineer conducting a technical interview. " +
		"Ask one focused technical question (algorithms, system design, or debugging) at a time. " +
		"Calibrate depth and complexity to the specified difficulty level. " +
		"Do not ask compound questions. Output ONLY the question text, no preamble.",
	model.CategoryGeneral: "You are a hiring manager conducting a general interview. " +
		"Ask one clear, role-relevant question at a time. " +
		"Calibrate complexity to the specified difficulty level. " +
		"Do not ask compound questions. Output ONLY the question text, no preamble.",
}

const graderSystemPrompt = `You are an expert interview evaluator. Evaluate the candidate's answer and return a JSON object.

Return ONLY valid JSON with this exact structure:
{
  "score": <integer 1-5>,
  "competency": "<primary competency demonstrated>",
  "feedback": "<2-3 sentence constructive feedback>",
  "strengths": ["<strength 1>", "<strength 2>"],
  "gaps": ["<gap 1>", "<gap 2>"],
  "follow_up_suggestion": "<optional: suggested follow-up question if answer was weak or incomplete, else null>"
}

Scoring rubric:
1 = No meaningful answer or completely off-topic
2 = Partial answer, missing key elements
3 = Adequate answer, covers basics
4 = Strong answer, well-structured, specific examples
5 = Exceptional answer, demonstrates mastery
`

const followUpSystemPrompt = `You are an expert interviewer. Based on a weak or incomplete answer,
generate ONE targeted follow-up question that probes the specific gap identified.
The follow-up should help the candidate demonstrate understanding they may have missed.
Output ONLY the follow-up question text, no preamble.`

const coachSystemPrompt = `You are an expert interview coach. After each answer, provide ONE concise coaching insight (1-2 sentences).
Focus on what the candidate can do better. Be specific and actionable.
Output ONLY the coaching note, no preamble.`

// AnthropicConfig holds configuration for the Anthropic generator.
// Empty model fields fall back to the package defaults.
type AnthropicConfig struct {
	APIKey        string
	QuestionModel string
	GradingModel  string
	LightModel    string
}

// Anthropic implements Generator against the Anthropic Messages API.
type Anthropic struct {
	client        anthropic.Client
	questionModel string
	gradingModel  string
	lightModel    string
}

// NewAnthropic creates a Generator backed by the Anthropic Messages API.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.QuestionModel == "" {
		cfg.QuestionModel = DefaultQuestionModel
	}
	if cfg.GradingModel == "" {
		cfg.GradingModel = DefaultGradingModel
	}
	if cfg.LightModel == "" {
		cfg.LightModel = DefaultLightModel
	}
	return &Anthropic{
		client:        anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		questionModel: cfg.QuestionModel,
		gradingModel:  cfg.GradingModel,
		lightModel:    cfg.LightModel,
	}
}

// Question generates the next interview question from the session context.
func (a *Anthropic) Question(ctx context.Context, qc QuestionContext) (string, error) {
	system, ok := interviewerSystemPrompts[qc.Category]
	if !ok {
		system = interviewerSystemPrompts[model.CategoryGeneral]
	}
	text, err := a.complete(ctx, a.questionModel, 512, system, BuildQuestionPrompt(qc))
	if err != nil {
		return "", fmt.Errorf("llm: generate question: %w", err)
	}
	return text, nil
}

// BuildQuestionPrompt renders the interviewer context block. Exported for
// prompt snapshot tests.
func BuildQuestionPrompt(qc QuestionContext) string {
	label, ok := difficultyLabels[qc.Difficulty]
	if !ok {
		label = "mid-level"
	}
	role := qc.Role
	if role == "" {
		role = model.DefaultRole
	}

	parts := []string{
		fmt.Sprintf("Role: %s", role),
		fmt.Sprintf("Difficulty: %s (level %d/5)", label, qc.Difficulty),
		fmt.Sprintf("Interview type: %s", qc.Category),
	}
	if len(qc.WeakCompetencies) > 0 {
		parts = append(parts, "Known weak areas to probe: "+strings.Join(qc.WeakCompetencies, ", "))
	}
	if len(qc.PriorQuestions) > 0 {
		lines := make([]string, 0, len(qc.PriorQuestions))
		for _, q := range qc.PriorQuestions {
			lines = append(lines, fmt.Sprintf("- Turn %d: %s", q.Turn, truncate(q.Content, priorQuestionEcho)))
		}
		parts = append(parts, "Prior questions asked (do not repeat):\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}

// priorQuestionEcho is the character budget for each prior question echoed
// into the generation context.
const priorQuestionEcho = 120

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Grade evaluates an answer against the fixed rubric.
func (a *Anthropic) Grade(ctx context.Context, gc GradeContext) (model.Grading, error) {
	role := gc.Role
	if role == "" {
		role = model.DefaultRole
	}
	prompt := fmt.Sprintf(
		"Question: %s\n\nCandidate's answer: %s\n\nInterview type: %s\nRole: %s\nDifficulty level: %d/5",
		gc.Question, gc.Answer, gc.Category, role, gc.Difficulty,
	)

	raw, err := a.complete(ctx, a.gradingModel, 1024, graderSystemPrompt, prompt)
	if err != nil {
		return model.Grading{}, fmt.Errorf("llm: grade answer: %w", err)
	}
	return ParseGrading(raw)
}

// ParseGrading decodes the grader's structured output. The model sometimes
// wraps JSON in markdown code fences; those are stripped. Anything that does
// not decode to the exact grading shape is an error; a malformed grading
// must fail the turn, not default.
func ParseGrading(raw string) (model.Grading, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var out struct {
		Score              int      `json:"score"`
		Competency         string   `json:"competency"`
		Feedback           string   `json:"feedback"`
		Strengths          []string `json:"strengths"`
		Gaps               []string `json:"gaps"`
		FollowUpSuggestion *string  `json:"follow_up_suggestion"`
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return model.Grading{}, fmt.Errorf("llm: unparsable grading output: %w", err)
	}

	g := model.Grading{
		Score:      out.Score,
		Competency: out.Competency,
		Feedback:   out.Feedback,
		Strengths:  out.Strengths,
		Gaps:       out.Gaps,
	}
	if out.FollowUpSuggestion != nil {
		g.FollowUpSuggestion = strings.TrimSpace(*out.FollowUpSuggestion)
	}
	if err := g.Validate(); err != nil {
		return model.Grading{}, err
	}
	return g, nil
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a "json" language tag.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	body := parts[1]
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}

// FollowUp generates one targeted follow-up question.
func (a *Anthropic) FollowUp(ctx context.Context, fc FollowUpContext) (string, error) {
	gaps := "incomplete answer"
	if len(fc.Gaps) > 0 {
		gaps = strings.Join(fc.Gaps, ", ")
	}
	role := fc.Role
	if role == "" {
		role = model.DefaultRole
	}
	prompt := fmt.Sprintf(
		"Original question: %s\nCandidate answer: %s\nIdentified gaps: %s\nRole: %s",
		fc.Question, fc.Answer, gaps, role,
	)

	text, err := a.complete(ctx, a.lightModel, 256, followUpSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("llm: generate follow-up: %w", err)
	}
	return text, nil
}

// CoachNote generates one coaching note for the answered turn.
func (a *Anthropic) CoachNote(ctx context.Context, cc CoachContext) (string, error) {
	prompt := fmt.Sprintf(
		"Question: %s\nAnswer: %s\nScore: %d/5\nFeedback: %s\nGaps: %s",
		cc.Question, cc.Answer, cc.Score, cc.Feedback, strings.Join(cc.Gaps, ", "),
	)

	text, err := a.complete(ctx, a.lightModel, 256, coachSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("llm: generate coaching note: %w", err)
	}
	return text, nil
}

// complete issues one Messages call and returns the trimmed text of the
// first content block.
func (a *Anthropic) complete(ctx context.Context, mdl string, maxTokens int64, system, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(mdl),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(msg.Content[0].Text), nil
}

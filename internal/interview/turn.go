package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kotae-ai/kotae/internal/llm"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/recall"
)

// SubmitAnswer processes one answered turn: persist the answer, grade it,
// decide whether a follow-up is warranted, coach, recalibrate difficulty, and
// either complete the session or issue the next question.
//
// Stages run strictly in sequence because each stage's output feeds the next.
// A language-generation failure fails the whole turn with nothing committed
// from the failed stage; recall and speech failures degrade silently.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, userID, answer string) (*model.TurnResponse, error) {
	start := time.Now()
	defer func() {
		e.turnDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

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

	switch st.state {
	case StateAwaitingStart:
		return nil, ErrNotStarted
	case StateComplete:
		return nil, ErrSessionComplete
	case StateAwaitingAnswer:
	default:
		return nil, ErrTurnInProgress
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("kotae.session_id", sess.ID.String()),
		attribute.String("kotae.category", string(sess.Category)),
		attribute.Int("kotae.turn", sess.TurnCount+1),
	)

	// 1. Persist the answer at the next turn number. The counter itself
	// advances only once grading commits, so a failed grade leaves the
	// counter untouched with just the raw answer on record.
	st.state = StateGrading
	answerMsg := &model.Message{
		SessionID: sess.ID,
		Role:      model.RoleUser,
		Content:   answer,
		TurnNum:   sess.TurnCount + 1,
	}
	if err := e.store.SaveMessage(ctx, answerMsg); err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}

	// 2. Grade. Malformed structured output is a hard turn failure; the
	// answer message stays unamended.
	gradeStart := time.Now()
	grading, err := e.gen.Grade(ctx, llm.GradeContext{
		Question:   st.lastQuestion,
		Answer:     answer,
		Category:   sess.Category,
		Role:       sess.Role,
		Difficulty: sess.Difficulty,
	})
	e.gradeDuration.Record(ctx, float64(time.Since(gradeStart).Milliseconds()))
	if err != nil {
		st.state = StateAwaitingAnswer
		return nil, fmt.Errorf("%w: grading: %w", ErrUpstreamGeneration, err)
	}
	span.SetAttributes(
		attribute.Int("kotae.score", grading.Score),
		attribute.String("kotae.competency", grading.Competency),
	)

	// 3. Commit the grading: amend the answer message, merge the rolling
	// competency average, update the durable rollup.
	if err := e.store.AmendMessageScore(ctx, answerMsg.ID, grading.Competency, grading.Score); err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}
	sess.TurnCount++
	if err := e.store.UpdateSessionProgress(ctx, sess.ID, sess.TurnCount, sess.Difficulty); err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}
	st.mergeCompetency(grading.Competency, grading.Score)
	if err := e.store.UpsertCompetencyScore(ctx, sess.ID, grading.Competency, grading.Score); err != nil {
		e.logger.Warn("competency rollup update failed, continuing",
			"session_id", sess.ID, "error", err)
	}

	// 4. Decide whether to probe deeper. The recall lookup runs before the
	// just-graded answer is indexed, so an answer never matches itself.
	st.state = StateDecidingFollowUp
	recurrence := e.detectRecurrence(ctx, sess, st.lastQuestion, answer, answerMsg, grading)

	warranted := grading.Score <= 2 ||
		(grading.Score == 3 && (len(grading.Gaps) > 0 || recurrence))
	if warranted {
		if grading.FollowUpSuggestion != "" {
			st.pendingFollowUp = grading.FollowUpSuggestion
		} else {
			followUp, err := e.gen.FollowUp(ctx, llm.FollowUpContext{
				Question: st.lastQuestion,
				Answer:   answer,
				Gaps:     grading.Gaps,
				Role:     sess.Role,
			})
			if err != nil {
				st.state = StateAwaitingAnswer
				return nil, fmt.Errorf("%w: follow-up: %w", ErrUpstreamGeneration, err)
			}
			st.pendingFollowUp = followUp
		}
	}

	// 5. Coach. One note per answered turn regardless of the follow-up
	// outcome, then difficulty recalibration, then the completion check.
	st.state = StateCoaching
	note, err := e.gen.CoachNote(ctx, llm.CoachContext{
		Question: st.lastQuestion,
		Answer:   answer,
		Score:    grading.Score,
		Feedback: grading.Feedback,
		Gaps:     grading.Gaps,
	})
	if err != nil {
		st.state = StateAwaitingAnswer
		return nil, fmt.Errorf("%w: coaching: %w", ErrUpstreamGeneration, err)
	}
	st.appendNote(note)

	if mean, ok := st.competencyMean(); ok {
		switch {
		case mean >= raiseAt:
			sess.Difficulty = model.ClampDifficulty(sess.Difficulty + 1)
		case mean <= lowerAt:
			sess.Difficulty = model.ClampDifficulty(sess.Difficulty - 1)
		}
	}

	if sess.TurnCount >= sess.MaxTurns {
		return e.complete(ctx, sess, st, grading)
	}

	// 6. Issue the next question: the pending follow-up verbatim if one was
	// decided, otherwise a fresh generation.
	resp, err := e.ask(ctx, sess, st)
	if err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}
	resp.Grading = grading
	resp.CoachingNote = note
	return resp, nil
}

// detectRecurrence embeds the question/answer pair, stores the embedding
// alongside the transcript, looks for similar weak past answers in the same
// session and finally indexes the pair for future lookups. Every step is
// non-critical: any failure yields "no recurrence signal".
func (e *Engine) detectRecurrence(ctx context.Context, sess *model.Session, question, answer string, answerMsg *model.Message, grading model.Grading) bool {
	vec, err := e.embedder.Embed(ctx, "Q: "+question+"\nA: "+answer)
	if err != nil {
		e.logger.Warn("answer embedding failed, skipping recurrence check",
			"session_id", sess.ID, "error", err)
		return false
	}
	if isZeroVector(vec.Slice()) {
		return false
	}

	if err := e.store.SaveMessageEmbedding(ctx, answerMsg.ID, sess.ID, vec); err != nil {
		e.logger.Warn("message embedding persist failed, continuing",
			"session_id", sess.ID, "error", err)
	}

	recurrence := false
	matches, err := e.recaller.FindSimilar(ctx, sess.ID, vec.Slice(), recall.MatchLimit)
	if err != nil {
		e.logger.Warn("similarity lookup failed, treating as no recurrence",
			"session_id", sess.ID, "error", err)
	} else {
		recurrence = recall.HasRecurringWeakness(matches)
	}

	if err := e.recaller.Index(ctx, recall.Answer{
		SessionID:  sess.ID,
		MessageID:  answerMsg.ID,
		Turn:       answerMsg.TurnNum,
		Competency: grading.Competency,
		Score:      grading.Score,
		Embedding:  vec.Slice(),
	}); err != nil {
		e.logger.Warn("answer indexing failed, continuing",
			"session_id", sess.ID, "error", err)
	}

	return recurrence
}

// complete finishes the session: persists the bullet-joined coaching summary
// as a final coach message, marks the session complete and freezes the state
// machine.
func (e *Engine) complete(ctx context.Context, sess *model.Session, st *sessionState, grading model.Grading) (*model.TurnResponse, error) {
	summary := "- " + strings.Join(st.snapshotNotes(), "\n- ")

	summaryMsg := &model.Message{
		SessionID: sess.ID,
		Role:      model.RoleCoach,
		Content:   summary,
		TurnNum:   sess.TurnCount + 1,
	}
	if err := e.store.SaveMessage(ctx, summaryMsg); err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}
	if err := e.store.CompleteSession(ctx, sess.ID, sess.Difficulty); err != nil {
		st.state = StateAwaitingAnswer
		return nil, err
	}
	st.state = StateComplete

	e.logger.Info("session complete",
		"session_id", sess.ID,
		"turns", sess.TurnCount,
		"final_difficulty", sess.Difficulty,
	)
	return &model.TurnResponse{
		Complete:     true,
		Grading:      grading,
		CoachingNote: summary,
		Turn:         sess.TurnCount,
		Difficulty:   sess.Difficulty,
	}, nil
}

// ask issues the next interviewer question. A pending follow-up is used
// verbatim with no generation call; otherwise the generation context carries
// the role, difficulty, weak competencies and a window of recent questions.
// Pending follow-up markers are always cleared.
func (e *Engine) ask(ctx context.Context, sess *model.Session, st *sessionState) (*model.TurnResponse, error) {
	question := st.pendingFollowUp
	isFollowUp := question != ""
	st.pendingFollowUp = ""

	if !isFollowUp {
		var err error
		question, err = e.gen.Question(ctx, llm.QuestionContext{
			Category:         sess.Category,
			Role:             sess.Role,
			Difficulty:       sess.Difficulty,
			WeakCompetencies: st.weakCompetencies(),
			PriorQuestions:   st.priorQuestions(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: next question: %w", ErrUpstreamGeneration, err)
		}
	}

	msg := &model.Message{
		SessionID:  sess.ID,
		Role:       model.RoleInterviewer,
		Content:    question,
		TurnNum:    sess.TurnCount + 1,
		IsFollowUp: isFollowUp,
	}
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	sess.TurnCount++
	if err := e.store.UpdateSessionProgress(ctx, sess.ID, sess.TurnCount, sess.Difficulty); err != nil {
		return nil, err
	}

	st.lastQuestion = question
	st.recordQuestion(sess.TurnCount, question)
	st.state = StateAwaitingAnswer

	audio := e.synthesize(ctx, sess.ID, question)

	return &model.TurnResponse{
		Question:   question,
		Audio:      audio,
		Turn:       sess.TurnCount,
		Difficulty: sess.Difficulty,
		IsFollowUp: isFollowUp,
	}, nil
}

// isZeroVector reports whether the vector is all zeros (noop provider).
func isZeroVector(v []float32) bool {
	for _, val := range v {
		if val != 0 {
			return false
		}
	}
	return true
}

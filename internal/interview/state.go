package interview

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/llm"
	"github.com/kotae-ai/kotae/internal/model"
)

// State is the position of a session in the turn protocol. The set is closed;
// every transition is driven explicitly by the engine.
type State string

const (
	StateAwaitingStart    State = "awaiting_start"
	StateAwaitingAnswer   State = "awaiting_answer"
	StateGrading          State = "grading"
	StateDecidingFollowUp State = "deciding_follow_up"
	StateCoaching         State = "coaching"
	StateComplete         State = "complete"
)

// priorQuestionWindow bounds how many recent interviewer questions are echoed
// back into the generation context to avoid repetition.
const priorQuestionWindow = 6

// sessionState is the in-process state of one session's state machine.
// It is exclusively owned by the in-flight turn for the duration of that turn;
// the mutex enforces the single-writer discipline per session.
type sessionState struct {
	mu       sync.Mutex
	hydrated bool

	state State

	// lastQuestion is the outstanding interviewer question the next answer
	// responds to.
	lastQuestion string

	// pendingFollowUp holds a decided follow-up question until the ask step
	// persists it. Cleared on every ask.
	pendingFollowUp string

	// competency holds rolling per-competency averages, merged two-point:
	// (old+new)/2. Never reset mid-session.
	competency map[string]float64

	// notes is the append-only sequence of coaching notes. Guarded by its
	// own lock so report reads stay available while a turn holds mu.
	notesMu sync.Mutex
	notes   []string

	// questions is the ordered log of issued interviewer questions, used to
	// build the prior-question window.
	questions []llm.PriorQuestion
}

// competencyMean returns the mean of all rolling competency averages and
// whether any competency exists yet.
func (st *sessionState) competencyMean() (float64, bool) {
	if len(st.competency) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range st.competency {
		sum += v
	}
	return sum / float64(len(st.competency)), true
}

// weakCompetencies returns competencies whose rolling average is below the
// probe threshold, for the interviewer to target.
func (st *sessionState) weakCompetencies() []string {
	var weak []string
	for name, avg := range st.competency {
		if avg < weakThreshold {
			weak = append(weak, name)
		}
	}
	return weak
}

// mergeCompetency folds a new score into the rolling average for a
// competency: two-point average when one exists, raw score otherwise.
func (st *sessionState) mergeCompetency(name string, score int) {
	if st.competency == nil {
		st.competency = make(map[string]float64)
	}
	if old, ok := st.competency[name]; ok {
		st.competency[name] = (old + float64(score)) / 2
	} else {
		st.competency[name] = float64(score)
	}
}

// appendNote records a coaching note.
func (st *sessionState) appendNote(note string) {
	st.notesMu.Lock()
	st.notes = append(st.notes, note)
	st.notesMu.Unlock()
}

// snapshotNotes returns a copy of the coaching notes taken so far.
func (st *sessionState) snapshotNotes() []string {
	st.notesMu.Lock()
	defer st.notesMu.Unlock()
	return append([]string(nil), st.notes...)
}

// recordQuestion appends an issued question to the log.
func (st *sessionState) recordQuestion(turn int, content string) {
	st.questions = append(st.questions, llm.PriorQuestion{Turn: turn, Content: content})
}

// priorQuestions returns the most recent issued questions, oldest first.
func (st *sessionState) priorQuestions() []llm.PriorQuestion {
	if len(st.questions) <= priorQuestionWindow {
		return st.questions
	}
	return st.questions[len(st.questions)-priorQuestionWindow:]
}

// registry is the in-process repository of session state machines, keyed by
// session id. Sessions are fully independent; the registry lock only guards
// the map itself.
type registry struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sessionState
}

func newRegistry() *registry {
	return &registry{m: make(map[uuid.UUID]*sessionState)}
}

// get returns the state for a session, creating an unhydrated entry if none
// exists yet.
func (r *registry) get(id uuid.UUID) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.m[id]
	if !ok {
		st = &sessionState{state: StateAwaitingStart}
		r.m[id] = st
	}
	return st
}

// seed registers a freshly created session as hydrated and awaiting start.
func (r *registry) seed(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = &sessionState{state: StateAwaitingStart, hydrated: true}
}

// hydrate rebuilds in-process state from the persisted transcript after a
// restart. Coaching notes recovered this way are limited to persisted coach
// messages; notes from an interrupted process are not reconstructable.
func (st *sessionState) hydrate(sess *model.Session, msgs []model.Message) {
	st.competency = make(map[string]float64)
	st.questions = nil
	st.lastQuestion = ""
	st.pendingFollowUp = ""

	var notes []string
	for _, m := range msgs {
		switch m.Role {
		case model.RoleInterviewer:
			st.lastQuestion = m.Content
			st.recordQuestion(m.TurnNum, m.Content)
		case model.RoleUser:
			if m.Competency != nil && m.Score != nil {
				st.mergeCompetency(*m.Competency, *m.Score)
			}
		case model.RoleCoach:
			notes = append(notes, m.Content)
		}
	}
	st.notesMu.Lock()
	st.notes = notes
	st.notesMu.Unlock()

	switch {
	case sess.Status == model.SessionCompleted:
		st.state = StateComplete
	case st.lastQuestion == "":
		st.state = StateAwaitingStart
	default:
		st.state = StateAwaitingAnswer
	}
	st.hydrated = true
}

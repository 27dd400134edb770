package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/retell/internal/llm"
	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/session"
)

const (
	DefaultMaxTokens = 1000

	// SuccessMarker in a judgment means the answer was accepted.
	SuccessMarker = "✅"

	CompletionNotice = "All questions answered! 🎉"
)

var (
	ErrNoQuestions = errors.New("no questions to ask")
	ErrNotAwaiting = errors.New("no question is awaiting an answer")
)

// Status is the position of a session in the quiz.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusAwaiting Status = "awaiting_answer"
	StatusComplete Status = "complete"
)

// StatusOf derives the quiz status from a session state.
func StatusOf(st *session.State) Status {
	if _, ok := st.Pointer(); ok {
		return StatusAwaiting
	}
	if st.Completed {
		return StatusComplete
	}
	return StatusIdle
}

// Outcome is the result of one submitted answer.
type Outcome struct {
	Judgment  string // Backend verdict, or the placeholder when the call failed.
	Correct   bool
	GaveUp    bool // Attempt limit reached; the quiz moved on.
	Completed bool
	Notices   []string
	Next      string // Prompt to show next; empty once the quiz is complete.
	Err       error  // Backend failure, if any.
}

// Machine administers a quiz held in a session state.
type Machine struct {
	llm         llm.Completer
	maxTokens   int
	maxAttempts int
	log         *slog.Logger
}

// NewMachine returns a machine. maxAttempts <= 0 re-asks a question until
// it is answered correctly.
func NewMachine(c llm.Completer, maxTokens, maxAttempts int, log *slog.Logger) *Machine {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{llm: c, maxTokens: maxTokens, maxAttempts: maxAttempts, log: log}
}

// Start moves to the first question and returns its prompt. With no
// questions the state is left idle.
func (m *Machine) Start(st *session.State) (string, error) {
	if len(st.Questions) == 0 {
		return "", ErrNoQuestions
	}
	st.SetPointer(0)
	st.Answers = map[int]string{}
	st.Attempts = map[int]int{}
	st.Completed = false
	return QuestionPrompt(0, st.Questions[0]), nil
}

// Submit judges answer against the current question. A correct answer
// advances the quiz; anything else keeps the same question. A backend
// failure is reported as the judgment and leaves the state unchanged.
func (m *Machine) Submit(ctx context.Context, st *session.State, answer string) (Outcome, error) {
	i, ok := st.Pointer()
	if !ok || i >= len(st.Questions) {
		return Outcome{}, ErrNotAwaiting
	}
	q := st.Questions[i]
	if st.Answers == nil {
		st.Answers = map[int]string{}
	}
	if st.Attempts == nil {
		st.Attempts = map[int]int{}
	}
	st.Answers[i] = answer

	var out Outcome
	judgment, err := m.llm.Complete(ctx, llm.Request{
		Prompt:    judgePrompt(q, answer),
		MaxTokens: m.maxTokens,
	})
	if err != nil {
		m.log.Warn("answer judgment failed", "question", i, "error", err)
		out.Judgment = llm.Placeholder(err)
		out.Err = err
		out.Next = QuestionPrompt(i, q)
		return out, nil
	}
	out.Judgment = judgment

	if IsCorrect(judgment) {
		out.Correct = true
		m.advance(st, i, &out)
		return out, nil
	}

	st.Attempts[i]++
	if m.maxAttempts > 0 && st.Attempts[i] >= m.maxAttempts {
		out.GaveUp = true
		out.Notices = append(out.Notices, fmt.Sprintf("Moving on. The expected answer was: %s", q.Answer))
		m.advance(st, i, &out)
		return out, nil
	}
	out.Next = QuestionPrompt(i, q)
	return out, nil
}

func (m *Machine) advance(st *session.State, i int, out *Outcome) {
	if i+1 < len(st.Questions) {
		st.SetPointer(i + 1)
		out.Next = QuestionPrompt(i+1, st.Questions[i+1])
		return
	}
	st.ClearPointer()
	st.Completed = true
	out.Completed = true
	out.Notices = append(out.Notices, CompletionNotice)
}

// Reset wipes the summary, the quiz and all answers.
func (m *Machine) Reset(st *session.State) {
	st.Clear()
}

// IsCorrect reports whether a judgment carries the success marker.
func IsCorrect(judgment string) bool {
	return strings.Contains(judgment, SuccessMarker)
}

// QuestionPrompt formats question i for display.
func QuestionPrompt(i int, q quiz.Question) string {
	return fmt.Sprintf("Question %d: %s", i+1, q.Text)
}

func judgePrompt(q quiz.Question, answer string) string {
	return fmt.Sprintf("Question: %s\nUser answer: %s\nCorrect answer: %s\n\n"+
		"Check whether the user's answer is correct. "+
		"If it is, reply \"%s Correct!\". "+
		"If it is not, reply \"❌ Incorrect. Correct answer: [correct answer]\".",
		q.Text, answer, q.Answer, SuccessMarker)
}

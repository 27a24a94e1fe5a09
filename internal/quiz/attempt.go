package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/kotoba/internal/model"
)

// Attempt is one pass through the question bank.
//
// While in progress len(Answers) == CurrentIndex; once Finished,
// len(Answers) equals the bank size.
type Attempt struct {
	CurrentIndex int      `json:"current_index"`
	Answers      []string `json:"answers"`
	Score        float64  `json:"score"`
	CorrectCount int      `json:"correct_count"`
	Selected     string   `json:"selected,omitempty"`
	EssayDraft   string   `json:"essay_draft,omitempty"`
	Finished     bool     `json:"finished"`
	Review       bool     `json:"review"`
}

// RoundedScore is the running score rounded to the nearest integer.
func (a Attempt) RoundedScore() int {
	return int(math.Round(a.Score))
}

// SelectAnswer stages option for the current multiple-choice question.
func (e *Engine) SelectAnswer(option string) error {
	q, err := e.stageTarget()
	if err != nil {
		return err
	}
	if q.Kind != model.KindMultipleChoice {
		return ErrWrongKind
	}
	if !q.HasOption(option) {
		return fmt.Errorf("%w: %q", ErrUnknownOption, option)
	}
	e.state.Attempt.Selected = option
	return nil
}

// SetEssayDraft stages free text for the current essay question.
func (e *Engine) SetEssayDraft(text string) error {
	q, err := e.stageTarget()
	if err != nil {
		return err
	}
	if q.Kind != model.KindEssay {
		return ErrWrongKind
	}
	e.state.Attempt.EssayDraft = text
	return nil
}

func (e *Engine) stageTarget() (model.Question, error) {
	if !e.Resolved() {
		return model.Question{}, ErrGateLocked
	}
	a := &e.state.Attempt
	if a.Finished || a.Review {
		return model.Question{}, ErrCannotSubmit
	}
	q, ok := e.CurrentQuestion()
	if !ok {
		return model.Question{}, ErrCannotSubmit
	}
	return q, nil
}

// CanSubmit reports whether the staged input can be submitted for the
// current question.
func (e *Engine) CanSubmit() bool {
	a := e.state.Attempt
	if !e.Resolved() || a.Finished || a.Review {
		return false
	}
	q, ok := e.CurrentQuestion()
	if !ok {
		return false
	}
	if q.Kind == model.KindMultipleChoice {
		return a.Selected != ""
	}
	return strings.TrimSpace(a.EssayDraft) != ""
}

// SubmitAnswer scores the staged answer, records it, and advances. Submitting
// the last question finalizes the attempt. It returns ErrCannotSubmit and
// leaves the state untouched when CanSubmit is false.
func (e *Engine) SubmitAnswer(ctx context.Context) error {
	if !e.Resolved() {
		return ErrGateLocked
	}
	if !e.CanSubmit() {
		return ErrCannotSubmit
	}
	a := &e.state.Attempt
	q, _ := e.CurrentQuestion()

	answer := a.Selected
	if q.Kind == model.KindEssay {
		answer = a.EssayDraft
	}
	a.Answers = append(a.Answers, answer)
	if q.IsCorrect(answer) {
		a.CorrectCount++
		a.Score += 100 / float64(e.Total())
	}
	a.Selected = ""
	a.EssayDraft = ""

	if a.CurrentIndex < e.Total()-1 {
		a.CurrentIndex++
		return nil
	}
	e.finalize(ctx)
	return nil
}

// finalize marks the attempt finished and records the result once.
func (e *Engine) finalize(ctx context.Context) {
	a := &e.state.Attempt
	a.Score = math.Round(100 * float64(a.CorrectCount) / float64(e.Total()))
	a.Finished = true

	user := e.state.User
	if user == nil || e.state.QuizID == "" {
		slog.Warn("attempt finished without user or quiz id, progress not saved",
			"quiz_id", e.state.QuizID)
		return
	}

	score := a.RoundedScore()
	answers := slices.Clone(a.Answers)
	if err := e.gw.UpdateUserProgress(ctx, user.ID, score, e.state.QuizID, answers); err != nil {
		slog.Error("save progress", "user_id", user.ID, "quiz_id", e.state.QuizID, "error", err)
		e.state.SaveError = err.Error()
		return
	}
	e.state.SaveError = ""
	user.ApplyProgress(score, e.state.QuizID, answers, time.Now().UTC())
	slog.Info("quiz completed", "user_id", user.ID, "quiz_id", e.state.QuizID,
		"score", score, "correct", a.CorrectCount)
}

// IsCorrect re-derives whether the answer submitted at index i is correct.
// It is false for any index without a submitted answer.
func (e *Engine) IsCorrect(i int) bool {
	answers := e.state.Attempt.Answers
	if i < 0 || i >= len(answers) {
		return false
	}
	q, ok := e.bank.Question(i)
	if !ok {
		return false
	}
	return q.IsCorrect(answers[i])
}

// CorrectCount is the number of correct answers in the attempt.
func (e *Engine) CorrectCount() int {
	return e.state.Attempt.CorrectCount
}

// ResetQuiz discards the attempt and starts over at the first question.
// Persisted progress is not affected.
func (e *Engine) ResetQuiz() error {
	if !e.Resolved() {
		return ErrGateLocked
	}
	e.state.Attempt = Attempt{}
	e.state.SaveError = ""
	return nil
}

// Result is the per-question outcome shown after an attempt finishes.
type Result struct {
	Index    int                `json:"index"`
	Kind     model.QuestionKind `json:"type"`
	Prompt   string             `json:"question"`
	Answer   string             `json:"answer"`
	Expected string             `json:"expected"`
	Correct  bool               `json:"correct"`
}

// Results lists every question with the submitted answer and its outcome.
// It returns nil until the attempt is finished.
func (e *Engine) Results() []Result {
	a := e.state.Attempt
	if !a.Finished {
		return nil
	}
	results := make([]Result, 0, e.Total())
	for i := 0; i < e.Total(); i++ {
		q, _ := e.bank.Question(i)
		r := Result{
			Index:    i,
			Kind:     q.Kind,
			Prompt:   q.Prompt,
			Expected: q.Answer,
			Correct:  e.IsCorrect(i),
		}
		if i < len(a.Answers) {
			r.Answer = a.Answers[i]
		}
		results = append(results, r)
	}
	return results
}

package quiz

import (
	"log/slog"
	"slices"
)

// checkReviewMode replaces the attempt with a read-only replay of the user's
// stored detail for the active quiz when review mode was requested. Without a
// stored detail a fresh attempt is started instead.
func (e *Engine) checkReviewMode() {
	e.state.Attempt = Attempt{}
	if e.state.Mode != ModeReview {
		return
	}
	detail, ok := e.state.User.Detail(e.state.QuizID)
	if !ok {
		slog.Info("no stored attempt to review, starting fresh",
			"user_id", e.state.User.ID, "quiz_id", e.state.QuizID)
		return
	}

	a := &e.state.Attempt
	a.Answers = slices.Clone(detail.Answers)
	a.Score = float64(detail.Score)
	for i, n := 0, e.Total(); i < n; i++ {
		if e.IsCorrect(i) {
			a.CorrectCount++
		}
	}
	a.Finished = true
	a.Review = true
	a.CurrentIndex = max(e.Total()-1, 0)
}

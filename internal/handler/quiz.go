package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/kotoba/internal/i18n"
	"github.com/pavelanni/kotoba/internal/model"
	"github.com/pavelanni/kotoba/internal/quiz"
	"github.com/pavelanni/kotoba/internal/session"
)

const quizCookieName = "quiz_session"

var errNoQuizSession = errors.New("no quiz session, POST /quiz/start first")

type gateView struct {
	Step     quiz.GateStep    `json:"step"`
	Username string           `json:"username,omitempty"`
	Status   model.AuthStatus `json:"status,omitempty"`
	ErrorID  string           `json:"error_id,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type userSummary struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	FullName         string `json:"full_name"`
	Score            int    `json:"score"`
	CompletedQuizzes int    `json:"completed_quizzes"`
	Greeting         string `json:"greeting"`
	Completed        string `json:"completed"`
}

type questionView struct {
	Index      int                `json:"index"`
	Type       model.QuestionKind `json:"type"`
	Prompt     string             `json:"question"`
	Options    []string           `json:"options,omitempty"`
	Selected   string             `json:"selected,omitempty"`
	EssayDraft string             `json:"essay_draft,omitempty"`
	Progress   string             `json:"progress"`
}

type quizView struct {
	QuizID       string        `json:"quiz_id"`
	Mode         string        `json:"mode,omitempty"`
	Gate         gateView      `json:"gate"`
	User         *userSummary  `json:"user,omitempty"`
	Question     *questionView `json:"question,omitempty"`
	CanSubmit    bool          `json:"can_submit"`
	Score        int           `json:"score"`
	CorrectCount int           `json:"correct_count"`
	Total        int           `json:"total"`
	Answers      []string      `json:"answers"`
	Finished     bool          `json:"finished"`
	Review       bool          `json:"review"`
	Summary      string        `json:"summary,omitempty"`
	Notice       string        `json:"notice,omitempty"`
	Results      []quiz.Result `json:"results,omitempty"`
	SaveError    string        `json:"save_error,omitempty"`
}

func (h *Handler) buildView(ctx context.Context, e *quiz.Engine) quizView {
	g := e.Gate()
	a := e.Attempt()
	v := quizView{
		QuizID: e.QuizID(),
		Mode:   e.State().Mode,
		Gate: gateView{
			Step:     g.Step,
			Username: g.Username,
			Status:   g.Status,
			ErrorID:  g.Error,
		},
		CanSubmit:    e.CanSubmit(),
		Score:        a.RoundedScore(),
		CorrectCount: a.CorrectCount,
		Total:        e.Total(),
		Answers:      a.Answers,
		Finished:     a.Finished,
		Review:       a.Review,
	}
	if v.Answers == nil {
		v.Answers = []string{}
	}
	if g.Error != "" {
		v.Gate.Error = appI18n.T(ctx, g.Error)
	}

	if u := e.User(); u != nil {
		v.User = &userSummary{
			ID:               u.ID,
			Username:         u.Username,
			FullName:         u.FullName,
			Score:            u.Score,
			CompletedQuizzes: u.CompletedQuizzes,
			Greeting:         appI18n.Td(ctx, "Greeting", map[string]any{"Name": displayName(u)}),
			Completed:        appI18n.Tp(ctx, "CompletedQuizzes", u.CompletedQuizzes),
		}
	}

	if e.Resolved() && !a.Finished {
		if q, ok := e.CurrentQuestion(); ok {
			v.Question = &questionView{
				Index:      a.CurrentIndex,
				Type:       q.Kind,
				Prompt:     q.Prompt,
				Options:    q.Options,
				Selected:   a.Selected,
				EssayDraft: a.EssayDraft,
				Progress: appI18n.Td(ctx, "QuestionProgress", map[string]any{
					"Current": a.CurrentIndex + 1,
					"Total":   e.Total(),
				}),
			}
		}
	}

	if a.Finished {
		v.Results = e.Results()
		v.Summary = appI18n.Td(ctx, "ScoreSummary", map[string]any{
			"Score":   a.RoundedScore(),
			"Correct": a.CorrectCount,
			"Total":   e.Total(),
		})
	}
	if a.Review {
		v.Notice = appI18n.Td(ctx, "ReviewNotice", map[string]any{"QuizID": e.QuizID()})
	}
	if se := e.SaveError(); se != "" {
		slog.Debug("reporting save error to client", "error", se)
		v.SaveError = appI18n.T(ctx, "SaveProgressFailed")
	}
	return v
}

func displayName(u *model.UserRecord) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// gateStatus maps an auth gate message id to an HTTP status.
func gateStatus(msgID string) int {
	switch msgID {
	case "":
		return http.StatusOK
	case quiz.MsgFullNameRequired:
		return http.StatusBadRequest
	case quiz.MsgInvalidCredentials, quiz.MsgUserDataNotFound:
		return http.StatusUnauthorized
	case quiz.MsgUsernameInUse:
		return http.StatusConflict
	case quiz.MsgCheckUsernameFailed, quiz.MsgLoadUserFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// engineStatus maps engine errors to HTTP statuses.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, quiz.ErrGateLocked):
		return http.StatusForbidden
	case errors.Is(err, quiz.ErrCannotSubmit), errors.Is(err, quiz.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, quiz.ErrWrongKind), errors.Is(err, quiz.ErrUnknownOption):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// withEngine restores the caller's engine, applies op under the session lock,
// saves the result, and writes the view. op returns the status to send on
// success; zero means 200 or the gate's error status.
func (h *Handler) withEngine(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, e *quiz.Engine) (int, error)) {
	cookie, err := r.Cookie(quizCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusNotFound, errNoQuizSession.Error())
		return
	}
	id := cookie.Value

	unlock := h.sessions.Lock(id)
	defer unlock()

	ctx := r.Context()
	st, err := h.sessions.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		h.clearCookie(w, quizCookieName, true)
		writeError(w, http.StatusNotFound, errNoQuizSession.Error())
		return
	}
	if err != nil {
		slog.Error("load quiz session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	e := quiz.Restore(h.bank, h.gw, st)
	status, opErr := op(ctx, e)
	if err := h.sessions.Save(ctx, id, e.State()); err != nil {
		slog.Error("save quiz session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if opErr != nil {
		writeError(w, engineStatus(opErr), opErr.Error())
		return
	}
	if status == 0 {
		status = gateStatus(e.Gate().Error)
	}
	writeJSON(w, status, h.buildView(ctx, e))
}

func (h *Handler) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if old, err := r.Cookie(quizCookieName); err == nil && old.Value != "" {
		if err := h.sessions.Drop(ctx, old.Value); err != nil {
			slog.Warn("drop previous quiz session", "error", err)
		}
	}

	params := quiz.Params{
		QuizID: r.URL.Query().Get("quizId"),
		Mode:   r.URL.Query().Get("mode"),
	}
	if params.QuizID == "" {
		params.QuizID = h.config.DefaultQuizID
	}

	e := quiz.New(h.bank, h.gw)
	e.Init(ctx, params)

	id := session.NewID()
	if err := h.sessions.Save(ctx, id, e.State()); err != nil {
		slog.Error("save quiz session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.setCookie(w, quizCookieName, id, h.config.SessionTTL, true)
	slog.Info("quiz session started", "quiz_id", e.QuizID(), "mode", params.Mode, "resolved", e.Resolved())
	writeJSON(w, http.StatusCreated, h.buildView(ctx, e))
}

func (h *Handler) handleQuizView(w http.ResponseWriter, r *http.Request) {
	h.withEngine(w, r, func(context.Context, *quiz.Engine) (int, error) {
		return http.StatusOK, nil
	})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Option string `json:"option"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withEngine(w, r, func(_ context.Context, e *quiz.Engine) (int, error) {
		return http.StatusOK, e.SelectAnswer(req.Option)
	})
}

func (h *Handler) handleEssay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withEngine(w, r, func(_ context.Context, e *quiz.Engine) (int, error) {
		return http.StatusOK, e.SetEssayDraft(req.Text)
	})
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	h.withEngine(w, r, func(ctx context.Context, e *quiz.Engine) (int, error) {
		return http.StatusOK, e.SubmitAnswer(ctx)
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.withEngine(w, r, func(_ context.Context, e *quiz.Engine) (int, error) {
		return http.StatusOK, e.ResetQuiz()
	})
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, http.StatusNotImplemented, appI18n.T(r.Context(), "ExplainUnavailable"))
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = h.config.Lang
	}

	cookie, err := r.Cookie(quizCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusNotFound, errNoQuizSession.Error())
		return
	}
	q, answer, correct, status, msg := h.explainTarget(r.Context(), cookie.Value, index)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}

	exp, err := h.llm.ExplainAnswer(r.Context(), lang, q, answer, correct)
	if err != nil {
		slog.Error("explain answer", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, "explanation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":       index,
		"correct":     correct,
		"explanation": exp.Explanation,
		"example":     exp.Example,
	})
}

// explainTarget reads the question, stored answer and correctness at index
// under the session lock. The lock is released before the model is called.
func (h *Handler) explainTarget(ctx context.Context, id string, index int) (q model.Question, answer string, correct bool, status int, msg string) {
	unlock := h.sessions.Lock(id)
	defer unlock()

	st, err := h.sessions.Load(ctx, id)
	if err != nil {
		return q, "", false, http.StatusNotFound, errNoQuizSession.Error()
	}
	e := quiz.Restore(h.bank, h.gw, st)
	if !e.Resolved() {
		return q, "", false, http.StatusForbidden, quiz.ErrGateLocked.Error()
	}
	if !e.Attempt().Finished {
		return q, "", false, http.StatusConflict, "explanations are available after the quiz is finished"
	}
	q, ok := e.Question(index)
	if !ok {
		return q, "", false, http.StatusNotFound, "no such question"
	}
	if answers := e.Attempt().Answers; index < len(answers) {
		answer = answers[index]
	}
	return q, answer, e.IsCorrect(index), http.StatusOK, ""
}

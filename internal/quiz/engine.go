// Package quiz implements the quiz engine: the authentication gate that
// establishes the current user, the single in-progress attempt over the fixed
// question bank, and read-only review of a stored attempt.
//
// An Engine is not safe for concurrent use. Callers serialize access to one
// engine and persist its State between requests.
package quiz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavelanni/kotoba/internal/bank"
	"github.com/pavelanni/kotoba/internal/model"
)

// DefaultQuizID is used when no quizId parameter is given.
const DefaultQuizID = "soal1"

// ModeReview is the mode parameter value that activates review reconstruction.
const ModeReview = "review"

var (
	// ErrCannotSubmit is returned by SubmitAnswer when nothing submittable is
	// staged or the attempt is finished or under review.
	ErrCannotSubmit = errors.New("answer cannot be submitted")
	// ErrGateLocked is returned for quiz operations before a user is established.
	ErrGateLocked = errors.New("authentication required")
	// ErrBusy is returned when an auth step is already in flight.
	ErrBusy = errors.New("authentication step in progress")
	// ErrWrongKind is returned when staging an answer of the wrong type.
	ErrWrongKind = errors.New("answer type does not match question")
	// ErrUnknownOption is returned when staging an option the question does not offer.
	ErrUnknownOption = errors.New("option not offered by question")
)

// Gateway is the account and progress backend the engine depends on.
type Gateway interface {
	CurrentUser(ctx context.Context) (*model.UserRecord, error)
	Login(ctx context.Context, username, password string) (*model.UserRecord, error)
	Register(ctx context.Context, username, password, fullName string) (*model.UserRecord, error)
	CheckUserStatus(ctx context.Context, username string) (model.AuthStatus, error)
	GetUserByUsername(ctx context.Context, username string) (*model.UserRecord, error)
	UpdateUserProgress(ctx context.Context, userID string, score int, quizID string, answers []string) error
}

// Params are the two URL parameters the engine reads at start.
type Params struct {
	QuizID string
	Mode   string
}

// State is the serializable snapshot of an engine.
type State struct {
	QuizID    string            `json:"quiz_id"`
	Mode      string            `json:"mode,omitempty"`
	User      *model.UserRecord `json:"user,omitempty"`
	Gate      AuthGate          `json:"gate"`
	Attempt   Attempt           `json:"attempt"`
	SaveError string            `json:"save_error,omitempty"`
}

// Engine drives one quiz session.
type Engine struct {
	bank  *bank.Bank
	gw    Gateway
	state State
}

// New creates an engine over the question bank b using gw for accounts and
// progress.
func New(b *bank.Bank, gw Gateway) *Engine {
	return &Engine{bank: b, gw: gw}
}

// Restore recreates an engine from a previously saved State.
func Restore(b *bank.Bank, gw Gateway, st State) *Engine {
	return &Engine{bank: b, gw: gw, state: st}
}

// State returns a snapshot of the engine for persistence.
func (e *Engine) State() State {
	return e.state
}

// Init captures the URL parameters and resolves the current user. Without one
// the auth gate opens; otherwise review detection runs.
func (e *Engine) Init(ctx context.Context, p Params) {
	e.state.QuizID = p.QuizID
	if e.state.QuizID == "" {
		e.state.QuizID = DefaultQuizID
	}
	e.state.Mode = p.Mode

	user, err := e.gw.CurrentUser(ctx)
	if err != nil {
		slog.Error("resolve current user", "error", err)
		user = nil
	}
	if user == nil {
		e.state.Gate = AuthGate{Step: StepUsername}
		return
	}
	e.resolve(user)
}

// QuizID returns the active quiz identifier.
func (e *Engine) QuizID() string { return e.state.QuizID }

// User returns the established user, or nil while the gate is open.
func (e *Engine) User() *model.UserRecord { return e.state.User }

// Gate returns the auth gate state.
func (e *Engine) Gate() AuthGate { return e.state.Gate }

// Attempt returns the attempt state.
func (e *Engine) Attempt() Attempt { return e.state.Attempt }

// SaveError is the last progress-update failure message, if any.
func (e *Engine) SaveError() string { return e.state.SaveError }

// Resolved reports whether a user has been established.
func (e *Engine) Resolved() bool {
	return e.state.Gate.Step == StepResolved && e.state.User != nil
}

// Total returns the number of questions in the bank.
func (e *Engine) Total() int { return e.bank.Len() }

// CurrentQuestion returns the question at the current index.
func (e *Engine) CurrentQuestion() (model.Question, bool) {
	return e.bank.Question(e.state.Attempt.CurrentIndex)
}

// Question returns the question at index i.
func (e *Engine) Question(i int) (model.Question, bool) {
	return e.bank.Question(i)
}

func (e *Engine) resolve(user *model.UserRecord) {
	e.state.User = user
	e.state.Gate.Step = StepResolved
	e.state.Gate.Password = ""
	e.state.Gate.Error = ""
	e.checkReviewMode()
}

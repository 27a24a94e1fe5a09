package quiz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavelanni/kotoba/internal/model"
)

// GateStep is the active step of the authentication gate.
type GateStep string

const (
	StepUsername GateStep = "username"
	StepPassword GateStep = "password"
	StepResolved GateStep = "resolved"
)

// Message ids surfaced in AuthGate.Error. They are keys of the i18n catalog.
const (
	MsgLoadUserFailed      = "LoadUserFailed"
	MsgCheckUsernameFailed = "CheckUsernameFailed"
	MsgFullNameRequired    = "FullNameRequired"
	MsgInvalidCredentials  = "InvalidCredentials"
	MsgUsernameInUse       = "UsernameInUse"
	MsgUserDataNotFound    = "UserDataNotFound"
	MsgAuthFailed          = "AuthFailed"
)

// AuthGate is the pre-quiz authentication flow state.
type AuthGate struct {
	Step     GateStep         `json:"step"`
	Username string           `json:"username,omitempty"`
	Password string           `json:"-"`
	FullName string           `json:"full_name,omitempty"`
	Status   model.AuthStatus `json:"status,omitempty"`
	// Loading is only observable by callers sharing an engine without the
	// session lock; handlers hold that lock across the whole step.
	Loading  bool             `json:"loading,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Open reports whether the gate still blocks the quiz.
func (g AuthGate) Open() bool {
	return g.Step == StepUsername || g.Step == StepPassword
}

// CheckUsername looks the username up. An existing account resolves the gate
// directly with its record; an unknown one moves to the password step with
// status "new". A lookup failure also moves to the password step as "new",
// so registration stays reachable, and reports an error. An empty username
// is ignored.
func (e *Engine) CheckUsername(ctx context.Context, username string) error {
	g := &e.state.Gate
	if !g.Open() {
		return nil
	}
	if username == "" {
		return nil
	}
	if g.Loading {
		return ErrBusy
	}
	g.Username = username
	g.Loading = true
	g.Error = ""
	defer func() { g.Loading = false }()

	status, err := e.gw.CheckUserStatus(ctx, username)
	if err != nil {
		slog.Error("check username", "username", username, "error", err)
		g.Status = model.StatusNew
		g.Error = MsgCheckUsernameFailed
		g.Step = StepPassword
		return nil
	}
	g.Status = status

	if status == model.StatusExisting {
		// Existing usernames resolve without a password checkpoint.
		user, err := e.gw.GetUserByUsername(ctx, username)
		if err != nil || user == nil {
			slog.Error("load user after username check", "username", username, "error", err)
			g.Error = MsgLoadUserFailed
			return nil
		}
		slog.Info("user resolved by username", "user_id", user.ID)
		e.resolve(user)
		return nil
	}

	g.Step = StepPassword
	return nil
}

// SubmitAuth registers (status "new") or signs in (status "existing") with
// the username captured by CheckUsername. On failure the gate stays on the
// password step with an error message. An empty password is ignored.
func (e *Engine) SubmitAuth(ctx context.Context, password, fullName string) error {
	g := &e.state.Gate
	if g.Step != StepPassword {
		return nil
	}
	if password == "" {
		return nil
	}
	g.Password = password
	g.FullName = fullName
	if g.Status == model.StatusNew && fullName == "" {
		g.Error = MsgFullNameRequired
		return nil
	}
	if g.Loading {
		return ErrBusy
	}
	g.Loading = true
	g.Error = ""
	defer func() { g.Loading = false }()

	var (
		user *model.UserRecord
		err  error
	)
	if g.Status == model.StatusNew {
		user, err = e.gw.Register(ctx, g.Username, password, fullName)
	} else {
		user, err = e.gw.Login(ctx, g.Username, password)
	}
	if err != nil {
		slog.Info("auth step failed", "username", g.Username, "status", g.Status, "error", err)
		g.Error = authErrorMessage(err)
		return nil
	}
	slog.Info("user signed in", "user_id", user.ID, "status", g.Status)
	e.resolve(user)
	return nil
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return MsgInvalidCredentials
	case errors.Is(err, model.ErrUsernameInUse):
		return MsgUsernameInUse
	case errors.Is(err, model.ErrUserDataMissing):
		return MsgUserDataNotFound
	default:
		return MsgAuthFailed
	}
}

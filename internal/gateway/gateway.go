package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/kotoba/internal/auth"
	"github.com/pavelanni/kotoba/internal/model"
	"github.com/pavelanni/kotoba/internal/store"
)

// ErrMissingField is returned when a required argument is empty.
var ErrMissingField = errors.New("required field missing")

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePassword(hash, password string) error
}

// Local is the account/progress gateway backed by the SQLite store.
type Local struct {
	store    *store.Store
	hasher   PasswordHasher
	identify auth.IdentifierFunc
	now      func() time.Time
	newID    func() string
}

// Option customizes a Local gateway.
type Option func(*Local)

// WithIdentifierFunc replaces the username-to-credential bridge.
func WithIdentifierFunc(f auth.IdentifierFunc) Option {
	return func(g *Local) { g.identify = f }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Local) { g.now = now }
}

// New creates a gateway over s using hasher for passwords.
func New(s *store.Store, hasher PasswordHasher, opts ...Option) *Local {
	g := &Local{
		store:    s,
		hasher:   hasher,
		identify: auth.DeriveIdentifier,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CurrentUser returns the record of the user authenticated on ctx, or nil.
func (g *Local) CurrentUser(ctx context.Context) (*model.UserRecord, error) {
	userID := model.UserIDFromContext(ctx)
	if userID == "" {
		return nil, nil
	}
	u, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load current user: %w", err)
	}
	return u, nil
}

// Login verifies the password stored under the username's derived
// identifier and returns the matching record.
func (g *Local) Login(ctx context.Context, username, password string) (*model.UserRecord, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrMissingField
	}
	cred, err := g.store.GetCredential(ctx, g.identify(username))
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, model.ErrInvalidCredentials
	}
	if err := g.hasher.ComparePassword(cred.PasswordHash, password); err != nil {
		slog.Info("login rejected", "username", username)
		return nil, model.ErrInvalidCredentials
	}
	u, err := g.store.GetUserByID(ctx, cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, model.ErrUserDataMissing
	}
	return u, nil
}

// Register creates the credential and a fresh user record.
func (g *Local) Register(ctx context.Context, username, password, fullName string) (*model.UserRecord, error) {
	return g.create(ctx, username, password, fullName, model.UserRoleUser)
}

// EnsureAdmin creates an admin account unless the username is already
// registered. It reports whether an account was created.
func (g *Local) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	cred, err := g.store.GetCredential(ctx, g.identify(username))
	if err != nil {
		return false, fmt.Errorf("load credential: %w", err)
	}
	if cred != nil {
		return false, nil
	}
	if _, err := g.create(ctx, username, password, "Administrator", model.UserRoleAdmin); err != nil {
		return false, err
	}
	slog.Info("seeded admin user", "username", username)
	return true, nil
}

func (g *Local) create(ctx context.Context, username, password, fullName string, role model.UserRole) (*model.UserRecord, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrMissingField
	}
	hash, err := g.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := model.NewUserRecord(g.newID(), username, fullName, g.now())
	u.Role = role
	err = g.store.CreateUser(ctx, u, store.Credential{
		Identifier:   g.identify(username),
		PasswordHash: hash,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, model.ErrUsernameInUse
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// CheckUserStatus reports whether an account with this exact username exists.
// On lookup failure it returns StatusNew together with the error.
func (g *Local) CheckUserStatus(ctx context.Context, username string) (model.AuthStatus, error) {
	u, err := g.store.GetUserByUsername(ctx, username)
	if err != nil {
		return model.StatusNew, fmt.Errorf("check user status: %w", err)
	}
	if u != nil {
		return model.StatusExisting, nil
	}
	return model.StatusNew, nil
}

// GetUserByUsername returns the record with this exact username, or nil.
func (g *Local) GetUserByUsername(ctx context.Context, username string) (*model.UserRecord, error) {
	return g.store.GetUserByUsername(ctx, username)
}

// UpdateUserProgress records a finished quiz atomically.
func (g *Local) UpdateUserProgress(ctx context.Context, userID string, score int, quizID string, answers []string) error {
	return g.store.UpdateUserProgress(ctx, userID, score, quizID, answers, g.now())
}

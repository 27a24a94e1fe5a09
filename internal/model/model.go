package model

import (
	"context"
	"slices"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleUser is the role given to every self-registered account.
	UserRoleUser UserRole = "user"
	// UserRoleAdmin can list all user records.
	UserRoleAdmin UserRole = "admin"
)

// AuthStatus tells whether a typed username belongs to a known account.
type AuthStatus string

const (
	StatusNew      AuthStatus = "new"
	StatusExisting AuthStatus = "existing"
)

// QuestionKind distinguishes multiple-choice from free-text questions.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "mc"
	KindEssay          QuestionKind = "essay"
)

// Question is one immutable entry of the question bank.
type Question struct {
	Kind    QuestionKind `json:"type"`
	Prompt  string       `json:"question"`
	Options []string     `json:"options,omitempty"`
	Answer  string       `json:"answer"`
}

// IsCorrect reports whether answer matches the question's canonical answer.
// Multiple-choice answers must match exactly; essay answers are compared
// case-insensitively after trimming surrounding whitespace.
// An empty answer is never correct.
func (q Question) IsCorrect(answer string) bool {
	if answer == "" {
		return false
	}
	if q.Kind == KindMultipleChoice {
		return answer == q.Answer
	}
	return normalizeEssay(answer) == normalizeEssay(q.Answer)
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	return slices.Contains(q.Options, option)
}

func normalizeEssay(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// QuizDetail is the stored result of the latest completion of one quiz.
type QuizDetail struct {
	Score   int       `json:"score"`
	Answers []string  `json:"answers"`
	Date    time.Time `json:"date"`
}

// UserRecord is the persisted per-user document.
type UserRecord struct {
	ID                 string                `json:"id"`
	Username           string                `json:"username"`
	FullName           string                `json:"fullName"`
	Role               UserRole              `json:"role"`
	Score              int                   `json:"score"`
	CompletedQuizzes   int                   `json:"completedQuizzes"`
	History            []string              `json:"history"`
	QuizHistoryDetails map[string]QuizDetail `json:"quizHistoryDetails"`
	CreatedAt          time.Time             `json:"createdAt"`
}

// NewUserRecord returns a freshly registered record with zero score and
// empty history.
func NewUserRecord(id, username, fullName string, createdAt time.Time) UserRecord {
	return UserRecord{
		ID:                 id,
		Username:           username,
		FullName:           fullName,
		Role:               UserRoleUser,
		History:            []string{},
		QuizHistoryDetails: map[string]QuizDetail{},
		CreatedAt:          createdAt,
	}
}

// HasCompleted reports whether quizID is already in the user's history.
func (u *UserRecord) HasCompleted(quizID string) bool {
	return slices.Contains(u.History, quizID)
}

// ApplyProgress merges one quiz completion into the record. Score,
// CompletedQuizzes and History only change the first time quizID is
// completed; the detail entry is always overwritten.
func (u *UserRecord) ApplyProgress(score int, quizID string, answers []string, at time.Time) {
	if !u.HasCompleted(quizID) {
		u.Score += score
		u.CompletedQuizzes++
		u.History = append(u.History, quizID)
	}
	if u.QuizHistoryDetails == nil {
		u.QuizHistoryDetails = make(map[string]QuizDetail)
	}
	u.QuizHistoryDetails[quizID] = QuizDetail{
		Score:   score,
		Answers: slices.Clone(answers),
		Date:    at,
	}
}

// Detail returns the stored detail for quizID, if any.
func (u *UserRecord) Detail(quizID string) (QuizDetail, bool) {
	if u == nil || u.QuizHistoryDetails == nil {
		return QuizDetail{}, false
	}
	d, ok := u.QuizHistoryDetails[quizID]
	return d, ok
}

// AuthSession represents a server-side login session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userIDCtxKey struct{}

// ContextWithUserID stores the authenticated user id in the request context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDCtxKey{}).(string)
	return id
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *UserRecord) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *UserRecord {
	u, _ := ctx.Value(userCtxKey{}).(*UserRecord)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	DefaultQuizID string
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/kuis")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	SessionTTL    time.Duration // Lifetime of login sessions and cached attempts
	CORSOrigins   []string
	Lang          string // Fallback language for messages and explanations
}

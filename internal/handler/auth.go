package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/kotoba/internal/i18n"
	"github.com/pavelanni/kotoba/internal/model"
	"github.com/pavelanni/kotoba/internal/quiz"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// csrfMiddleware implements double-submit tokens: safe requests receive a
// csrf_token cookie, and every other request must echo it in the
// X-CSRF-Token header.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, cookieErr := r.Cookie(csrfCookieName)

		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			if cookieErr != nil || cookie.Value == "" {
				token, err := generateCSRFToken()
				if err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					writeError(w, http.StatusInternalServerError, "internal error")
					return
				}
				h.setCookie(w, csrfCookieName, token, 0, false)
			}
			next.ServeHTTP(w, r)
			return
		}

		if cookieErr != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "csrf token missing")
			return
		}
		headerToken := r.Header.Get(csrfHeaderName)
		if headerToken == "" {
			slog.Warn("CSRF header missing", "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "csrf token missing")
			return
		}
		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loadAuth resolves the session cookie to a user id. Requests without a
// valid, unrevoked session pass through anonymously.
func (h *Handler) loadAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := h.tokens.Parse(cookie.Value)
		if err != nil {
			slog.Debug("ignoring invalid session token", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		authSess, err := h.store.GetAuthSession(r.Context(), claims.SessionID)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if authSess == nil || authSess.UserID != claims.Subject {
			next.ServeHTTP(w, r)
			return
		}
		ctx := model.ContextWithUserID(r.Context(), authSess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth rejects anonymous requests and loads the user record.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := model.UserIDFromContext(r.Context())
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := h.store.GetUserByID(r.Context(), userID)
		if err != nil {
			slog.Error("failed to load user", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// issueSession records a revocable login session and sets its token cookie.
func (h *Handler) issueSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	ttl := h.config.SessionTTL
	sid, err := h.store.CreateAuthSession(ctx, userID, ttl)
	if err != nil {
		return err
	}
	token, err := h.tokens.Sign(userID, sid, ttl)
	if err != nil {
		return err
	}
	h.setCookie(w, sessionCookieName, token, ttl, true)
	return nil
}

func (h *Handler) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withEngine(w, r, func(ctx context.Context, e *quiz.Engine) (int, error) {
		return 0, e.CheckUsername(ctx, req.Username)
	})
}

func (h *Handler) handleSubmitAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withEngine(w, r, func(ctx context.Context, e *quiz.Engine) (int, error) {
		wasOpen := e.Gate().Open()
		if err := e.SubmitAuth(ctx, req.Password, req.FullName); err != nil {
			return 0, err
		}
		if wasOpen && e.Resolved() {
			if err := h.issueSession(ctx, w, e.User().ID); err != nil {
				slog.Error("issue session after sign-in", "user_id", e.User().ID, "error", err)
			}
		}
		return 0, nil
	})
}

// handleLogin signs in directly with username and password, outside any quiz
// session.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.gw.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status := gateStatus(quiz.MsgAuthFailed)
		msgID := quiz.MsgAuthFailed
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			status, msgID = http.StatusUnauthorized, quiz.MsgInvalidCredentials
		case errors.Is(err, model.ErrUserDataMissing):
			status, msgID = http.StatusUnauthorized, quiz.MsgUserDataNotFound
		default:
			if req.Username == "" || req.Password == "" {
				status = http.StatusBadRequest
			}
		}
		slog.Info("login failed", "username", req.Username, "error", err)
		writeJSON(w, status, map[string]string{"error_id": msgID, "error": appI18n.T(r.Context(), msgID)})
		return
	}
	if err := h.issueSession(r.Context(), w, user.ID); err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if claims, err := h.tokens.Parse(cookie.Value); err == nil {
			if err := h.store.DeleteAuthSession(ctx, claims.SessionID); err != nil {
				slog.Error("failed to delete auth session", "error", err)
			}
		}
	}
	if cookie, err := r.Cookie(quizCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Drop(ctx, cookie.Value); err != nil {
			slog.Warn("drop quiz session", "error", err)
		}
	}
	h.clearCookie(w, sessionCookieName, true)
	h.clearCookie(w, quizCookieName, true)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

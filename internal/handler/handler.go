package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/kotoba/internal/auth"
	"github.com/pavelanni/kotoba/internal/bank"
	appI18n "github.com/pavelanni/kotoba/internal/i18n"
	"github.com/pavelanni/kotoba/internal/llm"
	"github.com/pavelanni/kotoba/internal/model"
	"github.com/pavelanni/kotoba/internal/quiz"
	"github.com/pavelanni/kotoba/internal/session"
	"github.com/pavelanni/kotoba/internal/store"
)

const maxBodyBytes = 64 << 10

// Deps are the collaborators a Handler needs. LLM may be nil.
type Deps struct {
	Store    *store.Store
	Bank     *bank.Bank
	Gateway  quiz.Gateway
	Sessions *session.Manager
	Tokens   *auth.TokenService
	LLM      *llm.Client
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	bank     *bank.Bank
	gw       quiz.Gateway
	sessions *session.Manager
	tokens   *auth.TokenService
	llm      *llm.Client
	config   model.ServerConfig
}

// New creates a new Handler.
func New(d Deps, cfg model.ServerConfig) (*Handler, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("handler: store is required")
	case d.Bank == nil:
		return nil, errors.New("handler: question bank is required")
	case d.Gateway == nil:
		return nil, errors.New("handler: gateway is required")
	case d.Sessions == nil:
		return nil, errors.New("handler: session manager is required")
	case d.Tokens == nil:
		return nil, errors.New("handler: token service is required")
	}
	if cfg.DefaultQuizID == "" {
		cfg.DefaultQuizID = quiz.DefaultQuizID
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.Lang == "" {
		cfg.Lang = appI18n.DefaultLang
	}
	return &Handler{
		store:    d.Store,
		bank:     d.Bank,
		gw:       d.Gateway,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		llm:      d.LLM,
		config:   cfg,
	}, nil
}

// NewRouter builds the full middleware stack and mounts the routes,
// under the base path when one is configured.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", csrfHeaderName},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware())

	basePath := h.config.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)
	r.Use(h.loadAuth)

	r.Get("/health", h.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/username", h.handleCheckUsername)
		r.Post("/submit", h.handleSubmitAuth)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
	})

	r.Route("/quiz", func(r chi.Router) {
		r.Get("/", h.handleQuizView)
		r.Post("/start", h.handleStartQuiz)
		r.Post("/select", h.handleSelect)
		r.Post("/essay", h.handleEssay)
		r.Post("/submit", h.handleSubmitAnswer)
		r.Post("/reset", h.handleReset)
		r.Get("/review/{index}/explain", h.handleExplain)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/me", h.handleMe)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/users", h.handleAdminUsers)
			r.Get("/export", h.handleAdminExport)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.path("/")
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookiePath(),
		HttpOnly: httpOnly,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"bank_version": h.bank.Version(),
		"questions":    h.bank.Len(),
		"languages":    appI18n.Languages(),
		"explain":      h.llm != nil,
		"base_path":    model.BasePathFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

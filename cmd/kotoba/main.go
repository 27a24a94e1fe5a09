package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/kotoba/internal/auth"
	"github.com/pavelanni/kotoba/internal/bank"
	"github.com/pavelanni/kotoba/internal/gateway"
	"github.com/pavelanni/kotoba/internal/handler"
	appI18n "github.com/pavelanni/kotoba/internal/i18n"
	"github.com/pavelanni/kotoba/internal/llm"
	"github.com/pavelanni/kotoba/internal/model"
	"github.com/pavelanni/kotoba/internal/session"
	"github.com/pavelanni/kotoba/internal/store"
)

const cleanupInterval = 10 * time.Minute

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kotoba",
		Short: "Japanese vocabulary quiz server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), bankCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `kotoba --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "kotoba.db", "SQLite database path")
	f.String("redis-addr", "", "Redis address for quiz sessions (empty = in-memory)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("jwt-secret", "", "HMAC secret for session tokens (required)")
	f.Duration("session-ttl", session.DefaultTTL, "Lifetime of login sessions and quiz attempts")
	f.StringP("lang", "l", appI18n.DefaultLang, "Fallback language (en, id)")
	f.String("default-quiz", "soal1", "Quiz id used when the client does not send one")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables explanations)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /kuis)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.StringSlice("cors-origins", nil, "Allowed browser origins (repeatable)")
	f.String("admin-password", "", "Create an admin account with this password (or set KOTOBA_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export user records as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "kotoba.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func bankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Show the embedded question bank",
		RunE:  runBank,
	}
	f := cmd.Flags()
	f.Bool("json", false, "Print the questions as JSON")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("KOTOBA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("kotoba")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/kotoba")
	v.AddConfigPath("/etc/kotoba")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return errors.New("jwt secret is required: set --jwt-secret flag or KOTOBA_JWT_SECRET env var")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	qb, err := bank.Default()
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	prev, err := db.RecordBankVersion(qb.Version())
	if err != nil {
		return fmt.Errorf("record bank version: %w", err)
	}
	if prev != "" && prev != qb.Version() {
		slog.Warn("question bank changed since last run, stored answers may not line up in review mode",
			"previous", prev, "current", qb.Version())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(db, auth.NewBcryptHasher(bcrypt.DefaultCost))
	if pw := v.GetString("admin-password"); pw != "" {
		if _, err := gw.EnsureAdmin(ctx, "admin", pw); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	users, err := db.UserCount(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	ttl := v.GetDuration("session-ttl")
	var (
		cache  session.Cache
		memory *session.MemoryCache
	)
	if addr := v.GetString("redis-addr"); addr != "" {
		rc := session.NewRedisCache(addr, v.GetString("redis-password"), v.GetInt("redis-db"), ttl)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		slog.Info("using redis session cache", "addr", addr)
		cache = rc
	} else {
		memory = session.NewMemoryCache(ttl)
		cache = memory
	}

	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		llmClient = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		if err := llmClient.Ping(ctx); err != nil {
			slog.Warn("LLM endpoint unavailable, explanations will fail", "url", url, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", url, "model", llmClient.Model())
		}
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServerConfig{
		DefaultQuizID: v.GetString("default-quiz"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		SessionTTL:    ttl,
		CORSOrigins:   v.GetStringSlice("cors-origins"),
		Lang:          lang,
	}

	h, err := handler.New(handler.Deps{
		Store:    db,
		Bank:     qb,
		Gateway:  gw,
		Sessions: session.NewManager(cache),
		Tokens:   auth.NewTokenService(secret),
		LLM:      llmClient,
	}, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	go runCleanup(ctx, db, memory)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"default_quiz", cfg.DefaultQuizID,
		"base_path", basePath,
		"bank_version", qb.Version(),
		"questions", qb.Len(),
		"users", users,
		"explain", llmClient != nil,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runCleanup periodically removes expired login sessions and, when quiz
// attempts are held in memory, expired attempts.
func runCleanup(ctx context.Context, db *store.Store, memory *session.MemoryCache) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := db.CleanupExpiredSessions(ctx)
		if err != nil {
			slog.Error("cleanup expired auth sessions", "error", err)
		} else if n > 0 {
			slog.Debug("removed expired auth sessions", "count", n)
		}
		if memory != nil {
			if n := memory.Sweep(); n > 0 {
				slog.Debug("removed expired quiz sessions", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("export users: %w", err)
	}
	return writeJSONOutput(v.GetString("output"), export)
}

func runBank(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	qb, err := bank.Default()
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}
	if v.GetBool("json") {
		questions := make([]model.Question, 0, qb.Len())
		for i, n := 0, qb.Len(); i < n; i++ {
			q, _ := qb.Question(i)
			questions = append(questions, q)
		}
		return writeJSONOutput("-", questions)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:         %s\n", qb.Version())
	fmt.Fprintf(out, "questions:       %d\n", qb.Len())
	fmt.Fprintf(out, "multiple choice: %d\n", qb.Count(model.KindMultipleChoice))
	fmt.Fprintf(out, "essay:           %d\n", qb.Count(model.KindEssay))
	return nil
}

func writeJSONOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

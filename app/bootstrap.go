package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"practicecore/internal/audit"
	"practicecore/internal/auth"
	"practicecore/internal/db"
	"practicecore/internal/maintenance"
	"practicecore/internal/metrics"
	"practicecore/internal/notify"
	"practicecore/internal/observability"
	"practicecore/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

// Build reads configuration once, validates the signing material up front and
// wires the whole auth core. A bad configuration aborts here, before the
// process serves any traffic.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	codec, err := token.NewCodec(token.Config{
		Issuer:        envOrDefault("TOKEN_ISSUER", "practicecore"),
		Audience:      envOrDefault("TOKEN_AUDIENCE", "practicecore-api"),
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 30),
		RefreshTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 720),
	})
	if err != nil {
		return nil, err
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	if err := metrics.Register(nil); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	accountRepo := auth.NewAccountRepository(database)
	refreshRepo := auth.NewRefreshTokenRepository(database)
	apiKeyRepo := auth.NewAPIKeyRepository(database)
	cleanupRepo := auth.NewCleanupRepository(database)

	tokenHashCost := envIntOrDefault("TOKEN_HASH_BCRYPT_COST", 10)
	refreshLedger := auth.NewRefreshLedger(refreshRepo, tokenHashCost)
	apiKeyLedger := auth.NewAPIKeyLedger(apiKeyRepo, accountRepo, logger, tokenHashCost)

	notifier := buildNotifier(logger)
	auditor := audit.NewLogRecorder(logger)

	service := auth.NewService(accountRepo, refreshLedger, apiKeyLedger, codec, notifier, auditor, logger, auth.Config{
		MaxAttempts:         envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockDuration:        envMinutesOrDefault("LOGIN_LOCK_MINUTES", 30),
		ResetTokenTTL:       envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 60),
		RememberMeAccessTTL: envMinutesOrDefault("REMEMBER_ME_ACCESS_TTL_MINUTES", 720),
		PasswordCost:        envIntOrDefault("PASSWORD_BCRYPT_COST", 12),
	})
	authHandler := auth.NewHandler(service)

	cleanupHandler := maintenance.NewCleanupHandler(
		cleanupRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_REFRESH_TOKEN_RETENTION_DAYS", 14),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /auth/password-reset/request", authHandler.RequestPasswordReset)
	mux.HandleFunc("POST /auth/password-reset/confirm", authHandler.ConfirmPasswordReset)
	mux.Handle("GET /auth/api-keys", auth.AccessTokenMiddleware(codec, http.HandlerFunc(authHandler.ListAPIKeys)))
	mux.Handle("POST /auth/api-keys", auth.AccessTokenMiddleware(codec, http.HandlerFunc(authHandler.CreateAPIKey)))
	mux.Handle("DELETE /auth/api-keys/{id}", auth.AccessTokenMiddleware(codec, http.HandlerFunc(authHandler.RevokeAPIKey)))
	mux.Handle("GET /auth/introspect", auth.APIKeyMiddleware(service, http.HandlerFunc(authHandler.Introspect)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			logger.Sync()
			return database.Close()
		},
	}, nil
}

func buildNotifier(logger *observability.Logger) notify.Sender {
	host := strings.TrimSpace(os.Getenv("SMTP_HOST"))
	if host == "" {
		logger.Info("smtp_not_configured", map[string]any{"sender": "noop"})
		return notify.Noop{}
	}
	return notify.NewSMTPSender(
		host,
		envIntOrDefault("SMTP_PORT", 587),
		envOrDefault("SMTP_FROM", "no-reply@practicecore.local"),
		os.Getenv("SMTP_USER"),
		os.Getenv("SMTP_PASS"),
	)
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"lmdash/internal/api"
	"lmdash/internal/config"
	"lmdash/internal/database"
	"lmdash/internal/llm"
	"lmdash/internal/model"
	"lmdash/internal/repository"
	"lmdash/internal/service"
	"lmdash/internal/state"
)

const (
	// inferenceWait bounds how long startup waits for the inference server.
	inferenceWait     = 30 * time.Second
	inferencePoll     = 3 * time.Second
	shutdownTimeout   = 10 * time.Second
	redisPingDeadline = 5 * time.Second
)

// App holds the wired application. Close releases everything NewApp opened.
type App struct {
	DB       *sql.DB
	Redis    *redis.Client
	Engine   *service.DispatchService
	Settings *service.SettingsService
	Server   *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Successfully connected to SQLite database.", "path", cfg.DatabasePath)
	a := &App{DB: db}

	a.Settings = service.NewSettingsService(db)
	settings, err := a.Settings.InitAndGet(ctx, seedSettings(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize application settings: %w", err)
	}
	slog.Info("Loaded application settings", "inference_url", settings.InferenceURL, "retry_enabled", settings.Retry.Enabled)

	repo, err := a.newRepository(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	newTransport := func(baseURL string) (llm.Transport, error) {
		return llm.New(cfg.InferenceAPI, baseURL, cfg.ConnectTimeout())
	}
	transport, err := newTransport(settings.InferenceURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	waitForInference(ctx, transport, settings.InferenceURL, inferenceWait)

	a.Engine = service.NewDispatchService(repo, a.Settings, state.New(), transport, service.DispatchOptions{
		MaxConversations: cfg.MaxConversations,
		NewTransport:     newTransport,
	})
	if err := a.Engine.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize dispatch engine: %w", err)
	}

	dashboardHandler := api.NewDashboardHandler(a.Engine, a.Settings)
	modelHandler := api.NewModelHandler(a.Engine)
	router := api.NewRouter(dashboardHandler, modelHandler)

	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for the event stream
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

func (a *App) newRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.StoreBackend != config.StoreRedis {
		return repository.NewSQLiteRepository(a.DB), nil
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingDeadline)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Successfully connected to Redis.", "addr", cfg.RedisAddr)
	return repository.NewRedisRepository(a.Redis, cfg.RedisPrefix), nil
}

// Close stops running model tasks and closes the stores.
func (a *App) Close() {
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("Failed to close redis connection", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}
}

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)

	logConfigSource()

	a, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to start application", "error", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", a.Server.Addr)
		serverErr <- a.Server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("Shutting down server.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
			return 1
		}
	}

	return 0
}

// seedSettings builds the settings stored on first start from the config.
func seedSettings(cfg *config.Config) service.Settings {
	return service.Settings{
		InferenceURL: cfg.InferenceURL,
		Retry: model.RetrySettings{
			Enabled:              cfg.RetryEnabled,
			MaxRetries:           cfg.RetryMaxAttempts,
			RetryDelayMS:         cfg.RetryDelayMS,
			Strategy:             model.RetryStrategy(strings.ToLower(cfg.RetryStrategy)),
			RetryOnlyModelErrors: cfg.RetryOnlyModelErrors,
		},
	}
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// waitForInference polls the model list until the server answers or wait
// elapses. The dashboard still starts when the server is down; its models
// just show as offline until a refresh succeeds.
func waitForInference(ctx context.Context, transport llm.Transport, url string, wait time.Duration) {
	slog.Info("Waiting for the inference server to be ready...", "url", url)
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		models, err := transport.ListModels(ctx)
		if err == nil {
			slog.Info("Inference server is ready.", "models", len(models))
			return
		}
		slog.Debug("Inference server not ready yet, retrying...", "url", url, "error", err)
		select {
		case <-ctx.Done():
			slog.Warn("Inference server did not become ready, continuing without it.", "url", url, "waited", wait)
			return
		case <-time.After(inferencePoll):
		}
	}
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	app_errors "lmdash/internal/errors"
	"lmdash/internal/model"
)

// Settings are the runtime-editable options stored in the settings table.
type Settings struct {
	InferenceURL string              `json:"inference_url" validate:"required,url"`
	Retry        model.RetrySettings `json:"retry"`
}

const (
	keyInferenceURL      = "inference_url"
	keyRetryEnabled      = "retry_enabled"
	keyRetryMaxAttempts  = "retry_max_attempts"
	keyRetryDelayMS      = "retry_delay_ms"
	keyRetryStrategy     = "retry_strategy"
	keyRetryOnlyModelErr = "retry_only_model_errors"

	modelPrefPrefix = "model:"
)

const upsertSettingQuery = "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"

// DefaultSettings is used for keys that have never been stored.
func DefaultSettings() Settings {
	return Settings{
		InferenceURL: "http://localhost:1234",
		Retry: model.RetrySettings{
			Enabled:              true,
			MaxRetries:           3,
			RetryDelayMS:         2000,
			Strategy:             model.StrategyExponential,
			RetryOnlyModelErrors: true,
		},
	}
}

// SettingsService persists Settings and per-model preferences in SQLite.
// The last read or written Settings are cached for the dispatch hot path.
type SettingsService struct {
	db *sql.DB

	mu     sync.RWMutex
	cached *Settings
}

func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db}
}

// InitAndGet fills every missing key from defaults, stores them, and returns
// the effective settings. Keys that already exist are left alone.
func (s *SettingsService) InitAndGet(ctx context.Context, defaults Settings) (*Settings, error) {
	stored, err := s.load(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	want := encodeSettings(&defaults)
	missing := make([][2]string, 0, len(want))
	for _, kv := range want {
		if _, ok := stored[kv[0]]; !ok {
			missing = append(missing, kv)
		}
	}
	if len(missing) > 0 {
		slog.Info("Seeding missing settings.", "count", len(missing))
		if err := s.upsert(ctx, missing); err != nil {
			return nil, fmt.Errorf("failed to save initial settings: %w", err)
		}
		for _, kv := range missing {
			if stored == nil {
				stored = make(map[string]string)
			}
			stored[kv[0]] = kv[1]
		}
	}

	settings := decodeSettings(stored, defaults)
	s.setCache(settings)
	return settings, nil
}

// Get reads the settings, falling back to DefaultSettings per missing key.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	stored, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	settings := decodeSettings(stored, DefaultSettings())
	s.setCache(settings)
	return settings, nil
}

// Save validates and stores all settings in one transaction.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	if err := checkSettings(settings); err != nil {
		return err
	}
	if err := s.upsert(ctx, encodeSettings(settings)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.setCache(settings)
	return nil
}

// RetrySettings returns the cached retry settings, reading them on first use.
func (s *SettingsService) RetrySettings(ctx context.Context) (model.RetrySettings, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached.Retry, nil
	}
	settings, err := s.Get(ctx)
	if err != nil {
		return model.RetrySettings{}, err
	}
	return settings.Retry, nil
}

// ModelPreferences returns every stored per-model preference keyed by model id.
func (s *SettingsService) ModelPreferences(ctx context.Context) (map[string]model.ModelPreference, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings WHERE key LIKE ?", modelPrefPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to read model preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]model.ModelPreference)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var pref model.ModelPreference
		if err := json.Unmarshal([]byte(value), &pref); err != nil {
			slog.Warn("Ignoring unreadable model preference.", "key", key, "error", err)
			continue
		}
		prefs[strings.TrimPrefix(key, modelPrefPrefix)] = pref
	}
	return prefs, rows.Err()
}

// SaveModelPreference stores the enabled/history flags for one model.
func (s *SettingsService) SaveModelPreference(ctx context.Context, modelID string, pref model.ModelPreference) error {
	val, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("failed to marshal model preference: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertSettingQuery, modelPrefPrefix+modelID, string(val)); err != nil {
		return fmt.Errorf("failed to save model preference: %w", err)
	}
	return nil
}

func (s *SettingsService) load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		stored[key] = value
	}
	return stored, rows.Err()
}

func (s *SettingsService) upsert(ctx context.Context, pairs [][2]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSettingQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, kv := range pairs {
		if _, err := stmt.ExecContext(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SettingsService) setCache(settings *Settings) {
	cp := *settings
	s.mu.Lock()
	s.cached = &cp
	s.mu.Unlock()
}

func checkSettings(settings *Settings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings are required", app_errors.ErrValidation)
	}
	if strings.TrimSpace(settings.InferenceURL) == "" {
		return fmt.Errorf("%w: inference_url is required", app_errors.ErrValidation)
	}
	if settings.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", app_errors.ErrValidation)
	}
	if settings.Retry.RetryDelayMS < 0 || settings.Retry.RetryDelayMS > model.MaxRetryDelayMS {
		return fmt.Errorf("%w: retry_delay_ms must be between 0 and %d", app_errors.ErrValidation, model.MaxRetryDelayMS)
	}
	if !settings.Retry.Strategy.Valid() {
		return fmt.Errorf("%w: unknown retry strategy %q", app_errors.ErrValidation, settings.Retry.Strategy)
	}
	return nil
}

// encodeSettings returns key/value pairs in a fixed order.
func encodeSettings(s *Settings) [][2]string {
	return [][2]string{
		{keyInferenceURL, s.InferenceURL},
		{keyRetryEnabled, strconv.FormatBool(s.Retry.Enabled)},
		{keyRetryMaxAttempts, strconv.Itoa(s.Retry.MaxRetries)},
		{keyRetryDelayMS, strconv.FormatInt(s.Retry.RetryDelayMS, 10)},
		{keyRetryStrategy, string(s.Retry.Strategy)},
		{keyRetryOnlyModelErr, strconv.FormatBool(s.Retry.RetryOnlyModelErrors)},
	}
}

// decodeSettings overlays stored values on fallback. Unparseable values are
// logged and replaced by the fallback.
func decodeSettings(stored map[string]string, fallback Settings) *Settings {
	out := fallback
	if v, ok := stored[keyInferenceURL]; ok && v != "" {
		out.InferenceURL = v
	}
	parseBool := func(key string, dst *bool) {
		if v, ok := stored[key]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				slog.Warn("Invalid boolean setting, using default.", "key", key, "value", v)
				return
			}
			*dst = b
		}
	}
	parseBool(keyRetryEnabled, &out.Retry.Enabled)
	parseBool(keyRetryOnlyModelErr, &out.Retry.RetryOnlyModelErrors)

	if v, ok := stored[keyRetryMaxAttempts]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			out.Retry.MaxRetries = n
		} else {
			slog.Warn("Invalid retry_max_attempts setting, using default.", "value", v)
		}
	}
	if v, ok := stored[keyRetryDelayMS]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 && n <= model.MaxRetryDelayMS {
			out.Retry.RetryDelayMS = n
		} else {
			slog.Warn("Invalid retry_delay_ms setting, using default.", "value", v)
		}
	}
	if v, ok := stored[keyRetryStrategy]; ok {
		if strategy := model.RetryStrategy(v); strategy.Valid() {
			out.Retry.Strategy = strategy
		} else {
			slog.Warn("Invalid retry_strategy setting, using default.", "value", v)
		}
	}
	return &out
}

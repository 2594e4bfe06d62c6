package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/leadline/funnelbot/pkg/logging"
)

// Setting keys recognised by the bot. Everything is optional; missing keys
// fall back to safe defaults so a half-configured deployment still chats.
const (
	SettingSystemPrompt   = "system_prompt"
	SettingWelcomeText    = "welcome_text"
	SettingNiche          = "niche"
	SettingKnowledge      = "knowledge"
	SettingCollectContact = "collect_contact"
	SettingOperatorChatID = "operator_chat_id"
)

// DefaultSystemPrompt is used when no system_prompt setting is configured.
const DefaultSystemPrompt = "Ты вежливый помощник-консультант."

const settingsCacheKeyPrefix = "settings:"

type settingsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SettingsStore reads deployment configuration from the settings table with
// a short-lived Redis cache in front. All typed accessors are fail-open.
type SettingsStore struct {
	db     settingsDB
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewSettingsStore(db settingsDB, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *SettingsStore {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SettingsStore{db: db, redis: redisClient, ttl: ttl, logger: logger}
}

// Get returns the raw value for a key and whether it was found. Retrieval
// failures are logged and reported as absent.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool) {
	if s == nil || s.db == nil {
		return "", false
	}

	cacheKey := settingsCacheKeyPrefix + key
	if s.redis != nil {
		value, err := s.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			return value, true
		}
	}

	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("settings: read failed", "key", key, "error", err)
		}
		return "", false
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, value, s.ttl).Err(); err != nil {
			s.logger.Warn("settings: cache write failed", "key", key, "error", err)
		}
	}
	return value, true
}

// SystemPrompt returns the configured base prompt or the default one.
func (s *SettingsStore) SystemPrompt(ctx context.Context) string {
	if value, ok := s.Get(ctx, SettingSystemPrompt); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return DefaultSystemPrompt
}

// WelcomeText returns the greeting for brand-new chats, possibly empty.
func (s *SettingsStore) WelcomeText(ctx context.Context) string {
	value, _ := s.Get(ctx, SettingWelcomeText)
	return value
}

// Niche returns the business-niche description appended to the prompt.
func (s *SettingsStore) Niche(ctx context.Context) string {
	value, _ := s.Get(ctx, SettingNiche)
	return value
}

// Knowledge returns free-form knowledge snippets for the prompt.
func (s *SettingsStore) Knowledge(ctx context.Context) string {
	value, _ := s.Get(ctx, SettingKnowledge)
	return value
}

// CollectContact reports whether phone collection is required before a deal
// counts as won. Falls back to the deployment default.
func (s *SettingsStore) CollectContact(ctx context.Context, fallback bool) bool {
	value, ok := s.Get(ctx, SettingCollectContact)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// OperatorChatID returns the destination chat for won-deal notifications.
func (s *SettingsStore) OperatorChatID(ctx context.Context, fallback int64) int64 {
	value, ok := s.Get(ctx, SettingOperatorChatID)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

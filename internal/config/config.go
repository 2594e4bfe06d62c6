package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	BotToken        string
	PollTimeout     time.Duration
	OperatorChatID  int64
	NotifyEnabled   bool
	FunnelEnabled   bool
	CollectContact  bool
	HistoryLimit    int
	FunnelCacheTTL  time.Duration
	SettingsCacheTTL time.Duration

	LLMProvider      string
	LLMTimeout       time.Duration
	ExtractTimeout   time.Duration
	ReplyMaxTokens   int32
	PostSaleMaxTokens int32

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string

	GeminiAPIKey string
	GeminiModel  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:         getEnv("BOT_TOKEN", ""),
		PollTimeout:      getEnvAsDuration("POLL_TIMEOUT", 30*time.Second),
		OperatorChatID:   getEnvAsInt64("OPERATOR_CHAT_ID", 0),
		NotifyEnabled:    getEnvAsBool("NOTIFY_ENABLED", true),
		FunnelEnabled:    getEnvAsBool("FUNNEL_ENABLED", true),
		CollectContact:   getEnvAsBool("COLLECT_CONTACT", true),
		HistoryLimit:     getEnvAsInt("HISTORY_LIMIT", 20),
		FunnelCacheTTL:   getEnvAsDuration("FUNNEL_CACHE_TTL", time.Minute),
		SettingsCacheTTL: getEnvAsDuration("SETTINGS_CACHE_TTL", 30*time.Second),

		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "groq"))),
		LLMTimeout:        getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		ExtractTimeout:    getEnvAsDuration("EXTRACT_TIMEOUT", 25*time.Second),
		ReplyMaxTokens:    int32(getEnvAsInt("REPLY_MAX_TOKENS", 700)),
		PostSaleMaxTokens: int32(getEnvAsInt("POST_SALE_MAX_TOKENS", 1000)),

		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:   getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

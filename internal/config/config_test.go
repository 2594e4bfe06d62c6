package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.LLMProvider != "groq" {
		t.Errorf("LLMProvider = %q, want groq", cfg.LLMProvider)
	}
	if cfg.GroqModel != "llama-3.3-70b-versatile" {
		t.Errorf("GroqModel = %q", cfg.GroqModel)
	}
	if cfg.HistoryLimit != 20 {
		t.Errorf("HistoryLimit = %d, want 20", cfg.HistoryLimit)
	}
	if !cfg.FunnelEnabled || !cfg.CollectContact || !cfg.NotifyEnabled {
		t.Error("funnel, contact collection and notification should default to enabled")
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want 30s", cfg.PollTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("OPERATOR_CHAT_ID", "-100123456")
	t.Setenv("COLLECT_CONTACT", "false")
	t.Setenv("REPLY_MAX_TOKENS", "450")
	t.Setenv("FUNNEL_CACHE_TTL", "5m")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.LLMProvider != "gemini" {
		t.Errorf("LLMProvider = %q, want gemini (lowercased)", cfg.LLMProvider)
	}
	if cfg.OperatorChatID != -100123456 {
		t.Errorf("OperatorChatID = %d", cfg.OperatorChatID)
	}
	if cfg.CollectContact {
		t.Error("CollectContact should be disabled")
	}
	if cfg.ReplyMaxTokens != 450 {
		t.Errorf("ReplyMaxTokens = %d, want 450", cfg.ReplyMaxTokens)
	}
	if cfg.FunnelCacheTTL != 5*time.Minute {
		t.Errorf("FunnelCacheTTL = %v, want 5m", cfg.FunnelCacheTTL)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "twenty")
	t.Setenv("NOTIFY_ENABLED", "yes-please")
	t.Setenv("POLL_TIMEOUT", "soon")

	cfg := Load()

	if cfg.HistoryLimit != 20 {
		t.Errorf("HistoryLimit = %d, want default 20", cfg.HistoryLimit)
	}
	if !cfg.NotifyEnabled {
		t.Error("NotifyEnabled should fall back to default true")
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want default", cfg.PollTimeout)
	}
}

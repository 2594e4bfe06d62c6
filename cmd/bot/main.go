package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/leadline/funnelbot/internal/config"
	"github.com/leadline/funnelbot/internal/conversation"
	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/leads"
	"github.com/leadline/funnelbot/internal/notify"
	"github.com/leadline/funnelbot/internal/observability/metrics"
	"github.com/leadline/funnelbot/internal/telegram"
	"github.com/leadline/funnelbot/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting funnelbot",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	if cfg.BotToken == "" {
		logger.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	botMetrics := metrics.NewBotMetrics(prometheus.DefaultRegisterer)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		}
	}

	var (
		pool        *pgxpool.Pool
		leadsRepo   leads.Repository
		transcripts *conversation.TranscriptStore
		settings    *conversation.SettingsStore
		questions   *funnel.Store
	)
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		leadsRepo = leads.NewPostgresRepository(pool)
		transcripts = conversation.NewTranscriptStore(pool)
		settings = conversation.NewSettingsStore(pool, redisClient, cfg.SettingsCacheTTL, logger.Named("settings"))
		questions = funnel.NewStore(pool, redisClient, cfg.FunnelCacheTTL, logger.Named("funnel"))
	} else {
		logger.Warn("DATABASE_URL not set, running with in-memory leads and no transcript history")
		leadsRepo = leads.NewInMemoryRepository()
		settings = conversation.NewSettingsStore(nil, nil, cfg.SettingsCacheTTL, logger.Named("settings"))
	}

	llmClient, model, err := buildLLMClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize llm client", "provider", cfg.LLMProvider, "error", err)
		os.Exit(1)
	}

	botClient, err := telegram.NewClient(telegram.Config{
		Token:  cfg.BotToken,
		Logger: logger.Named("telegram"),
	})
	if err != nil {
		logger.Error("failed to initialize bot client", "error", err)
		os.Exit(1)
	}

	leadManager := leads.NewManager(leadsRepo, botMetrics, logger.Named("leads"))
	extractor := conversation.NewExtractor(llmClient, model, cfg.ExtractTimeout, botMetrics, logger.Named("extractor"))
	notifier := notify.NewService(botClient, settings, cfg.OperatorChatID, cfg.NotifyEnabled, botMetrics, logger.Named("notify"))

	service := conversation.NewBotService(
		llmClient,
		extractor,
		transcripts,
		settings,
		questions,
		leadManager,
		notifier,
		conversation.ServiceConfig{
			Model:             model,
			ReplyMaxTokens:    cfg.ReplyMaxTokens,
			PostSaleMaxTokens: cfg.PostSaleMaxTokens,
			ReplyTimeout:      cfg.LLMTimeout,
			HistoryLimit:      cfg.HistoryLimit,
			FunnelEnabled:     cfg.FunnelEnabled,
			CollectContact:    cfg.CollectContact,
		},
		botMetrics,
		logger.Named("conversation"),
	)

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "error", err)
		}
	}()

	poller := telegram.NewPoller(botClient, service, telegram.PollerConfig{
		PollTimeout: cfg.PollTimeout,
		DropPending: true,
	}, logger.Named("poller"))

	logger.Info("bot polling for updates")
	if err := poller.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("poller stopped", "error", err)
	}

	logger.Info("shutting down...")
	service.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", "error", err)
	}
	logger.Info("bot stopped")
}

// buildLLMClient picks the configured vendor adapter and its model.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config) (conversation.LLMClient, string, error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return client, cfg.GeminiModel, nil
	default:
		client, err := conversation.NewGroqLLMClient(cfg.GroqAPIKey, cfg.GroqBaseURL)
		if err != nil {
			return nil, "", err
		}
		return client, cfg.GroqModel, nil
	}
}

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/leads"
	"github.com/leadline/funnelbot/internal/observability/metrics"
	"github.com/leadline/funnelbot/internal/stage"
	"github.com/leadline/funnelbot/pkg/logging"
)

// ErrorReplyText is sent to the customer when reply generation fails.
const ErrorReplyText = "Произошла ошибка, попробуйте позже."

// DefaultWelcomeText greets brand-new chats when no welcome_text setting is
// configured.
const DefaultWelcomeText = "Здравствуйте! Чем могу помочь?"

// IncomingMessage is one inbound customer message.
type IncomingMessage struct {
	ChatID   int64
	Username string
	TGHandle string
	Text     string
}

// Reply is what the transport should send back to the customer.
type Reply struct {
	Text  string
	Stage stage.Stage
}

// LeadManager is the slice of the lead store the engine needs.
type LeadManager interface {
	Get(ctx context.Context, chatID int64) (*leads.Lead, error)
	ApplyExtraction(ctx context.Context, ext leads.Extraction) (*leads.Lead, bool, error)
}

// QuestionSource supplies the active funnel. funnel.Store satisfies it.
type QuestionSource interface {
	Load(ctx context.Context) []funnel.Question
}

// WonNotifier is told once per lead when the deal is won. Implementations
// must not block the caller for long and must swallow their own errors.
type WonNotifier interface {
	NotifyDealWon(ctx context.Context, lead *leads.Lead, questions []funnel.Question)
}

// ServiceConfig carries the tunables of the conversation engine.
type ServiceConfig struct {
	Model             string
	ReplyMaxTokens    int32
	PostSaleMaxTokens int32
	ReplyTimeout      time.Duration
	HistoryLimit      int
	FunnelEnabled     bool
	CollectContact    bool
}

// BotService is the per-message orchestrator: it logs the transcript,
// generates the visible reply and runs the qualification pass in the
// background.
type BotService struct {
	llm         LLMClient
	extractor   *Extractor
	transcripts *TranscriptStore
	settings    *SettingsStore
	questions   QuestionSource
	leadManager LeadManager
	notifier    WonNotifier
	cfg         ServiceConfig
	metrics     *metrics.BotMetrics
	tracer      trace.Tracer
	logger      *logging.Logger

	passes sync.WaitGroup
}

func NewBotService(
	llm LLMClient,
	extractor *Extractor,
	transcripts *TranscriptStore,
	settings *SettingsStore,
	questions QuestionSource,
	leadManager LeadManager,
	notifier WonNotifier,
	cfg ServiceConfig,
	m *metrics.BotMetrics,
	logger *logging.Logger,
) *BotService {
	if llm == nil {
		panic("conversation: llm client required")
	}
	if leadManager == nil {
		panic("conversation: lead manager required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ReplyMaxTokens <= 0 {
		cfg.ReplyMaxTokens = 700
	}
	if cfg.PostSaleMaxTokens <= 0 {
		cfg.PostSaleMaxTokens = 1000
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultTranscriptLimit
	}
	return &BotService{
		llm:         llm,
		extractor:   extractor,
		transcripts: transcripts,
		settings:    settings,
		questions:   questions,
		leadManager: leadManager,
		notifier:    notifier,
		cfg:         cfg,
		metrics:     m,
		tracer:      otel.Tracer("funnelbot.internal.conversation.service"),
		logger:      logger,
	}
}

// Greet answers a fresh /start: the configured welcome text or a default
// greeting, recorded in the transcript like any other assistant turn.
func (s *BotService) Greet(ctx context.Context, msg IncomingMessage) (Reply, error) {
	if msg.ChatID == 0 {
		return Reply{}, errors.New("conversation: chat id required")
	}

	welcome := DefaultWelcomeText
	if configured := strings.TrimSpace(s.settings.WelcomeText(ctx)); configured != "" {
		welcome = configured
	}
	if err := s.transcripts.Append(ctx, msg.ChatID, ChatRoleAssistant, welcome); err != nil {
		s.logger.Error("failed to record welcome message", "chat_id", msg.ChatID, "error", err)
	}
	return Reply{Text: welcome, Stage: stage.NewLead}, nil
}

// HandleMessage processes one customer turn. It always produces a reply;
// infrastructure failures degrade to the apology text instead of an error.
func (s *BotService) HandleMessage(ctx context.Context, msg IncomingMessage) (Reply, error) {
	if msg.ChatID == 0 {
		return Reply{}, errors.New("conversation: chat id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.handle_message")
	defer span.End()
	span.SetAttributes(attribute.Int64("funnelbot.chat_id", msg.ChatID))

	if err := s.transcripts.Append(ctx, msg.ChatID, ChatRoleUser, msg.Text); err != nil {
		s.logger.Error("failed to record user message", "chat_id", msg.ChatID, "error", err)
	}

	lead := s.currentLead(ctx, msg.ChatID)
	questions := s.loadQuestions(ctx)
	collectContact := s.settings.CollectContact(ctx, s.cfg.CollectContact)

	leadStage := lead.Stage
	if !leadStage.Terminal() {
		leadStage = stage.Derive(questions, lead.CollectedData, lead.HasPhone(), collectContact)
	}
	span.SetAttributes(attribute.String("funnelbot.stage", string(leadStage)))

	history := s.loadHistory(ctx, msg)

	reply, err := s.generateReply(ctx, leadStage, questions, lead, history)
	if err != nil {
		s.logger.Error("reply generation failed", "chat_id", msg.ChatID, "error", err)
		span.RecordError(err)
		// The customer still gets an answer, but this turn contributes no
		// qualification data: extracting from a turn the model never saw
		// properly would race the apology.
		if appendErr := s.transcripts.Append(ctx, msg.ChatID, ChatRoleAssistant, ErrorReplyText); appendErr != nil {
			s.logger.Error("failed to record apology", "chat_id", msg.ChatID, "error", appendErr)
		}
		return Reply{Text: ErrorReplyText, Stage: leadStage}, nil
	}

	if err := s.transcripts.Append(ctx, msg.ChatID, ChatRoleAssistant, reply); err != nil {
		s.logger.Error("failed to record assistant message", "chat_id", msg.ChatID, "error", err)
	}

	if s.cfg.FunnelEnabled && leadStage != stage.DealWon && s.extractor != nil {
		transcript := append(history, ChatMessage{Role: ChatRoleAssistant, Content: reply})
		s.passes.Add(1)
		go s.runQualificationPass(context.WithoutCancel(ctx), msg, transcript, questions, collectContact)
	}

	return Reply{Text: reply, Stage: leadStage}, nil
}

// Close waits for in-flight qualification passes, so a shutdown never loses
// an extraction that the customer's reply already implied.
func (s *BotService) Close() {
	s.passes.Wait()
}

func (s *BotService) currentLead(ctx context.Context, chatID int64) *leads.Lead {
	lead, err := s.leadManager.Get(ctx, chatID)
	if err != nil {
		if !errors.Is(err, leads.ErrLeadNotFound) {
			s.logger.Error("lead read failed, using empty record", "chat_id", chatID, "error", err)
		}
		return leads.NewLead(chatID)
	}
	return lead
}

func (s *BotService) loadQuestions(ctx context.Context) []funnel.Question {
	if !s.cfg.FunnelEnabled || s.questions == nil {
		return nil
	}
	return s.questions.Load(ctx)
}

// loadHistory returns the recent transcript ending with the current user
// turn. When the store is unavailable the turn itself is still enough for
// the model to answer.
func (s *BotService) loadHistory(ctx context.Context, msg IncomingMessage) []ChatMessage {
	history, err := s.transcripts.ListRecent(ctx, msg.ChatID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to load transcript", "chat_id", msg.ChatID, "error", err)
	}
	if len(history) == 0 || history[len(history)-1].Role != ChatRoleUser || history[len(history)-1].Content != msg.Text {
		history = append(history, ChatMessage{Role: ChatRoleUser, Content: msg.Text})
	}
	return history
}

func (s *BotService) generateReply(ctx context.Context, leadStage stage.Stage, questions []funnel.Question, lead *leads.Lead, history []ChatMessage) (string, error) {
	system := BuildSystemPrompt(PromptInput{
		BasePrompt: s.settings.SystemPrompt(ctx),
		Niche:      s.settings.Niche(ctx),
		Knowledge:  s.settings.Knowledge(ctx),
		Questions:  questions,
		Collected:  lead.CollectedData,
		Stage:      leadStage,
	})

	maxTokens := s.cfg.ReplyMaxTokens
	purpose := "reply"
	if leadStage == stage.DealWon {
		maxTokens = s.cfg.PostSaleMaxTokens
		purpose = "post_sale"
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.llm.Complete(callCtx, LLMRequest{
		Model:     s.cfg.Model,
		System:    system,
		Messages:  history,
		MaxTokens: maxTokens,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveLLM(s.cfg.Model, purpose, status, time.Since(start).Seconds())
	s.metrics.AddTokens(s.cfg.Model, "input", resp.Usage.InputTokens)
	s.metrics.AddTokens(s.cfg.Model, "output", resp.Usage.OutputTokens)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("conversation: model returned an empty reply")
	}
	return text, nil
}

// runQualificationPass extracts structured fields from the transcript and
// folds them into the lead record. Contact and funnel extraction are separate
// calls so one malformed output cannot poison the other.
func (s *BotService) runQualificationPass(ctx context.Context, msg IncomingMessage, history []ChatMessage, questions []funnel.Question, collectContact bool) {
	defer s.passes.Done()

	ctx, span := s.tracer.Start(ctx, "conversation.qualification_pass")
	defer span.End()
	span.SetAttributes(attribute.Int64("funnelbot.chat_id", msg.ChatID))

	ext := leads.Extraction{
		ChatID:       msg.ChatID,
		Username:     msg.Username,
		TGHandle:     msg.TGHandle,
		Questions:    questions,
		CollectPhone: collectContact,
		Fields:       s.extractor.ExtractFunnelFields(ctx, history, questions),
	}
	if collectContact {
		ext.Contact = s.extractor.ExtractContact(ctx, history)
	}

	lead, transitioned, err := s.leadManager.ApplyExtraction(ctx, ext)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("qualification pass failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if transitioned && s.notifier != nil {
		s.notifier.NotifyDealWon(ctx, lead, questions)
	}
}

package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/leads"
	"github.com/leadline/funnelbot/internal/observability/metrics"
	"github.com/leadline/funnelbot/pkg/logging"
)

// TextSender delivers a plain-text message to a chat.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// OperatorResolver returns the chat that should receive won-deal alerts.
// conversation.SettingsStore satisfies it.
type OperatorResolver interface {
	OperatorChatID(ctx context.Context, fallback int64) int64
}

// Service alerts the operator chat when a lead's deal is won. Delivery is
// best effort: failures are logged and counted, never propagated back into
// the conversation flow.
type Service struct {
	sender         TextSender
	operators      OperatorResolver
	fallbackChatID int64
	enabled        bool
	metrics        *metrics.BotMetrics
	logger         *logging.Logger
}

func NewService(sender TextSender, operators OperatorResolver, fallbackChatID int64, enabled bool, m *metrics.BotMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sender:         sender,
		operators:      operators,
		fallbackChatID: fallbackChatID,
		enabled:        enabled,
		metrics:        m,
		logger:         logger,
	}
}

// NotifyDealWon sends the one-time won-deal summary to the operator chat.
func (s *Service) NotifyDealWon(ctx context.Context, lead *leads.Lead, questions []funnel.Question) {
	if s == nil || !s.enabled || s.sender == nil || lead == nil {
		return
	}

	chatID := s.fallbackChatID
	if s.operators != nil {
		chatID = s.operators.OperatorChatID(ctx, s.fallbackChatID)
	}
	if chatID == 0 {
		s.logger.Warn("notify: no operator chat configured, dropping won-deal alert", "lead_chat_id", lead.ChatID)
		s.metrics.ObserveNotification("skipped")
		return
	}

	if err := s.sender.SendText(ctx, chatID, FormatDealWon(lead, questions)); err != nil {
		s.logger.Error("notify: failed to deliver won-deal alert",
			"lead_chat_id", lead.ChatID,
			"operator_chat_id", chatID,
			"error", err,
		)
		s.metrics.ObserveNotification("error")
		return
	}

	s.metrics.ObserveNotification("ok")
	s.logger.Info("won-deal alert delivered", "lead_chat_id", lead.ChatID, "operator_chat_id", chatID)
}

// FormatDealWon renders the operator summary: who the lead is, how to reach
// them and every funnel answer in funnel order.
func FormatDealWon(lead *leads.Lead, questions []funnel.Question) string {
	name := strings.TrimSpace(lead.Username)
	if name == "" {
		name = "Без имени"
	}
	phone := strings.TrimSpace(lead.Phone)
	if phone == "" {
		phone = "не указан"
	}

	var builder strings.Builder
	builder.WriteString("🎉 Новая заявка!\n\n")
	fmt.Fprintf(&builder, "Имя: %s\n", name)
	fmt.Fprintf(&builder, "Телефон: %s\n", phone)
	if handle := strings.TrimSpace(lead.TGHandle); handle != "" {
		fmt.Fprintf(&builder, "Telegram: @%s\n", strings.TrimPrefix(handle, "@"))
	}
	fmt.Fprintf(&builder, "Chat ID: %d\n", lead.ChatID)

	var answers []string
	for _, q := range questions {
		if value := strings.TrimSpace(lead.CollectedData[q.Question]); value != "" {
			answers = append(answers, fmt.Sprintf("%s: %s", q.Question, value))
		}
	}
	if len(answers) > 0 {
		builder.WriteString("\n")
		builder.WriteString(strings.Join(answers, "\n"))
	}
	return builder.String()
}

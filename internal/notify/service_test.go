package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/leads"
	"github.com/leadline/funnelbot/pkg/logging"
)

type recordingSender struct {
	chatID int64
	text   string
	calls  int
	err    error
}

func (r *recordingSender) SendText(ctx context.Context, chatID int64, text string) error {
	r.calls++
	r.chatID = chatID
	r.text = text
	return r.err
}

type staticOperators int64

func (s staticOperators) OperatorChatID(ctx context.Context, fallback int64) int64 {
	if s == 0 {
		return fallback
	}
	return int64(s)
}

func wonLead() *leads.Lead {
	lead := leads.NewLead(42)
	lead.Username = "Анна"
	lead.TGHandle = "anna_dacha"
	lead.Phone = "+79161234567"
	lead.CollectedData = map[string]string{
		"Объект": "дача",
		"Бюджет": "~7 млн",
	}
	return lead
}

var notifyQuestions = []funnel.Question{
	{ID: 1, Question: "Объект", OrderIndex: 1},
	{ID: 2, Question: "Бюджет", OrderIndex: 2},
}

func TestNotifyDealWon(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, staticOperators(-100500), 0, true, nil, logging.Default())

	svc.NotifyDealWon(context.Background(), wonLead(), notifyQuestions)

	if sender.calls != 1 {
		t.Fatalf("sends = %d, want 1", sender.calls)
	}
	if sender.chatID != -100500 {
		t.Errorf("operator chat = %d", sender.chatID)
	}
	for _, want := range []string{"Имя: Анна", "Телефон: +79161234567", "Telegram: @anna_dacha", "Chat ID: 42", "Объект: дача", "Бюджет: ~7 млн"} {
		if !strings.Contains(sender.text, want) {
			t.Errorf("alert missing %q:\n%s", want, sender.text)
		}
	}
	// Funnel order, not map order.
	if strings.Index(sender.text, "Объект") > strings.Index(sender.text, "Бюджет") {
		t.Error("answers must follow funnel order")
	}
}

func TestNotifyDealWonMissingPhone(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil, -1, true, nil, logging.Default())

	lead := wonLead()
	lead.Phone = ""
	svc.NotifyDealWon(context.Background(), lead, notifyQuestions)

	if !strings.Contains(sender.text, "Телефон: не указан") {
		t.Errorf("alert = %q", sender.text)
	}
}

func TestNotifyDealWonDisabled(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil, -1, false, nil, logging.Default())

	svc.NotifyDealWon(context.Background(), wonLead(), notifyQuestions)
	if sender.calls != 0 {
		t.Errorf("disabled service must not send, got %d", sender.calls)
	}
}

func TestNotifyDealWonNoOperatorConfigured(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, staticOperators(0), 0, true, nil, logging.Default())

	svc.NotifyDealWon(context.Background(), wonLead(), notifyQuestions)
	if sender.calls != 0 {
		t.Errorf("no operator chat means no send, got %d", sender.calls)
	}
}

func TestNotifyDealWonSendFailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("telegram 502")}
	svc := NewService(sender, nil, -1, true, nil, logging.Default())

	// Must not panic or propagate.
	svc.NotifyDealWon(context.Background(), wonLead(), notifyQuestions)
	if sender.calls != 1 {
		t.Errorf("sends = %d", sender.calls)
	}
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/leads"
	"github.com/leadline/funnelbot/internal/stage"
	"github.com/leadline/funnelbot/pkg/logging"
)

// scriptedLLM answers reply calls and extraction calls differently and is
// safe for the background qualification goroutine.
type scriptedLLM struct {
	mu          sync.Mutex
	replyText   string
	replyErr    error
	extractText string
	replyReqs   []LLMRequest
	extractReqs []LLMRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.MaxTokens == extractMaxTokens {
		s.extractReqs = append(s.extractReqs, req)
		return LLMResponse{Text: s.extractText}, nil
	}
	s.replyReqs = append(s.replyReqs, req)
	if s.replyErr != nil {
		return LLMResponse{}, s.replyErr
	}
	return LLMResponse{Text: s.replyText}, nil
}

type fakeLeadManager struct {
	mu           sync.Mutex
	lead         *leads.Lead
	transitioned bool
	applyErr     error
	applied      []leads.Extraction
}

func (f *fakeLeadManager) Get(ctx context.Context, chatID int64) (*leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lead == nil {
		return nil, leads.ErrLeadNotFound
	}
	return f.lead.Clone(), nil
}

func (f *fakeLeadManager) ApplyExtraction(ctx context.Context, ext leads.Extraction) (*leads.Lead, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ext)
	if f.applyErr != nil {
		return nil, false, f.applyErr
	}
	lead := f.lead
	if lead == nil {
		lead = leads.NewLead(ext.ChatID)
	}
	return lead.Clone(), f.transitioned, nil
}

func (f *fakeLeadManager) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

type staticQuestions []funnel.Question

func (s staticQuestions) Load(ctx context.Context) []funnel.Question { return s }

type countingNotifier struct {
	mu    sync.Mutex
	calls int
	last  *leads.Lead
}

func (n *countingNotifier) NotifyDealWon(ctx context.Context, lead *leads.Lead, questions []funnel.Question) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.last = lead
}

func (n *countingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func newTestService(llm LLMClient, mgr LeadManager, notifier WonNotifier, cfg ServiceConfig) *BotService {
	logger := logging.Default()
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = time.Second
	}
	extractor := NewExtractor(llm, "test-model", time.Second, nil, logger)
	settings := NewSettingsStore(nil, nil, time.Minute, logger)
	return NewBotService(llm, extractor, nil, settings, staticQuestions(testQuestions), mgr, notifier, cfg, nil, logger)
}

func TestHandleMessageRunsQualificationPass(t *testing.T) {
	llm := &scriptedLLM{replyText: "Отличный выбор! Какой у вас бюджет?", extractText: `{"Объект": "дача"}`}
	mgr := &fakeLeadManager{}
	svc := newTestService(llm, mgr, nil, ServiceConfig{FunnelEnabled: true, CollectContact: true})

	reply, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Username: "Анна", Text: "хочу дачу"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "Отличный выбор! Какой у вас бюджет?" {
		t.Errorf("reply = %q", reply.Text)
	}
	if reply.Stage != stage.ForQuestion(1) {
		t.Errorf("stage = %q", reply.Stage)
	}

	svc.Close()
	if got := mgr.appliedCount(); got != 1 {
		t.Fatalf("ApplyExtraction calls = %d, want 1", got)
	}
	ext := mgr.applied[0]
	if ext.ChatID != 42 || ext.Username != "Анна" || !ext.CollectPhone {
		t.Errorf("extraction input = %+v", ext)
	}
	if ext.Fields["Объект"] != "дача" {
		t.Errorf("extracted fields = %v", ext.Fields)
	}
	// Contact and funnel extraction are separate calls.
	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.extractReqs) != 2 {
		t.Errorf("extraction calls = %d, want 2", len(llm.extractReqs))
	}
}

func TestHandleMessageApologyOnLLMFailure(t *testing.T) {
	llm := &scriptedLLM{replyErr: errors.New("upstream 500")}
	mgr := &fakeLeadManager{}
	svc := newTestService(llm, mgr, nil, ServiceConfig{FunnelEnabled: true})

	reply, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Text: "хочу дачу"})
	if err != nil {
		t.Fatalf("HandleMessage should not surface LLM errors: %v", err)
	}
	if reply.Text != ErrorReplyText {
		t.Errorf("reply = %q, want apology", reply.Text)
	}

	svc.Close()
	if got := mgr.appliedCount(); got != 0 {
		t.Errorf("failed turn must not run qualification, got %d passes", got)
	}
}

func TestHandleMessageSkipsQualificationAfterWin(t *testing.T) {
	won := leads.NewLead(42)
	won.Stage = stage.DealWon
	won.Phone = "+79161234567"

	llm := &scriptedLLM{replyText: "Конечно, расскажу подробнее."}
	mgr := &fakeLeadManager{lead: won}
	svc := newTestService(llm, mgr, nil, ServiceConfig{FunnelEnabled: true, CollectContact: true, PostSaleMaxTokens: 1000})

	reply, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Text: "а какие документы нужны?"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Stage != stage.DealWon {
		t.Errorf("stage = %q", reply.Stage)
	}

	svc.Close()
	if got := mgr.appliedCount(); got != 0 {
		t.Errorf("won lead must not be re-qualified, got %d passes", got)
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.replyReqs) != 1 || llm.replyReqs[0].MaxTokens != 1000 {
		t.Errorf("post-sale reply should use the larger token budget: %+v", llm.replyReqs)
	}
}

func TestHandleMessageNotifiesOnceOnTransition(t *testing.T) {
	llm := &scriptedLLM{replyText: "Спасибо! Менеджер свяжется с вами.", extractText: `{"phone": "+79161234567"}`}
	mgr := &fakeLeadManager{transitioned: true}
	notifier := &countingNotifier{}
	svc := newTestService(llm, mgr, notifier, ServiceConfig{FunnelEnabled: true, CollectContact: true})

	if _, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Text: "+7 916 123-45-67"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	svc.Close()

	if got := notifier.callCount(); got != 1 {
		t.Errorf("notifier calls = %d, want 1", got)
	}
}

func TestHandleMessageNoNotifyWithoutTransition(t *testing.T) {
	llm := &scriptedLLM{replyText: "Какой у вас бюджет?", extractText: `{}`}
	mgr := &fakeLeadManager{}
	notifier := &countingNotifier{}
	svc := newTestService(llm, mgr, notifier, ServiceConfig{FunnelEnabled: true})

	if _, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Text: "дача"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	svc.Close()

	if got := notifier.callCount(); got != 0 {
		t.Errorf("notifier calls = %d, want 0", got)
	}
}

func TestHandleMessageFunnelDisabled(t *testing.T) {
	llm := &scriptedLLM{replyText: "Здравствуйте!"}
	mgr := &fakeLeadManager{}
	svc := newTestService(llm, mgr, nil, ServiceConfig{FunnelEnabled: false})

	reply, err := svc.HandleMessage(context.Background(), IncomingMessage{ChatID: 42, Text: "привет"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Stage != stage.NewLead {
		t.Errorf("stage = %q", reply.Stage)
	}

	svc.Close()
	if got := mgr.appliedCount(); got != 0 {
		t.Errorf("disabled funnel must not run passes, got %d", got)
	}
}

func TestGreetUsesDefaultWelcome(t *testing.T) {
	llm := &scriptedLLM{}
	svc := newTestService(llm, &fakeLeadManager{}, nil, ServiceConfig{})

	reply, err := svc.Greet(context.Background(), IncomingMessage{ChatID: 42})
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if reply.Text != DefaultWelcomeText {
		t.Errorf("welcome = %q", reply.Text)
	}
}

func TestHandleMessageRequiresChatID(t *testing.T) {
	llm := &scriptedLLM{replyText: "x"}
	svc := newTestService(llm, &fakeLeadManager{}, nil, ServiceConfig{})

	if _, err := svc.HandleMessage(context.Background(), IncomingMessage{Text: "hi"}); err == nil {
		t.Error("expected error for missing chat id")
	}
}

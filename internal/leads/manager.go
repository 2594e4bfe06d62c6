package leads

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nyaruka/phonenumbers"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/observability/metrics"
	"github.com/leadline/funnelbot/internal/stage"
	"github.com/leadline/funnelbot/pkg/logging"
)

const defaultPhoneRegion = "RU"

// Extraction is the input of one qualification pass: everything the field
// extractor pulled out of the transcript for a single inbound message.
type Extraction struct {
	ChatID   int64
	Username string
	TGHandle string

	// Contact holds the "name"/"phone" keys from the contact extraction call.
	Contact map[string]string
	// Fields holds funnel answers keyed by exact question prompt text.
	Fields map[string]string

	Questions    []funnel.Question
	CollectPhone bool
}

// Manager owns all writes to lead records. It merges extractor output,
// re-derives the stage and detects the transition into deal_won.
type Manager struct {
	repo    Repository
	locks   sync.Map // chat id -> *sync.Mutex
	metrics *metrics.BotMetrics
	logger  *logging.Logger
}

func NewManager(repo Repository, m *metrics.BotMetrics, logger *logging.Logger) *Manager {
	if repo == nil {
		panic("leads: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{repo: repo, metrics: m, logger: logger}
}

// Get returns the current record for a chat, or ErrLeadNotFound.
func (m *Manager) Get(ctx context.Context, chatID int64) (*Lead, error) {
	return m.repo.Get(ctx, chatID)
}

// ApplyExtraction runs one qualification pass: merge, re-derive, persist.
// transitionedToWon is true only on the pass where the stage first becomes
// deal_won, and only after the record was persisted.
func (m *Manager) ApplyExtraction(ctx context.Context, ext Extraction) (*Lead, bool, error) {
	if ext.ChatID == 0 {
		return nil, false, ErrMissingChatID
	}

	unlock := m.lock(ext.ChatID)
	defer unlock()

	lead, err := m.repo.Get(ctx, ext.ChatID)
	if err != nil {
		if err != ErrLeadNotFound {
			// Treat an unreadable record as absent rather than inventing
			// data for a write; the merge below only adds this pass's facts.
			m.logger.Error("leads: read failed, starting from empty record", "chat_id", ext.ChatID, "error", err)
		}
		lead = NewLead(ext.ChatID)
	}
	if lead.CollectedData == nil {
		lead.CollectedData = map[string]string{}
	}

	if lead.Username == "" {
		lead.Username = ext.Username
	}
	if ext.TGHandle != "" {
		lead.TGHandle = ext.TGHandle
	}

	mergeFunnelFields(lead, ext.Fields, ext.Questions)
	mergeContact(lead, ext.Contact)

	previous := lead.Stage
	lead.Stage = stage.Derive(ext.Questions, lead.CollectedData, lead.HasPhone(), ext.CollectPhone)
	transitioned := lead.Stage == stage.DealWon && previous != stage.DealWon

	if err := m.repo.Upsert(ctx, lead); err != nil {
		// Without a persisted deal_won stage the next pass would fire the
		// notification again, so the transition is not reported.
		return lead, false, fmt.Errorf("leads: persist pass: %w", err)
	}

	m.metrics.ObservePass(string(lead.Stage))
	m.logger.Info("qualification pass applied",
		"chat_id", ext.ChatID,
		"stage", lead.Stage,
		"previous_stage", previous,
		"transitioned_to_won", transitioned,
	)
	return lead, transitioned, nil
}

// mergeFunnelFields adds extracted answers, keyed strictly by the current
// funnel's prompt texts. A non-empty stored value is only replaced by another
// non-empty value, never cleared.
func mergeFunnelFields(lead *Lead, fields map[string]string, questions []funnel.Question) {
	if len(fields) == 0 {
		return
	}
	for _, q := range questions {
		value, ok := fields[q.Question]
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		lead.CollectedData[q.Question] = value
	}
}

// mergeContact applies the contact extraction call. Last non-empty extraction
// wins; an extraction that returned nothing leaves existing values untouched.
func mergeContact(lead *Lead, contact map[string]string) {
	if len(contact) == 0 {
		return
	}
	if name := strings.TrimSpace(contact["name"]); name != "" {
		lead.Username = name
	}
	if phone := strings.TrimSpace(contact["phone"]); phone != "" {
		lead.Phone = normalizePhone(phone)
	}
}

// normalizePhone formats a number to E.164 when it parses, otherwise keeps
// the extracted text verbatim.
func normalizePhone(input string) string {
	number, err := phonenumbers.Parse(input, defaultPhoneRegion)
	if err != nil {
		return input
	}
	if !phonenumbers.IsValidNumber(number) {
		return input
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func (m *Manager) lock(chatID int64) func() {
	v, _ := m.locks.LoadOrStore(chatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

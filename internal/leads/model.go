package leads

import (
	"strings"
	"time"

	"github.com/leadline/funnelbot/internal/stage"
)

// Lead is the accumulated qualification state of one conversation, keyed by
// the Telegram chat identifier.
type Lead struct {
	ChatID        int64             `json:"chat_id"`
	Username      string            `json:"username"`
	TGHandle      string            `json:"tg_handle"`
	Phone         string            `json:"phone"`
	CollectedData map[string]string `json:"collected_data"`
	Stage         stage.Stage       `json:"stage"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewLead returns an empty record for a chat.
func NewLead(chatID int64) *Lead {
	return &Lead{
		ChatID:        chatID,
		CollectedData: map[string]string{},
		Stage:         stage.NewLead,
	}
}

// HasPhone reports whether a phone number is on record.
func (l *Lead) HasPhone() bool {
	return strings.TrimSpace(l.Phone) != ""
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	out.CollectedData = make(map[string]string, len(l.CollectedData))
	for k, v := range l.CollectedData {
		out.CollectedData[k] = v
	}
	return &out
}

package leads

import "errors"

var (
	// ErrLeadNotFound is returned when no record exists for a chat.
	ErrLeadNotFound = errors.New("leads: lead not found")
	// ErrMissingChatID is returned when a record has no chat identifier.
	ErrMissingChatID = errors.New("leads: chat id is required")
)

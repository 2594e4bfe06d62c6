package stage

import (
	"fmt"
	"strings"

	"github.com/leadline/funnelbot/internal/funnel"
)

// Stage marks a lead's qualification progress. Stages are derived from the
// currently collected data on every pass; the engine keeps no state of its own.
type Stage string

const (
	NewLead      Stage = "new_lead"
	WaitingPhone Stage = "waiting_phone"
	DealWon      Stage = "deal_won"
)

// ForQuestion returns the stage marking the given funnel question as the
// currently active one.
func ForQuestion(id int64) Stage {
	return Stage(fmt.Sprintf("question_%d", id))
}

// Terminal reports whether the stage ends qualification for the conversation.
func (s Stage) Terminal() bool {
	return s == DealWon
}

// Derive computes the lead stage from the funnel definition and the data
// collected so far. The active question is always the first unfilled one by
// order index, never the most recently mentioned.
func Derive(questions []funnel.Question, collected map[string]string, hasPhone, collectPhone bool) Stage {
	if len(questions) == 0 {
		return NewLead
	}

	filled := 0
	for _, q := range questions {
		if strings.TrimSpace(collected[q.Question]) != "" {
			filled++
		}
	}

	if filled < len(questions) {
		for _, q := range questions {
			if strings.TrimSpace(collected[q.Question]) == "" {
				return ForQuestion(q.ID)
			}
		}
		// Unreachable unless collected mutated concurrently; stay safe.
		return NewLead
	}

	if collectPhone && !hasPhone {
		return WaitingPhone
	}
	return DealWon
}

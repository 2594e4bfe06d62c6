package funnel

import "strings"

// Question is a single qualifying question in the funnel. The ordered,
// required-only set of questions defines the funnel for one deployment.
type Question struct {
	ID         int64  `json:"id"`
	Question   string `json:"question"`
	AgentTask  string `json:"agent_task"`
	IsRequired bool   `json:"is_required"`
	OrderIndex int    `json:"order_index"`
}

// Task returns the extraction guidance for the question. Falls back to the
// prompt text when no dedicated task is configured.
func (q Question) Task() string {
	if strings.TrimSpace(q.AgentTask) == "" {
		return q.Question
	}
	return q.AgentTask
}

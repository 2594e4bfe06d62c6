package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/observability/metrics"
	"github.com/leadline/funnelbot/pkg/logging"
)

const (
	extractMaxTokens        = 300
	extractTranscriptWindow = 20

	categoryContact = "contact"
	categoryFunnel  = "funnel"
)

// Extractor turns a transcript into structured fields with one generative
// call per category. Contact fields and funnel fields are extracted
// independently so a malformed result in one category never discards the
// other.
type Extractor struct {
	client  LLMClient
	model   string
	timeout time.Duration
	metrics *metrics.BotMetrics
	tracer  trace.Tracer
	logger  *logging.Logger
}

func NewExtractor(client LLMClient, model string, timeout time.Duration, m *metrics.BotMetrics, logger *logging.Logger) *Extractor {
	if client == nil {
		panic("conversation: extractor requires an llm client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Extractor{
		client:  client,
		model:   model,
		timeout: timeout,
		metrics: m,
		tracer:  otel.Tracer("funnelbot.internal.conversation.extractor"),
		logger:  logger,
	}
}

// ExtractContact pulls the customer's name and phone out of the transcript.
// Returns an empty map when nothing was mentioned or the output was
// malformed; never an error.
func (e *Extractor) ExtractContact(ctx context.Context, history []ChatMessage) map[string]string {
	system := `You extract contact details from a sales conversation.

CRITICAL: Return ONLY a JSON object, nothing else. No markdown, no code fences, no explanation.

Allowed keys: "name", "phone". Omit a key entirely when the customer never mentioned it.
- "name": the customer's own name as they stated it.
- "phone": the phone number exactly as written, digits and punctuation preserved.

If nothing was mentioned return {}.`
	return e.extract(ctx, categoryContact, system, history)
}

// ExtractFunnelFields pulls answers to the funnel questions out of the
// transcript, keyed by the exact question prompt text.
func (e *Extractor) ExtractFunnelFields(ctx context.Context, history []ChatMessage, questions []funnel.Question) map[string]string {
	if len(questions) == 0 {
		return nil
	}

	var fields strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&fields, "- %q: %s\n", q.Question, q.Task())
	}

	system := fmt.Sprintf(`You extract answers to qualification questions from a sales conversation.

CRITICAL: Return ONLY a JSON object, nothing else. No markdown, no code fences, no explanation.

Target fields (key: what to extract):
%s
Rules:
- Keys must be the EXACT question text shown above, character for character.
- Omit every field the customer has not answered yet. Never invent values.
- Keep the customer's own wording. Normalize approximate numbers: "about seven" / "около семи" becomes "~7".
- If nothing was answered return {}.`, fields.String())
	return e.extract(ctx, categoryFunnel, system, history)
}

func (e *Extractor) extract(ctx context.Context, category, system string, history []ChatMessage) map[string]string {
	ctx, span := e.tracer.Start(ctx, "conversation.extract."+category)
	defer span.End()

	transcript := formatTranscript(history, extractTranscriptWindow)
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Complete(callCtx, LLMRequest{
		Model:       e.model,
		System:      []string{system},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "Conversation:\n" + transcript}},
		MaxTokens:   extractMaxTokens,
		Temperature: 0,
	})
	latency := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.ObserveLLM(e.model, "extract_"+category, status, latency.Seconds())
	e.metrics.AddTokens(e.model, "input", resp.Usage.InputTokens)
	e.metrics.AddTokens(e.model, "output", resp.Usage.OutputTokens)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("funnelbot.extract.category", category),
			attribute.Float64("funnelbot.extract.latency_ms", float64(latency.Milliseconds())),
		)
	}

	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveExtraction(category, "error")
		e.logger.Warn("extraction call failed", "category", category, "model", e.model, "error", err)
		return nil
	}

	parsed, ok := parseFieldsJSON(resp.Text)
	if !ok {
		e.metrics.ObserveExtraction(category, "parse_error")
		e.logger.Warn("extraction returned malformed output, ignoring",
			"category", category,
			"model", e.model,
			"preview", previewText(resp.Text, 120),
		)
		return nil
	}
	if len(parsed) == 0 {
		e.metrics.ObserveExtraction(category, "empty")
		return nil
	}
	e.metrics.ObserveExtraction(category, "ok")
	return parsed
}

// parseFieldsJSON enforces the JSON-object-only output contract. A fenced
// object is unwrapped; any other text around the object makes the whole
// response malformed. No salvage parsing.
func parseFieldsJSON(text string) (map[string]string, bool) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return nil, false
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false
	}

	out := make(map[string]string, len(decoded))
	for key, value := range decoded {
		var str string
		switch v := value.(type) {
		case string:
			str = strings.TrimSpace(v)
		case float64:
			str = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			str = strconv.FormatBool(v)
		default:
			// Nested objects/arrays/nulls carry no usable answer.
			continue
		}
		if str == "" {
			continue
		}
		out[key] = str
	}
	return out, true
}

// formatTranscript renders the newest limit messages as role-prefixed lines,
// oldest first.
func formatTranscript(history []ChatMessage, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var builder strings.Builder
	for _, msg := range history {
		if msg.Role == ChatRoleSystem {
			continue
		}
		builder.WriteString(msg.Role)
		builder.WriteString(": ")
		builder.WriteString(msg.Content)
		builder.WriteString("\n")
	}
	return builder.String()
}

func previewText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

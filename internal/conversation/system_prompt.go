package conversation

import (
	"fmt"
	"strings"

	"github.com/leadline/funnelbot/internal/funnel"
	"github.com/leadline/funnelbot/internal/stage"
)

// PromptInput carries everything the prompt builder needs about the
// deployment and the current lead.
type PromptInput struct {
	BasePrompt string
	Niche      string
	Knowledge  string
	Questions  []funnel.Question
	Collected  map[string]string
	Stage      stage.Stage
}

// BuildSystemPrompt assembles the system blocks for a reply: persona, niche,
// knowledge, then stage-specific instructions. Qualification instructions are
// dropped entirely once the deal is won; from then on the bot consults.
func BuildSystemPrompt(in PromptInput) []string {
	base := strings.TrimSpace(in.BasePrompt)
	if base == "" {
		base = DefaultSystemPrompt
	}

	blocks := []string{base}

	if niche := strings.TrimSpace(in.Niche); niche != "" {
		blocks = append(blocks, "Сфера бизнеса: "+niche)
	}
	if knowledge := strings.TrimSpace(in.Knowledge); knowledge != "" {
		blocks = append(blocks, "Информация о продукте и компании:\n"+knowledge)
	}

	switch {
	case in.Stage == stage.DealWon:
		blocks = append(blocks, postSaleInstructions)
	case in.Stage == stage.WaitingPhone:
		blocks = append(blocks, collectedSummary(in.Questions, in.Collected), waitingPhoneInstructions)
	default:
		if instructions := qualificationInstructions(in.Questions, in.Collected); instructions != "" {
			blocks = append(blocks, instructions)
		}
	}

	out := blocks[:0]
	for _, block := range blocks {
		if strings.TrimSpace(block) != "" {
			out = append(out, block)
		}
	}
	return out
}

const postSaleInstructions = `Клиент уже оставил заявку, она передана менеджеру. Больше не задавай квалифицирующих вопросов и не проси контакты повторно. Отвечай на вопросы клиента по продукту подробно и дружелюбно, как консультант.`

const waitingPhoneInstructions = `Все квалифицирующие вопросы отвечены. Сейчас твоя задача: вежливо попроси у клиента номер телефона, чтобы менеджер мог связаться с ним. Не задавай других вопросов.`

// qualificationInstructions tells the model which funnel question to work on
// now. One question at a time, in funnel order.
func qualificationInstructions(questions []funnel.Question, collected map[string]string) string {
	var current *funnel.Question
	var answered []string
	for i := range questions {
		q := questions[i]
		if strings.TrimSpace(collected[q.Question]) != "" {
			answered = append(answered, fmt.Sprintf("%s: %s", q.Question, collected[q.Question]))
			continue
		}
		if current == nil {
			current = &questions[i]
		}
	}
	if current == nil {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("Ты ведёшь клиента по воронке квалификации.\n")
	if len(answered) > 0 {
		builder.WriteString("Уже выяснено:\n")
		for _, line := range answered {
			builder.WriteString("- " + line + "\n")
		}
	}
	fmt.Fprintf(&builder, "Сейчас твоя задача: %s\n", current.Task())
	builder.WriteString("Задавай один вопрос за раз. Отвечай на встречные вопросы клиента, но мягко возвращай разговор к своей задаче.")
	return builder.String()
}

func collectedSummary(questions []funnel.Question, collected map[string]string) string {
	var lines []string
	for _, q := range questions {
		if value := strings.TrimSpace(collected[q.Question]); value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", q.Question, value))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Что уже известно о клиенте:\n" + strings.Join(lines, "\n")
}

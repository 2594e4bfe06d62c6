package stage

import (
	"testing"

	"github.com/leadline/funnelbot/internal/funnel"
)

func testFunnel() []funnel.Question {
	return []funnel.Question{
		{ID: 1, Question: "Объект", IsRequired: true, OrderIndex: 10},
		{ID: 2, Question: "Бюджет", IsRequired: true, OrderIndex: 20},
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name         string
		questions    []funnel.Question
		collected    map[string]string
		hasPhone     bool
		collectPhone bool
		want         Stage
	}{
		{"empty funnel", nil, nil, false, true, NewLead},
		{"nothing collected", testFunnel(), nil, false, true, ForQuestion(1)},
		{"first question answered", testFunnel(), map[string]string{"Объект": "дача"}, false, true, ForQuestion(2)},
		{"second answered first missing", testFunnel(), map[string]string{"Бюджет": "100000"}, false, true, ForQuestion(1)},
		{"whitespace value counts as unfilled", testFunnel(), map[string]string{"Объект": "  "}, false, true, ForQuestion(1)},
		{"all answered phone pending", testFunnel(), map[string]string{"Объект": "дача", "Бюджет": "100000"}, false, true, WaitingPhone},
		{"all answered phone present", testFunnel(), map[string]string{"Объект": "дача", "Бюджет": "100000"}, true, true, DealWon},
		{"all answered phone not required", testFunnel(), map[string]string{"Объект": "дача", "Бюджет": "100000"}, false, false, DealWon},
		{"stray keys are ignored", testFunnel(), map[string]string{"Этаж": "3"}, false, true, ForQuestion(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.questions, tt.collected, tt.hasPhone, tt.collectPhone)
			if got != tt.want {
				t.Errorf("Derive() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveIsIdempotent(t *testing.T) {
	collected := map[string]string{"Объект": "дача"}
	first := Derive(testFunnel(), collected, false, true)
	second := Derive(testFunnel(), collected, false, true)
	if first != second {
		t.Errorf("Derive not idempotent: %q then %q", first, second)
	}
}

func TestDeriveUsesOrderIndexNotFillRatio(t *testing.T) {
	questions := []funnel.Question{
		{ID: 7, Question: "Сроки", OrderIndex: 1},
		{ID: 3, Question: "Объект", OrderIndex: 2},
		{ID: 5, Question: "Бюджет", OrderIndex: 3},
	}
	// Two of three filled, but the first by order index is missing.
	collected := map[string]string{"Объект": "дом", "Бюджет": "2 млн"}
	if got := Derive(questions, collected, false, false); got != ForQuestion(7) {
		t.Errorf("Derive() = %q, want %q", got, ForQuestion(7))
	}
}

func TestTerminal(t *testing.T) {
	if !DealWon.Terminal() {
		t.Error("deal_won must be terminal")
	}
	for _, s := range []Stage{NewLead, WaitingPhone, ForQuestion(1)} {
		if s.Terminal() {
			t.Errorf("%q must not be terminal", s)
		}
	}
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BotMetrics exposes counters/histograms for the conversation engine.
type BotMetrics struct {
	llmLatency        *prometheus.HistogramVec
	llmTokensTotal    *prometheus.CounterVec
	extractionTotal   *prometheus.CounterVec
	passesTotal       *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "funnelbot",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Latency of generative backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model", "purpose", "status"}),
		llmTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage reported by the generative backend",
		}, []string{"model", "kind"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Subsystem: "extraction",
			Name:      "total",
			Help:      "Field extraction calls by category and outcome",
		}, []string{"category", "outcome"}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Subsystem: "qualification",
			Name:      "passes_total",
			Help:      "Qualification passes by result stage",
		}, []string{"stage"}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Subsystem: "notify",
			Name:      "total",
			Help:      "Operator notifications by delivery status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.llmLatency, m.llmTokensTotal, m.extractionTotal, m.passesTotal, m.notificationTotal)
	return m
}

func (m *BotMetrics) ObserveLLM(model, purpose, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(model, purpose, status).Observe(seconds)
}

func (m *BotMetrics) AddTokens(model, kind string, n int32) {
	if m == nil || n <= 0 {
		return
	}
	m.llmTokensTotal.WithLabelValues(model, kind).Add(float64(n))
}

func (m *BotMetrics) ObserveExtraction(category, outcome string) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(category, outcome).Inc()
}

func (m *BotMetrics) ObservePass(stage string) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(stage).Inc()
}

func (m *BotMetrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(status).Inc()
}

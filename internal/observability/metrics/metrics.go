package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the call enrichment pipeline.
type PipelineMetrics struct {
	webhookTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	matchScore      prometheus.Histogram
	giveUpsTotal    prometheus.Counter
	followupTotal   *prometheus.CounterVec
	notificationSum *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsync",
			Subsystem: "webhook",
			Name:      "call_status_total",
			Help:      "Total call-status webhooks by mapped status and result",
		}, []string{"status", "result"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callsync",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of call-status webhook acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsync",
			Subsystem: "enrichment",
			Name:      "attempts_total",
			Help:      "Enrichment attempts by outcome",
		}, []string{"outcome"}),
		matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "callsync",
			Subsystem: "enrichment",
			Name:      "match_score",
			Help:      "Score of the winning conversation candidate (lower is closer)",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}),
		giveUpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "callsync",
			Subsystem: "enrichment",
			Name:      "give_ups_total",
			Help:      "Calls that exhausted every enrichment attempt",
		}),
		followupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsync",
			Subsystem: "followup",
			Name:      "leads_total",
			Help:      "Lead reconciliation results",
		}, []string{"result"}),
		notificationSum: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsync",
			Subsystem: "followup",
			Name:      "notifications_total",
			Help:      "Owner notifications by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.attemptsTotal, m.matchScore, m.giveUpsTotal, m.followupTotal, m.notificationSum)
	return m
}

func (m *PipelineMetrics) ObserveWebhook(status, result string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(status, result).Inc()
	m.webhookLatency.WithLabelValues(result).Observe(seconds)
}

func (m *PipelineMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveMatchScore(score float64) {
	if m == nil {
		return
	}
	m.matchScore.Observe(score)
}

func (m *PipelineMetrics) ObserveGiveUp() {
	if m == nil {
		return
	}
	m.giveUpsTotal.Inc()
}

// ObserveLead records "matched", "created" or "error".
func (m *PipelineMetrics) ObserveLead(result string) {
	if m == nil {
		return
	}
	m.followupTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveNotification(sent bool) {
	if m == nil {
		return
	}
	label := "failed"
	if sent {
		label = "sent"
	}
	m.notificationSum.WithLabelValues(label).Inc()
}

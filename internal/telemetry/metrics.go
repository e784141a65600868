package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quizbot"

// Metrics are the dispatcher counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	QuestionsEmitted prometheus.Counter
	Answers          *prometheus.CounterVec
	Timeouts         *prometheus.CounterVec
	StaleEvents      *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuestionsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_emitted_total",
			Help:      "Questions sent to users.",
		}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Accepted answers by result.",
		}, []string{"result"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Accepted question timeouts by policy.",
		}, []string{"policy"}),
		StaleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_events_total",
			Help:      "Answer and timeout events discarded as stale or duplicate.",
		}, []string{"kind"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently in progress.",
		}),
	}

	reg.MustRegister(m.QuestionsEmitted, m.Answers, m.Timeouts, m.StaleEvents, m.Sessions, m.ActiveSessions)
	return m
}

func (m *Metrics) ObserveQuestion() {
	if m == nil {
		return
	}
	m.QuestionsEmitted.Inc()
}

func (m *Metrics) ObserveAnswer(correct bool) {
	if m == nil {
		return
	}
	result := "wrong"
	if correct {
		result = "correct"
	}
	m.Answers.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTimeout(policy string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(policy).Inc()
}

func (m *Metrics) ObserveStale(kind string) {
	if m == nil {
		return
	}
	m.StaleEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(outcome).Inc()
}

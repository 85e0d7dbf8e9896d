package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for messaging flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Telnyx webhooks",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound Telnyx sends",
		}, []string{"status", "suppressed"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Telnyx webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string, suppressed bool) {
	if m == nil {
		return
	}
	label := "false"
	if suppressed {
		label = "true"
	}
	m.outboundTotal.WithLabelValues(status, label).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

// BookingMetrics tracks the booking engine's operation outcomes (§4.D).
type BookingMetrics struct {
	operationsTotal *prometheus.CounterVec
}

// NewBookingMetrics registers booking counters against reg.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Total booking engine operations by outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal)
	return m
}

// ObserveOperation records one book/cancel/reschedule/confirm attempt.
func (m *BookingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ReminderMetrics tracks the reminder send loop (§4.E).
type ReminderMetrics struct {
	sendTotal    *prometheus.CounterVec
	attemptsUsed prometheus.Histogram
}

// NewReminderMetrics registers reminder counters against reg.
func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "reminders",
			Name:      "send_total",
			Help:      "Total reminder send attempts by stage and result",
		}, []string{"stage", "result"}),
		attemptsUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "reminders",
			Name:      "attempts_used",
			Help:      "Attempts consumed before a reminder reached a terminal state",
			Buckets:   []float64{1, 2, 3},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendTotal, m.attemptsUsed)
	return m
}

// ObserveSend records one send-loop attempt outcome.
func (m *ReminderMetrics) ObserveSend(stage, result string) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(stage, result).Inc()
}

// ObserveAttemptsUsed records how many attempts a reminder consumed once
// terminal (sent or failed).
func (m *ReminderMetrics) ObserveAttemptsUsed(attempts int) {
	if m == nil {
		return
	}
	m.attemptsUsed.Observe(float64(attempts))
}

// WebhookMetrics tracks the voice-platform webhook dispatcher (§4.H).
type WebhookMetrics struct {
	eventsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewWebhookMetrics registers webhook counters against reg.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total voice-platform webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "webhook",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of voice-platform webhook dispatch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.latency)
	return m
}

// ObserveEvent records one dispatched webhook event.
func (m *WebhookMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveLatency records dispatch latency for eventType.
func (m *WebhookMetrics) ObserveLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(eventType).Observe(seconds)
}

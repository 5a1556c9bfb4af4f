package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bump service
type Metrics struct {
	// Broadcast metrics
	MessagesSent    prometheus.Counter
	SendErrors      *prometheus.CounterVec
	SendDuration    prometheus.Histogram
	FloodWaits      prometheus.Counter
	ActiveCampaigns prometheus.Gauge
	BroadcastCycles prometheus.Counter

	// Task metrics
	ActiveTasks  prometheus.Gauge
	FolderJoins  prometheus.Counter
	ChatJoins    prometheus.Counter
	JoinErrors   *prometheus.CounterVec
	DialogsWiped prometheus.Counter

	// Account metrics
	ActiveAccounts      prometheus.Gauge
	TotalAccounts       prometheus.Gauge
	SessionCheckouts    prometheus.Counter
	SessionCheckoutBusy prometheus.Counter
	SessionsInvalidated prometheus.Counter

	// Kafka metrics
	KafkaMessagesProduced prometheus.Counter
	KafkaProduceErrors    *prometheus.CounterVec
}

var (
	// DefaultMetrics is the default metrics instance
	DefaultMetrics *Metrics
	once           sync.Once
)

// GetDefaultMetrics returns the singleton metrics instance
func GetDefaultMetrics() *Metrics {
	once.Do(func() {
		DefaultMetrics = NewMetrics()
	})
	return DefaultMetrics
}

func init() {
	// Initialize DefaultMetrics on package import
	GetDefaultMetrics()
}

// NewMetrics creates a new Metrics instance with all counters and gauges
func NewMetrics() *Metrics {
	return &Metrics{
		// Broadcast metrics
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_messages_sent_total",
			Help: "Total number of campaign messages sent",
		}),
		SendErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bump_service_send_errors_total",
				Help: "Total number of send failures",
			},
			[]string{"error_type"},
		),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bump_service_send_duration_seconds",
			Help:    "Duration of message send operations in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		FloodWaits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_flood_waits_total",
			Help: "Total number of FLOOD_WAIT responses from Telegram API",
		}),
		ActiveCampaigns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bump_service_active_campaigns",
			Help: "Current number of running campaigns",
		}),
		BroadcastCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_broadcast_cycles_total",
			Help: "Total number of completed broadcast cycles",
		}),

		// Task metrics
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bump_service_active_tasks",
			Help: "Current number of running background tasks",
		}),
		FolderJoins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_folder_joins_total",
			Help: "Total number of shared folders joined",
		}),
		ChatJoins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_chat_joins_total",
			Help: "Total number of individual chats joined",
		}),
		JoinErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bump_service_join_errors_total",
				Help: "Total number of join failures",
			},
			[]string{"error_type"},
		),
		DialogsWiped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_dialogs_wiped_total",
			Help: "Total number of dialogs removed by wipe operations",
		}),

		// Account metrics
		ActiveAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bump_service_active_accounts",
			Help: "Current number of active Telegram accounts",
		}),
		TotalAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bump_service_total_accounts",
			Help: "Total number of registered Telegram accounts",
		}),
		SessionCheckouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_session_checkouts_total",
			Help: "Total number of session checkouts",
		}),
		SessionCheckoutBusy: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_session_checkout_busy_total",
			Help: "Total number of checkouts rejected because the account was busy",
		}),
		SessionsInvalidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_sessions_invalidated_total",
			Help: "Total number of sessions marked expired",
		}),

		// Kafka metrics
		KafkaMessagesProduced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bump_service_kafka_messages_produced_total",
			Help: "Total number of events produced to Kafka",
		}),
		KafkaProduceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bump_service_kafka_produce_errors_total",
				Help: "Total number of Kafka produce errors",
			},
			[]string{"error_type"},
		),
	}
}

// RecordSend records a successful message send
func (m *Metrics) RecordSend(duration float64) {
	m.MessagesSent.Inc()
	m.SendDuration.Observe(duration)
}

// RecordSendError records a send failure with error type
func (m *Metrics) RecordSendError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.SendErrors.WithLabelValues(errorType).Inc()
}

// RecordFloodWait records a FLOOD_WAIT response
func (m *Metrics) RecordFloodWait() {
	m.FloodWaits.Inc()
}

// RecordCycle records a completed broadcast cycle
func (m *Metrics) RecordCycle() {
	m.BroadcastCycles.Inc()
}

// RecordFolderJoin records a successful folder join
func (m *Metrics) RecordFolderJoin() {
	m.FolderJoins.Inc()
}

// RecordChatJoin records a successful chat join
func (m *Metrics) RecordChatJoin() {
	m.ChatJoins.Inc()
}

// RecordJoinError records a join failure with error type
func (m *Metrics) RecordJoinError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.JoinErrors.WithLabelValues(errorType).Inc()
}

// RecordDialogsWiped records dialogs removed by a wipe operation
func (m *Metrics) RecordDialogsWiped(count int) {
	if count > 0 {
		m.DialogsWiped.Add(float64(count))
	}
}

// UpdateAccounts updates account gauges
func (m *Metrics) UpdateAccounts(active, total int) {
	m.ActiveAccounts.Set(float64(active))
	m.TotalAccounts.Set(float64(total))
}

// RecordCheckout records a session checkout
func (m *Metrics) RecordCheckout() {
	m.SessionCheckouts.Inc()
}

// RecordCheckoutBusy records a rejected checkout
func (m *Metrics) RecordCheckoutBusy() {
	m.SessionCheckoutBusy.Inc()
}

// RecordSessionInvalidated records a session marked expired
func (m *Metrics) RecordSessionInvalidated() {
	m.SessionsInvalidated.Inc()
}

// RecordKafkaMessage records a produced Kafka event
func (m *Metrics) RecordKafkaMessage() {
	m.KafkaMessagesProduced.Inc()
}

// RecordKafkaError records a Kafka produce error with error type
func (m *Metrics) RecordKafkaError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.KafkaProduceErrors.WithLabelValues(errorType).Inc()
}

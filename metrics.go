package mqpub

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "mqpub"

	statusSuccess   = "success"
	statusError     = "error"
	statusInvalid   = "invalid"
	statusPermanent = "permanent"
	statusExhausted = "exhausted"
)

// Metrics holds the publisher's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	published    *prometheus.CounterVec   // by topic, status
	batches      *prometheus.CounterVec   // by topic, reason
	batchSize    *prometheus.HistogramVec // by topic
	batchBytes   *prometheus.HistogramVec // by topic
	retries      *prometheus.CounterVec   // by topic, code
	sendDuration *prometheus.HistogramVec // by topic, status
	pending      *prometheus.GaugeVec     // by topic
}

// NewMetrics creates the publisher metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Messages resolved by topic and final status",
		}, []string{"topic", "status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "sealed_total",
			Help:      "Batches sealed by topic and the threshold that sealed them",
		}, []string{"topic", "reason"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "messages",
			Help:      "Number of messages per sealed batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"topic"}),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "bytes",
			Help:      "Payload and attribute bytes per sealed batch",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"topic"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "retries_total",
			Help:      "Batch retries by topic and failure class",
		}, []string{"topic", "code"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single SendBatch call",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"topic", "status"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pending_messages",
			Help:      "Messages published but not yet resolved",
		}, []string{"topic"}),
	}

	collectors := []prometheus.Collector{
		m.published,
		m.batches,
		m.batchSize,
		m.batchBytes,
		m.retries,
		m.sendDuration,
		m.pending,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) observePublished(topic, status string, n int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, status).Add(float64(n))
}

func (m *Metrics) observeBatch(topic string, reason sealReason, messages, bytes int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(topic, string(reason)).Inc()
	m.batchSize.WithLabelValues(topic).Observe(float64(messages))
	m.batchBytes.WithLabelValues(topic).Observe(float64(bytes))
}

func (m *Metrics) observeRetry(topic string, code codes.Code) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(topic, codeName(code)).Inc()
}

func (m *Metrics) observeSend(topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.sendDuration.WithLabelValues(topic, status).Observe(d.Seconds())
}

func (m *Metrics) setPending(topic string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(topic).Set(float64(n))
}

// statusOf maps a terminal publish error to its status label.
func statusOf(err error) string {
	var (
		permanent *PermanentError
		exhausted *RetryExhaustedError
	)
	switch {
	case errors.As(err, &exhausted):
		return statusExhausted
	case errors.As(err, &permanent):
		return statusPermanent
	}
	return statusError
}

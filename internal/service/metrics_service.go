package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// MetricsService owns the Prometheus registry and keeps a few counters in
// memory for the JSON snapshot endpoint.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	payments        *prometheus.CounterVec
	paymentAmount   *prometheus.CounterVec
	paymentReplays  prometheus.Counter
	paymentConflict prometheus.Counter
	unblockChanges  *prometheus.CounterVec
	blockedTotal    prometheus.Counter
	gatewayOrders   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	paymentCount         uint64
	replayCount          uint64
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_payments_recorded_total",
		Help: "Fee payments appended to a ledger",
	}, []string{"method"})

	paymentAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_payment_amount_total",
		Help: "Sum of recorded fee amounts",
	}, []string{"currency"})

	paymentReplays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_payment_replays_total",
		Help: "Payments answered from an existing idempotency key",
	})

	paymentConflict := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_payment_conflicts_total",
		Help: "Payments rejected because the ledger changed concurrently",
	})

	unblockChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_unblock_transitions_total",
		Help: "Unblock workflow transitions",
	}, []string{"action"})

	blockedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_enrollments_blocked_total",
		Help: "Enrollments blocked for unpaid fees",
	})

	gatewayOrders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_gateway_orders_total",
		Help: "Gateway orders by outcome",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		payments, paymentAmount, paymentReplays, paymentConflict, unblockChanges, blockedTotal, gatewayOrders, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		payments:        payments,
		paymentAmount:   paymentAmount,
		paymentReplays:  paymentReplays,
		paymentConflict: paymentConflict,
		unblockChanges:  unblockChanges,
		blockedTotal:    blockedTotal,
		gatewayOrders:   gatewayOrders,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache hit or miss and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordPayment counts a freshly appended payment.
func (m *MetricsService) RecordPayment(method models.PaymentMethod, currency string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(method)).Inc()
	m.paymentAmount.WithLabelValues(currency).Add(amount)
	atomic.AddUint64(&m.paymentCount, 1)
}

// RecordPaymentReplay counts a payment answered from its idempotency key.
func (m *MetricsService) RecordPaymentReplay() {
	if m == nil {
		return
	}
	m.paymentReplays.Inc()
	atomic.AddUint64(&m.replayCount, 1)
}

// RecordPaymentConflict counts a lost compare-and-swap.
func (m *MetricsService) RecordPaymentConflict() {
	if m == nil {
		return
	}
	m.paymentConflict.Inc()
}

// RecordUnblockTransition counts an unblock workflow action.
func (m *MetricsService) RecordUnblockTransition(action string) {
	if m == nil {
		return
	}
	m.unblockChanges.WithLabelValues(action).Inc()
}

// RecordUnblockExpired counts pending requests reverted by the expiry job.
func (m *MetricsService) RecordUnblockExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.unblockChanges.WithLabelValues("expire").Add(float64(n))
}

// RecordBlocked counts enrollments blocked by admins or the job.
func (m *MetricsService) RecordBlocked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blockedTotal.Add(float64(n))
}

// RecordGatewayOrder counts gateway orders by status.
func (m *MetricsService) RecordGatewayOrder(status models.OrderStatus) {
	if m == nil {
		return
	}
	m.gatewayOrders.WithLabelValues(string(status)).Inc()
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		PaymentsRecorded:         atomic.LoadUint64(&m.paymentCount),
		PaymentReplays:           atomic.LoadUint64(&m.replayCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

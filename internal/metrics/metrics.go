// Package metrics provides Prometheus instrumentation for the teller service.
package metrics

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "teller"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts ledger postings by type and status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total ledger transactions by type and status.",
		},
		[]string{"type", "status"},
	)

	// FraudAlertsTotal counts persisted fraud alerts.
	FraudAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_alerts_total",
			Help:      "Total fraud alerts raised by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// FraudBlocksTotal counts operations refused by the fraud detector.
	FraudBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_blocks_total",
			Help:      "Total transactions blocked by fraud detection.",
		},
		[]string{"type"},
	)

	// AuthFailuresTotal counts failed password and PIN verifications.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total failed credential checks by kind.",
		},
		[]string{"kind"},
	)

	// AccountLocksTotal counts lockouts by counter kind.
	AccountLocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_locks_total",
			Help:      "Total accounts locked by counter kind.",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks sessions currently known to the session manager.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of currently active sessions.",
	})

	// RiskWatchers tracks running per-session risk monitors.
	RiskWatchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "risk_watchers",
		Help:      "Number of running per-session risk monitors.",
	})

	// AuditWriteFailuresTotal counts audit entries the store refused.
	AuditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_write_failures_total",
		Help:      "Total audit entries that could not be persisted.",
	})

	// StoreOperationDuration observes persistence latency by operation.
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Persistence call duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"op"},
	)

	// StoreUnavailableTotal counts persistence calls that timed out or lost the datastore.
	StoreUnavailableTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_unavailable_total",
			Help:      "Total persistence calls that failed as unavailable.",
		},
		[]string{"op"},
	)

	DBTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_total_connections",
		Help: "Number of connections in the pool.",
	})
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Number of idle pool connections.",
	})
	DBAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_acquired_connections",
		Help: "Number of pool connections currently acquired.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		FraudAlertsTotal,
		FraudBlocksTotal,
		AuthFailuresTotal,
		AccountLocksTotal,
		ActiveSessions,
		RiskWatchers,
		AuditWriteFailuresTotal,
		StoreOperationDuration,
		StoreUnavailableTotal,
		DBTotalConns,
		DBIdleConns,
		DBAcquiredConns,
		GoroutineCount,
	)
}

// StartPoolStatsCollector samples pgxpool statistics and the goroutine count
// into gauges. Call in a goroutine; it exits when ctx is done.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool != nil {
				stat := pool.Stat()
				DBTotalConns.Set(float64(stat.TotalConns()))
				DBIdleConns.Set(float64(stat.IdleConns()))
				DBAcquiredConns.Set(float64(stat.AcquiredConns()))
			}
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency keyed by route pattern.
// Errors are rendered through the app's error handler first so the
// recorded status is the one the client sees.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		path := c.Route().Path
		HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Method(), path, statusBucket(c.Response().StatusCode())).Inc()
		return nil
	}
}

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "paylink"

var (
	BalanceRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_refresh_total",
			Help:      "Balance refresh calls by result (hit, joined, ok, error).",
		},
		[]string{"result"},
	)

	BalanceInvalidateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_invalidate_total",
			Help:      "Balance invalidations by trigger.",
		},
		[]string{"trigger"},
	)

	TransferAttemptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_attempt_total",
			Help:      "Transfer submission attempts by outcome.",
		},
		[]string{"outcome", "reason"},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall-clock time of a Transfer call by final outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms ~ 100s
		},
		[]string{"outcome"},
	)

	GasFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfer_gas_fallback_total",
		Help:      "Gas estimations that fell back to the default limit.",
	})

	MonitorTickTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_tick_total",
			Help:      "Payment monitor poll ticks by result (empty, match, error, inactive).",
		},
		[]string{"result"},
	)

	MonitorSessionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_session_total",
			Help:      "Finished monitoring sessions by how they ended.",
		},
		[]string{"end"},
	)

	ChainRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_rpc_duration_seconds",
			Help:      "Chain RPC latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "status"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Calls rejected by an open circuit breaker.",
		},
		[]string{"method", "state"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"method"},
	)

	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Requests rejected by the HTTP rate limiter.",
		},
		[]string{"route"},
	)
)

// MustRegister registers every collector of this package and the pool gauges
// on the default registry. Call it once from main.
func MustRegister() {
	prometheus.MustRegister(
		BalanceRefreshTotal,
		BalanceInvalidateTotal,
		TransferAttemptTotal,
		TransferDuration,
		GasFallbackTotal,
		MonitorTickTotal,
		MonitorSessionTotal,
		ChainRPCDuration,
		CBRejectTotal,
		CBState,
		RateLimitBlockTotal,
		DbPoolOpen, DbPoolIdle, DbPoolInuse, DbPoolWaitCount, DbPoolWaitDuration,
		RedisPoolOpen, RedisPoolIdle, RedisPoolInuse, RedisPoolHits, RedisPoolMisses,
	)
}

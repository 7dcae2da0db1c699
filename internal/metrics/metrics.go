package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnlockAttempts tracks unlock attempts by outcome
	UnlockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_unlock_attempts_total",
			Help: "The total number of wallet unlock attempts",
		},
		[]string{"outcome"}, // success, invalid_password, busy
	)

	// SessionState tracks whether a wallet is currently unlocked
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockbox_session_unlocked",
		Help: "Whether a wallet session is currently unlocked (1) or locked (0)",
	})

	// TransactionsSubmitted tracks transaction submissions by kind
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_transactions_submitted_total",
			Help: "The total number of transactions submitted to the network",
		},
		[]string{"kind"}, // send, approve, contract
	)

	// TransactionsFinalized tracks monitored transactions reaching a terminal state
	TransactionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_transactions_finalized_total",
			Help: "The total number of monitored transactions reaching a terminal state",
		},
		[]string{"status"}, // confirmed, reverted, replaced, timeout
	)

	// WatchersActive tracks the number of running transaction watchers
	WatchersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockbox_watchers_active",
		Help: "The number of transaction watchers currently polling",
	})

	// RPCRequests tracks chain RPC requests by method and status
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_rpc_requests_total",
			Help: "The total number of chain RPC requests",
		},
		[]string{"method", "status"}, // success, failed
	)

	// SwapOutcomes tracks swap executions by outcome
	SwapOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_swap_outcomes_total",
			Help: "The total number of swap executions by outcome",
		},
		[]string{"outcome"}, // success, slippage_exceeded, insufficient_liquidity, quote_expired, approval_failed, failed
	)

	// GasEstimateSeconds tracks time spent computing gas estimates
	GasEstimateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockbox_gas_estimate_seconds",
		Help:    "Time taken to compute a gas estimate in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// KeyDerivationSeconds tracks the cost of password key derivation
	KeyDerivationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockbox_key_derivation_seconds",
		Help:    "Time taken by the password key-derivation function in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6.4s
	})
)

// RecordUnlockAttempt records an unlock attempt with the given outcome
func RecordUnlockAttempt(outcome string) {
	UnlockAttempts.WithLabelValues(outcome).Inc()
}

// SetSessionUnlocked sets the session state gauge
func SetSessionUnlocked(unlocked bool) {
	value := 0.0
	if unlocked {
		value = 1.0
	}
	SessionState.Set(value)
}

// RecordSubmission records a transaction submission
func RecordSubmission(kind string) {
	TransactionsSubmitted.WithLabelValues(kind).Inc()
}

// RecordFinalized records a monitored transaction reaching a terminal state
func RecordFinalized(status string) {
	TransactionsFinalized.WithLabelValues(status).Inc()
}

// RecordRPCRequest records a chain RPC request
func RecordRPCRequest(method, status string) {
	RPCRequests.WithLabelValues(method, status).Inc()
}

// RecordSwapOutcome records a swap execution outcome
func RecordSwapOutcome(outcome string) {
	SwapOutcomes.WithLabelValues(outcome).Inc()
}

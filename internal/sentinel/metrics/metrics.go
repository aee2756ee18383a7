package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pool_sentinel"

var (
	RemoteCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_calls_total",
		Help:      "Remote RPC calls by chain and scan stage.",
	}, []string{"chain", "stage"})

	ComputeUnits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compute_units_total",
		Help:      "Billed compute units spent by chain.",
	}, []string{"chain"})

	BudgetExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "budget_exhausted_total",
		Help:      "Times the daily call budget was exceeded.",
	}, []string{"chain"})

	HeatScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heat_score",
		Help:      "Current market heat score by chain.",
	}, []string{"chain"})

	LatestBlock = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "latest_block",
		Help:      "Latest block published by the block bus.",
	}, []string{"chain"})

	ScansSkippedCold = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_skipped_cold_total",
		Help:      "Block notifications skipped because the chain was cold.",
	}, []string{"chain"})

	Candidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_total",
		Help:      "Shortlisted candidates pushed to scoring.",
	}, []string{"chain"})

	Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts emitted by tier and kind.",
	}, []string{"tier", "kind"})

	KillSwitch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "killswitch_total",
		Help:      "Kill-switch cancellations by primary reason.",
	}, []string{"tier", "reason"})

	Stalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_stalls_total",
		Help:      "CHAIN_STALLED notices raised by the health monitor.",
	}, []string{"chain"})

	PushResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_messages_total",
		Help:      "Kafka push results by topic and outcome.",
	}, []string{"topic", "result"})

	SignalsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_consumed_total",
		Help:      "External signals consumed by source and kind.",
	}, []string{"source", "kind"})
)

func init() {
	prometheus.MustRegister(
		RemoteCalls,
		ComputeUnits,
		BudgetExhausted,
		HeatScore,
		LatestBlock,
		ScansSkippedCold,
		Candidates,
		Alerts,
		KillSwitch,
		Stalls,
		PushResults,
		SignalsConsumed,
	)
}

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdapterRunsTotal 适配器采集次数（按交易所与结果）
	AdapterRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundarb_adapter_runs_total",
			Help: "Total number of exchange adapter collection runs",
		},
		[]string{"exchange", "result"},
	)

	// AdapterLatencySeconds 资金费率拉取耗时
	AdapterLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundarb_adapter_fetch_latency_seconds",
			Help:    "Latency of funding rate fetches per exchange",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"exchange"},
	)

	// RatesStoredTotal 写入的资金费率快照数
	RatesStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundarb_rates_stored_total",
			Help: "Total number of funding rate snapshots stored",
		},
		[]string{"exchange"},
	)

	// CollectionDurationSeconds 一次 CollectAll 的耗时
	CollectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundarb_collection_duration_seconds",
		Help:    "Duration of a full collection run across all adapters",
		Buckets: prometheus.DefBuckets,
	})

	// ScanDurationSeconds 机会扫描耗时
	ScanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundarb_scan_duration_seconds",
		Help:    "Duration of opportunity scans",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// OpportunitiesFoundTotal 扫描返回的机会数
	OpportunitiesFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundarb_opportunities_found_total",
		Help: "Total number of arbitrage opportunities returned by scans",
	})

	// CandidatesRejectedTotal 被过滤的候选（按原因）
	CandidatesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundarb_candidates_rejected_total",
			Help: "Total number of candidate directions rejected by filters",
		},
		[]string{"reason"},
	)

	// PositionsOpenedTotal 开仓数
	PositionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundarb_positions_opened_total",
		Help: "Total number of positions opened",
	})

	// PositionsClosedTotal 平仓数
	PositionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundarb_positions_closed_total",
		Help: "Total number of positions closed",
	})

	// FundingPaymentsTotal 资金费结算记录数
	FundingPaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundarb_funding_payments_total",
		Help: "Total number of funding payments recorded",
	})

	// RebalanceFlagsTotal 再平衡标记（按原因）
	RebalanceFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundarb_rebalance_flags_total",
			Help: "Total number of rebalance flags set",
		},
		[]string{"reason"},
	)
)

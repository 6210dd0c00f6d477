// Package telemetry exposes the Prometheus metrics the core updates while
// running: ingestion throughput, order lifecycle counts, risk denials and
// cycle latency. Scraping is wired by the caller (out of core scope).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	CandlesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpcore_candles_ingested_total",
			Help: "Candle rows inserted by the ingestion engine",
		},
		[]string{"symbol", "timeframe"},
	)

	IntegrityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpcore_integrity_events_total",
			Help: "Gap/duplicate/repair events emitted by the scanner",
		},
		[]string{"symbol", "timeframe", "event_type", "severity"},
	)

	OrdersPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpcore_orders_placed_total",
			Help: "Orders submitted to the exchange",
		},
		[]string{"symbol", "side"},
	)

	OrdersRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpcore_orders_rejected_total",
			Help: "Orders rejected before or during submission",
		},
		[]string{"symbol", "reason"},
	)

	RiskDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpcore_risk_denials_total",
			Help: "Risk chain denials by rule",
		},
		[]string{"symbol", "rule"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpcore_cycle_duration_seconds",
			Help:    "Wall time of one trading cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	CurrentRegime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpcore_regime",
			Help: "Current regime as a label-encoded gauge, value is always 1",
		},
		[]string{"symbol", "regime"},
	)
)

func init() {
	prometheus.MustRegister(
		CandlesIngestedTotal,
		IntegrityEventsTotal,
		OrdersPlacedTotal,
		OrdersRejectedTotal,
		RiskDenialsTotal,
		CycleDuration,
		CurrentRegime,
	)
}

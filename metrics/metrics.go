package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botc_sessions_total",
			Help: "Total number of completed trading sessions.",
		},
	)

	SessionsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botc_sessions_skipped_total",
			Help: "Sessions skipped (by reason: paused, balance).",
		},
		[]string{"reason"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botc_orders_submitted_total",
			Help: "Closing limit orders accepted by the exchange (by pair and side).",
		},
		[]string{"pair", "side"},
	)

	SellsVetoed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botc_sells_vetoed_total",
			Help: "Sell closes blocked by the inventory-allocation guard (by pair).",
		},
		[]string{"pair"},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "botc_positions_open",
			Help: "Current number of trailing positions per pair and state.",
		},
		[]string{"pair", "state"},
	)

	QuoteBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "botc_quote_balance",
			Help: "Last observed quote-asset balance.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		SessionsSkipped,
		OrdersSubmitted,
		SellsVetoed,
		PositionsOpen,
		QuoteBalance,
	)
}

// Package metrics registers the exchange core's prometheus counters,
// following pkg/metrics/metrics.go's shape (package-level
// prometheus.NewCounterVec/Histogram vars registered in init)
// generalized from HTTP/DB pool metrics to the matching, venue, and
// arbitrage domain this module actually implements.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrdersProcessed counts every order SymbolActor.Place returns a
// report for (including rejected and pending_trigger), by symbol and
// reported status.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_orders_processed_total",
		Help: "Total number of orders processed by the matching engine",
	},
	[]string{"symbol", "status"},
)

// FillsTotal counts individual trade fills by symbol.
var FillsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_fills_total",
		Help: "Total number of trade fills produced by the matching engine",
	},
	[]string{"symbol"},
)

// OrderLatency records how long SymbolActor.Place takes end to end,
// from validation through settlement.
var OrderLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "exchange_order_processing_latency_seconds",
		Help:    "Latency in seconds to process a single order placement",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"symbol"},
)

// VenueDegradedTotal counts every time the venue registry marks a venue
// degraded after exhausting its retry budget.
var VenueDegradedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_venue_degraded_total",
		Help: "Total number of times a venue was marked degraded",
	},
	[]string{"venue"},
)

// ArbitrageOpportunitiesTotal counts opportunities the arbitrage
// detector emits, by symbol.
var ArbitrageOpportunitiesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_arbitrage_opportunities_total",
		Help: "Total number of arbitrage opportunities emitted",
	},
	[]string{"symbol"},
)

// LiquidationsTotal counts positions the risk scanner forced closed.
var LiquidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_liquidations_total",
		Help: "Total number of positions force-closed by the liquidation scanner",
	},
	[]string{"symbol"},
)

func init() {
	prometheus.MustRegister(
		OrdersProcessed,
		FillsTotal,
		OrderLatency,
		VenueDegradedTotal,
		ArbitrageOpportunitiesTotal,
		LiquidationsTotal,
	)
}

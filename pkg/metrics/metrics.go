package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ListingsCreated counts listings registered by the platform
var ListingsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "barrelex_listings_created_total",
		Help: "Total number of listings created",
	},
)

// BottlesSold counts units sold per listing
var BottlesSold = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barrelex_bottles_sold_total",
		Help: "Total number of units sold by the platform",
	},
	[]string{"listing"},
)

// PurchasesProcessed counts settled purchases by outcome (ok/failed)
var PurchasesProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barrelex_purchases_processed_total",
		Help: "Total number of purchase transactions processed",
	},
	[]string{"outcome"},
)

// PurchaseLatency records latency distribution for purchase settlement
var PurchaseLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "barrelex_purchase_latency_seconds",
		Help:    "Latency in seconds to settle individual purchases",
		Buckets: prometheus.DefBuckets,
	},
)

// RedemptionsProcessed counts buy-back redemptions by outcome
var RedemptionsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barrelex_redemptions_processed_total",
		Help: "Total number of redemption transactions processed",
	},
	[]string{"outcome"},
)

// FeesDeposited tracks settlement-currency fees pushed into the yield reserve
var FeesDeposited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "barrelex_fees_deposited_units_total",
		Help: "Total settlement units deposited into the yield reserve as fees",
	},
)

func init() {
	prometheus.MustRegister(ListingsCreated, BottlesSold, PurchasesProcessed, PurchaseLatency)
	prometheus.MustRegister(RedemptionsProcessed, FeesDeposited)
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketplaceMetrics struct {
	listingsCreated  prometheus.Counter
	listingsExecuted prometheus.Counter
	listingsDelisted prometheus.Counter
	volumeLamports   prometheus.Counter
	feeRevenue       prometheus.Counter
	opFailures       *prometheus.CounterVec
}

var (
	marketplaceOnce     sync.Once
	marketplaceRegistry *MarketplaceMetrics
)

func Marketplace() *MarketplaceMetrics {
	marketplaceOnce.Do(func() {
		marketplaceRegistry = &MarketplaceMetrics{
			listingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_listings_created_total",
				Help: "Count of listings successfully created.",
			}),
			listingsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_listings_executed_total",
				Help: "Count of listings completed by a buyer.",
			}),
			listingsDelisted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_listings_delisted_total",
				Help: "Count of listings cancelled by their lister.",
			}),
			volumeLamports: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_volume_lamports_total",
				Help: "Cumulative sale price settled through the marketplace.",
			}),
			feeRevenue: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_fee_revenue_lamports_total",
				Help: "Cumulative net protocol fee revenue.",
			}),
			opFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_operation_failures_total",
				Help: "Count of rejected marketplace operations by name.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			marketplaceRegistry.listingsCreated,
			marketplaceRegistry.listingsExecuted,
			marketplaceRegistry.listingsDelisted,
			marketplaceRegistry.volumeLamports,
			marketplaceRegistry.feeRevenue,
			marketplaceRegistry.opFailures,
		)
	})
	return marketplaceRegistry
}

// RecordList counts a successful List operation.
func (m *MarketplaceMetrics) RecordList() {
	m.listingsCreated.Inc()
}

// RecordExecute counts a completed purchase, its settled price and the net
// taker-side revenue.
func (m *MarketplaceMetrics) RecordExecute(priceLamports, netFeeLamports uint64) {
	m.listingsExecuted.Inc()
	m.volumeLamports.Add(float64(priceLamports))
	m.feeRevenue.Add(float64(netFeeLamports))
}

// RecordDelist counts a cancelled listing.
func (m *MarketplaceMetrics) RecordDelist() {
	m.listingsDelisted.Inc()
}

// RecordFailure counts a rejected operation by name.
func (m *MarketplaceMetrics) RecordFailure(op string) {
	m.opFailures.WithLabelValues(op).Inc()
}

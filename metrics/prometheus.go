package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter adapts a Collector's Snapshot to a prometheus.Collector,
// so a Client's metrics can be registered into an existing
// prometheus.Registry alongside the host application's own metrics.
type PrometheusExporter struct {
	collector *Collector

	totalRequests      *prometheus.Desc
	successfulRequests *prometheus.Desc
	failedRequests     *prometheus.Desc
	paymentsMade       *prometheus.Desc
	cacheHits          *prometheus.Desc
	cacheMisses        *prometheus.Desc
	settlementWarnings *prometheus.Desc
	averageDuration    *prometheus.Desc
	amountByNetwork    *prometheus.Desc
	uptime             *prometheus.Desc
}

// NewPrometheusExporter wraps collector for Prometheus registration.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector:          collector,
		totalRequests:      prometheus.NewDesc("x402_requests_total", "Total requests dispatched through the pipeline.", nil, nil),
		successfulRequests: prometheus.NewDesc("x402_requests_successful_total", "Requests that completed without error.", nil, nil),
		failedRequests:     prometheus.NewDesc("x402_requests_failed_total", "Requests that completed with an error.", nil, nil),
		paymentsMade:       prometheus.NewDesc("x402_payments_total", "Payments successfully settled.", nil, nil),
		cacheHits:          prometheus.NewDesc("x402_cache_hits_total", "Response cache hits.", nil, nil),
		cacheMisses:        prometheus.NewDesc("x402_cache_misses_total", "Response cache misses.", nil, nil),
		settlementWarnings: prometheus.NewDesc("x402_settlement_decode_warnings_total", "Settlement headers that failed to decode or reported failure on a 2xx response.", nil, nil),
		averageDuration:    prometheus.NewDesc("x402_request_duration_seconds_average", "Running average request duration.", nil, nil),
		amountByNetwork:    prometheus.NewDesc("x402_payment_amount_base_units_total", "Cumulative amount paid, in base units, per network.", []string{"network"}, nil),
		uptime:             prometheus.NewDesc("x402_uptime_seconds", "Seconds since the collector was created.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.totalRequests
	ch <- e.successfulRequests
	ch <- e.failedRequests
	ch <- e.paymentsMade
	ch <- e.cacheHits
	ch <- e.cacheMisses
	ch <- e.settlementWarnings
	ch <- e.averageDuration
	ch <- e.amountByNetwork
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	ch <- prometheus.MustNewConstMetric(e.totalRequests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(e.successfulRequests, prometheus.CounterValue, float64(snap.SuccessfulRequests))
	ch <- prometheus.MustNewConstMetric(e.failedRequests, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(e.paymentsMade, prometheus.CounterValue, float64(snap.PaymentsMade))
	ch <- prometheus.MustNewConstMetric(e.cacheHits, prometheus.CounterValue, float64(snap.CacheHits))
	ch <- prometheus.MustNewConstMetric(e.cacheMisses, prometheus.CounterValue, float64(snap.CacheMisses))
	ch <- prometheus.MustNewConstMetric(e.settlementWarnings, prometheus.CounterValue, float64(snap.SettlementWarnings))
	ch <- prometheus.MustNewConstMetric(e.averageDuration, prometheus.GaugeValue, snap.AverageDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())

	for network, amount := range snap.AmountByNetwork {
		f, _ := new(big.Float).SetInt(amount).Float64()
		ch <- prometheus.MustNewConstMetric(e.amountByNetwork, prometheus.CounterValue, f, network)
	}
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

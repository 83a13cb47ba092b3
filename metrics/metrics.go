// Package metrics provides the client's lock-free counters, histograms, and
// gauges, with an optional Prometheus exporter adapter.
package metrics

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates request, payment, and cache counters for a single
// Client instance. All mutation methods are safe for concurrent use; no
// user call holds a lock across a suspension point.
type Collector struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	paymentsMade       atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	settlementWarnings atomic.Int64

	mu              sync.Mutex
	startTime       time.Time
	durationCount   int64
	durationMean    float64 // Welford's running mean, nanoseconds
	durationM2      float64 // Welford's running sum of squared deviations
	amountByNetwork map[string]*big.Int
}

// New builds a Collector with its clock started.
func New() *Collector {
	return &Collector{
		startTime:       time.Now(),
		amountByNetwork: make(map[string]*big.Int),
	}
}

// RecordRequest updates request counters and the running-average duration
// using Welford's incremental algorithm, avoiding both the unbounded-memory
// cost of storing every sample and the precision loss of a naive running sum.
func (c *Collector) RecordRequest(success bool, duration time.Duration) {
	c.totalRequests.Add(1)
	if success {
		c.successfulRequests.Add(1)
	} else {
		c.failedRequests.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.durationCount++
	delta := float64(duration) - c.durationMean
	c.durationMean += delta / float64(c.durationCount)
	delta2 := float64(duration) - c.durationMean
	c.durationM2 += delta * delta2
}

// RecordPayment records a successful payment of amount base units on network.
func (c *Collector) RecordPayment(network string, amount *big.Int) {
	c.paymentsMade.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	total, ok := c.amountByNetwork[network]
	if !ok {
		total = new(big.Int)
		c.amountByNetwork[network] = total
	}
	total.Add(total, amount)
}

// RecordCacheHit increments the cache-hit counter.
func (c *Collector) RecordCacheHit() { c.cacheHits.Add(1) }

// RecordCacheMiss increments the cache-miss counter.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Add(1) }

// RecordSettlementWarning increments the counter for settlement receipts
// that did not fail the underlying call but produced no payment record: a
// header that failed to decode, or a 2xx response whose settlement reports
// failure.
func (c *Collector) RecordSettlementWarning() { c.settlementWarnings.Add(1) }

// Snapshot is a point-in-time read of every gauge and counter.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	PaymentsMade       int64
	CacheHits          int64
	CacheMisses        int64
	SettlementWarnings int64
	AverageDuration    time.Duration
	AmountByNetwork    map[string]*big.Int
	Uptime             time.Duration
}

// Snapshot returns the current state of every metric.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	amounts := make(map[string]*big.Int, len(c.amountByNetwork))
	for network, total := range c.amountByNetwork {
		amounts[network] = new(big.Int).Set(total)
	}

	var avg time.Duration
	if c.durationCount > 0 {
		avg = time.Duration(c.durationMean)
	}

	return Snapshot{
		TotalRequests:      c.totalRequests.Load(),
		SuccessfulRequests: c.successfulRequests.Load(),
		FailedRequests:     c.failedRequests.Load(),
		PaymentsMade:       c.paymentsMade.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		SettlementWarnings: c.settlementWarnings.Load(),
		AverageDuration:    avg,
		AmountByNetwork:    amounts,
		Uptime:             time.Since(c.startTime),
	}
}

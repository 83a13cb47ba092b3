// Package client implements the Client facade: construction from Config,
// Request/Get/Post, Batch with bounded concurrency, graceful Close with a
// drain deadline, and a composed HealthCheck.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	x402 "github.com/driftpay/x402"
	"github.com/driftpay/x402/cache"
	"github.com/driftpay/x402/metrics"
	"github.com/driftpay/x402/middleware"
	"github.com/driftpay/x402/payment"
	"github.com/driftpay/x402/pipeline"
	"github.com/driftpay/x402/signers/evm"
)

// Client is the public facade wrapping a RequestPipeline with lifecycle
// management, batching, and health reporting.
type Client struct {
	cfg      x402.Config
	pipeline *pipeline.Pipeline

	mu     sync.Mutex
	closed bool
}

// New builds a Client from opts, registering a default EVM signer derived
// from PrivateKey when no explicit chain was supplied via WithChain.
func New(opts ...x402.Option) (*Client, error) {
	cfg, err := x402.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	registry := x402.NewChainRegistry()
	for _, spec := range cfg.Chains {
		registry.Register(spec.NetworkID, spec.Signer, spec.Chain)
	}
	if len(cfg.Chains) == 0 && cfg.PrivateKey != "" {
		signer, err := evm.NewSigner(
			evm.WithPrivateKey(cfg.PrivateKey),
			evm.WithNetwork(x402.BaseMainnet.NetworkID),
			evm.WithToken(x402.BaseMainnet.USDCAddress, "USDC", x402.BaseMainnet.Decimals),
		)
		if err != nil {
			return nil, fmt.Errorf("x402: building default signer: %w", err)
		}
		registry.Register(x402.BaseMainnet.NetworkID, signer, nil)
	}

	chain := middleware.New()
	respCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.DefaultTTL)
	collector := metrics.New()
	mgr := payment.New(registry, x402.NewDefaultPaymentSelector(), payment.Config{
		PerRequestCap:  cfg.MaxAmountPerRequest,
		GlobalCap:      cfg.GlobalSpendCap,
		WindowDuration: cfg.WindowSeconds,
		HistoryCap:     256,
	})

	p := &pipeline.Pipeline{
		Transport:          NewHTTPTransport(cfg.Timeout),
		Chain:              chain,
		Cache:              respCache,
		Payment:            mgr,
		Metrics:            collector,
		Registry:           registry,
		AutoPay:            cfg.AutoPay,
		ClockSkewTolerance: cfg.ClockSkewTolerance,
		CacheEnabled:       cfg.Cache.Enabled,
		CacheDefaultTTL:    cfg.Cache.DefaultTTL,
	}

	return &Client{cfg: cfg, pipeline: p}, nil
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Config returns the configuration the Client was built with.
func (c *Client) Config() x402.Config {
	return c.cfg
}

// Use registers a middleware interceptor, run in registration order on the
// request path and LIFO on the response path.
func (c *Client) Use(i middleware.Interceptor) {
	c.pipeline.Chain.Use(i)
}

// Request executes req through the full pipeline: cache probe, middleware
// traversal, 402 challenge handling, and cache insert.
func (c *Client) Request(ctx context.Context, req *x402.Request) (*x402.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.pipeline.Execute(ctx, c, req)
}

// Get is a convenience wrapper building a GET Request for rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*x402.Response, error) {
	req, err := x402.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return c.Request(ctx, req)
}

// Post is a convenience wrapper building a POST Request for rawURL with body.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte) (*x402.Response, error) {
	req, err := x402.NewRequest(http.MethodPost, rawURL)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return c.Request(ctx, req)
}

// BatchResult pairs one batched URL with its outcome. Errors in one entry
// never prevent the others in the same Batch call from completing.
type BatchResult struct {
	URL      string
	Response *x402.Response
	Err      error
}

// Batch runs a GET against every url in urls, at most maxConcurrent at a
// time, preserving input order in the returned slice.
func (c *Client) Batch(ctx context.Context, urls []string, maxConcurrent int) []BatchResult {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	results := make([]BatchResult, len(urls))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := c.Get(ctx, u)
			results[i] = BatchResult{URL: u, Response: resp, Err: err}
		}(i, u)
	}
	wg.Wait()
	return results
}

// Close marks the client closed, refusing new admissions, and waits up to
// ShutdownTimeout for in-flight requests to drain before closing the
// payment manager. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.ShutdownTimeout)
	for time.Now().Before(deadline) {
		if c.pipeline.ActiveRequests() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return c.pipeline.Payment.Close()
}

// HealthStatus is the coarse outcome of a HealthCheck.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// SubsystemHealth is one component's contribution to a HealthReport.
type SubsystemHealth struct {
	Status HealthStatus
	Detail string
}

// HealthReport composes the client's open/closed state, per-chain provider
// status, and cache occupancy into one overall status plus a per-subsystem
// breakdown, alongside a snapshot of the running metrics. The transport is
// not probed.
type HealthReport struct {
	Status     HealthStatus
	Subsystems map[string]SubsystemHealth
	Metrics    metrics.Snapshot
	CheckedAt  string
}

// HealthCheck probes every subsystem and composes the overall status: any
// unhealthy subsystem makes the whole report unhealthy; any degraded one
// (with no unhealthy) makes it degraded.
func (c *Client) HealthCheck(ctx context.Context) HealthReport {
	subsystems := make(map[string]SubsystemHealth)

	if c.IsClosed() {
		subsystems["client"] = SubsystemHealth{Status: HealthStatusUnhealthy, Detail: "client is closed"}
	} else {
		subsystems["client"] = SubsystemHealth{Status: HealthStatusHealthy}
	}

	for _, network := range c.pipeline.Registry.Networks() {
		provider, ok := c.pipeline.Registry.ChainProviderFor(network)
		if !ok {
			subsystems["chain:"+network] = SubsystemHealth{Status: HealthStatusHealthy, Detail: "no connectivity probe configured"}
			continue
		}
		if err := provider.Status(ctx); err != nil {
			subsystems["chain:"+network] = SubsystemHealth{Status: HealthStatusUnhealthy, Detail: err.Error()}
			continue
		}
		subsystems["chain:"+network] = SubsystemHealth{Status: HealthStatusHealthy}
	}

	if c.pipeline.Cache != nil {
		if c.pipeline.Cache.Len() >= c.pipeline.Cache.Cap() {
			subsystems["cache"] = SubsystemHealth{Status: HealthStatusDegraded, Detail: "cache at capacity"}
		} else {
			subsystems["cache"] = SubsystemHealth{Status: HealthStatusHealthy}
		}
	}

	overall := HealthStatusHealthy
	for _, s := range subsystems {
		switch s.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall != HealthStatusUnhealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return HealthReport{
		Status:     overall,
		Subsystems: subsystems,
		Metrics:    c.pipeline.Metrics.Snapshot(),
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Package pipeline implements the RequestPipeline: the per-call orchestrator
// that admits a request, probes the cache, traverses middleware, detects and
// resolves a 402 challenge, retries once, captures settlement, and inserts
// the response into the cache.
package pipeline

import (
	"context"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	x402 "github.com/driftpay/x402"
	"github.com/driftpay/x402/cache"
	"github.com/driftpay/x402/metrics"
	"github.com/driftpay/x402/middleware"
	"github.com/driftpay/x402/payment"
)

// idempotentMethods are eligible for cache probe/insert.
var idempotentMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true}

// Pipeline wires together the chain, cache, payment manager, metrics, and
// transport into the single execute() operation the Client facade calls.
type Pipeline struct {
	Transport x402.Transport
	Chain     *middleware.Chain
	Cache     *cache.Cache
	Payment   *payment.Manager
	Metrics   *metrics.Collector
	Registry  *x402.ChainRegistry

	AutoPay            bool
	ClockSkewTolerance time.Duration
	CacheEnabled       bool
	CacheDefaultTTL    time.Duration
	AuthScopeSalt      string

	activeMu    sync.Mutex
	activeCount int
}

// acquire increments the active-request counter and returns a release func
// to be deferred on every exit path, guaranteeing the counter returns to its
// prior value regardless of how execute() exits (success, error, panic
// recovery is the caller's concern — this file never recovers from one).
func (p *Pipeline) acquire() func() {
	p.activeMu.Lock()
	p.activeCount++
	p.activeMu.Unlock()
	return func() {
		p.activeMu.Lock()
		p.activeCount--
		p.activeMu.Unlock()
	}
}

// ActiveRequests reports the number of in-flight execute() calls.
func (p *Pipeline) ActiveRequests() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.activeCount
}

// closedFlag is satisfied by the Client facade; execute() checks it at
// admission so a closed client fails fast without touching any subsystem.
type closedFlag interface {
	IsClosed() bool
}

// Execute runs the full pipeline for req. Failures the pipeline itself
// detects are returned as *x402.Error values carrying the request URL and
// the call's correlation id; an error returned by a middleware is passed
// through unchanged.
func (p *Pipeline) Execute(ctx context.Context, closed closedFlag, req *x402.Request) (*x402.Response, error) {
	correlationID := uuid.NewString()
	reqURL := req.URL.String()

	if closed.IsClosed() {
		return nil, x402.NewClientClosedError(reqURL, correlationID)
	}

	release := p.acquire()
	defer release()

	start := time.Now()
	resp, err := p.execute(ctx, req, correlationID, start)
	p.Metrics.RecordRequest(err == nil, time.Since(start))
	return resp, err
}

func (p *Pipeline) execute(ctx context.Context, req *x402.Request, correlationID string, started time.Time) (*x402.Response, error) {
	if !(p.CacheEnabled && idempotentMethods[req.Method]) {
		return p.traverseAndPay(ctx, req, correlationID, started)
	}

	fingerprint := cache.Fingerprint(req.Method, canonicalURL(req.URL), req.Header, nil)
	authScope := cache.AuthScope(p.AuthScopeSalt, req.Header, nil)

	// AutoPay makes this request potentially payment-bearing: a shared
	// single-flight result would let concurrent callers read content one of
	// them alone paid for, so each caller fetches independently. With
	// AutoPay off, no request on this pipeline ever pays, so waiting on a
	// shared in-flight fetch is safe and avoids redundant upstream calls.
	policy := cache.FlightWait
	if p.AutoPay {
		policy = cache.FlightIndependent
	}

	var fetched *x402.Response
	entry, hit, err := p.Cache.Fetch(ctx, fingerprint, authScope, policy, func(fctx context.Context) (*cache.Entry, error) {
		resp, ferr := p.traverseAndPay(fctx, req, correlationID, started)
		if ferr != nil {
			return nil, ferr
		}
		fetched = resp
		return entryFromResponse(resp, p.CacheDefaultTTL), nil
	})
	if hit {
		p.Metrics.RecordCacheHit()
		return responseFromEntry(entry), nil
	}
	p.Metrics.RecordCacheMiss()

	if fetched != nil {
		// This goroutine actually ran the fill (single-flight leader or
		// FlightIndependent), so the live response — with its payment
		// outcome fields — is available; prefer it over the reconstruction
		// from Entry, which carries none of those fields.
		return fetched, nil
	}
	if err != nil {
		return nil, err
	}
	return responseFromEntry(entry), nil
}

// traverseAndPay runs the middleware chain, detects a 402 challenge, pays
// if configured to, retries exactly once, and captures settlement.
func (p *Pipeline) traverseAndPay(ctx context.Context, req *x402.Request, correlationID string, started time.Time) (*x402.Response, error) {
	dispatched := false
	terminal := func(ctx context.Context, r *x402.Request) (*x402.Response, error) {
		dispatched = true
		resp, err := p.Transport.Do(ctx, r)
		if err != nil {
			return nil, x402.NewNetworkError(r.URL.String(), correlationID, err)
		}
		return resp, nil
	}

	resp, err := p.Chain.Traverse(ctx, req, terminal)
	if err != nil {
		return nil, err
	}

	// A response from a middleware that short-circuited the chain never
	// reached the transport and is not treated as a challenge.
	if !dispatched || resp.Status != http.StatusPaymentRequired {
		return resp, nil
	}

	reqURL := req.URL.String()

	if len(resp.Body) == 0 {
		return nil, x402.NewParseError(reqURL, correlationID, x402.ErrMalformedHeader)
	}

	parsed, err := payment.ParseRequirements(resp.Body)
	if err != nil {
		if xerr, ok := err.(*x402.Error); ok {
			xerr.URL, xerr.CorrelationID = reqURL, correlationID
		}
		return nil, err
	}

	if !p.AutoPay {
		return nil, x402.NewPaymentRequiredError(reqURL, correlationID, parsed.Accepts)
	}

	requirement, selectErr := p.selectRequirement(req, parsed.Accepts)
	if selectErr != nil {
		if xerr, ok := selectErr.(*x402.Error); ok {
			xerr.CorrelationID = correlationID
		}
		return nil, selectErr
	}

	headerValue, commit, rollback, err := p.Payment.CreateAssertion(requirement)
	if err != nil {
		return nil, convertPaymentError(err, reqURL, correlationID)
	}

	select {
	case <-ctx.Done():
		rollback()
		return nil, x402.NewTimeoutError(reqURL, correlationID, time.Since(started))
	default:
	}

	paidReq := req.Clone()
	paidReq.Header.Set("X-PAYMENT", headerValue)

	// The moment the signed request crosses into the transport is the
	// commit point: cancellations or failures after this are not rolled
	// back, since the counterparty may already have extracted value from
	// the signature.
	commit()
	paidResp, err := p.Chain.Traverse(ctx, paidReq, terminal)
	if err != nil {
		return nil, err
	}

	if paidResp.Status == http.StatusPaymentRequired {
		// The server has definitively rejected this payment, not merely
		// failed to confirm it: free the reservation, unlike the
		// cancel-after-dispatch case above where the counterparty may
		// already have extracted value from the signature.
		rollback()
		return nil, x402.NewPaymentRejectedError(reqURL, correlationID, settlementRejectionReason(paidResp.Body))
	}

	p.captureSettlement(paidResp, requirement, started)
	return paidResp, nil
}

func (p *Pipeline) captureSettlement(resp *x402.Response, requirement *x402.PaymentRequirement, started time.Time) {
	header := resp.Header.Get("X-PAYMENT-RESPONSE")
	if header == "" {
		return
	}

	settlement, err := payment.ProcessSettlement(header)
	if err != nil {
		p.Metrics.RecordSettlementWarning()
		return
	}

	if resp.Status < 200 || resp.Status >= 300 {
		// Settlement on a non-2xx response is treated as a failed payment;
		// no PaymentRecord is written.
		return
	}

	if !settlement.Success {
		// Content was delivered but the counterparty reports failure: surface
		// the content, skip the record, emit a warning.
		p.Metrics.RecordSettlementWarning()
		return
	}

	amount, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok {
		amount = nil
	}

	resp.PaymentMade = true
	resp.PaymentAmount = requirement.MaxAmountRequired
	resp.Network = settlement.Network
	resp.TransactionHash = settlement.Transaction
	resp.Payer = settlement.Payer

	if amount != nil {
		p.Metrics.RecordPayment(settlement.Network, amount)
	}
	p.Payment.RecordPayment(payment.Record{
		Timestamp:       time.Now(),
		Network:         settlement.Network,
		Payee:           requirement.PayTo,
		Amount:          amount,
		TransactionHash: settlement.Transaction,
		Resource:        requirement.Resource,
		Latency:         time.Since(started),
	})
}

// selectRequirement picks the first requirement for which the resource
// origin matches the request, the validity window holds (within clock skew
// tolerance), the network is registered, a signer can satisfy it, and the
// amount fits under the configured budget caps — deterministic tie-break by
// array order per spec §4.1. A requirement that would just fail
// CreateAssertion's own cap check is skipped here so an earlier, too-large
// option in the same challenge doesn't shadow a later, affordable one. When
// every otherwise usable requirement is over the caps, the result is a
// BudgetExceeded error rather than a Parse error.
func (p *Pipeline) selectRequirement(req *x402.Request, accepts []x402.PaymentRequirement) (*x402.PaymentRequirement, error) {
	reqURL := req.URL.String()

	if len(accepts) == 0 {
		return nil, x402.NewParseError(reqURL, "", x402.ErrInvalidRequirements)
	}

	overBudget := false
	for i := range accepts {
		r := &accepts[i]

		resourceURL, err := url.Parse(r.Resource)
		if err != nil || resourceURL.Scheme != req.URL.Scheme || resourceURL.Host != req.URL.Host {
			continue
		}

		now := time.Now().Unix()
		tolerance := int64(p.ClockSkewTolerance.Seconds())
		if r.ValidBefore != 0 && now-tolerance > r.ValidBefore {
			continue
		}
		if r.ValidAfter != 0 && now+tolerance < r.ValidAfter {
			continue
		}

		if !p.Registry.IsRegistered(r.Network) {
			continue
		}

		signer, _ := p.Registry.Signer(r.Network)
		if signer == nil || !signer.CanSign(r) {
			continue
		}

		amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
		if !ok {
			continue
		}
		if !p.Payment.WouldFit(amount) {
			overBudget = true
			continue
		}

		return r, nil
	}

	if overBudget {
		return nil, x402.NewBudgetExceededError(reqURL, "", x402.ErrAmountExceeded)
	}
	return nil, x402.NewParseError(reqURL, "", x402.ErrInvalidRequirements)
}

func convertPaymentError(err error, url, correlationID string) error {
	if pe, ok := err.(*x402.PaymentError); ok {
		switch pe.Code {
		case x402.ErrCodeBudgetExceeded:
			return x402.NewBudgetExceededError(url, correlationID, pe)
		case x402.ErrCodeSigningFailed:
			return x402.NewSigningError(url, correlationID, pe)
		case x402.ErrCodeUnsupportedScheme:
			return x402.NewUnsupportedSchemeError(url, correlationID, pe.Details["scheme"])
		case x402.ErrCodeUnsupportedNetwork:
			return x402.NewUnsupportedNetworkError(url, correlationID, pe.Details["network"])
		default:
			return x402.NewParseError(url, correlationID, pe)
		}
	}
	if err == x402.ErrClientClosed {
		return x402.NewClientClosedError(url, correlationID)
	}
	return x402.NewInternalError(url, correlationID, err)
}

func settlementRejectionReason(body []byte) string {
	resp, err := payment.ParseRequirements(body)
	if err != nil || resp.Error == "" {
		return ""
	}
	return resp.Error
}

func canonicalURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}

func isCacheableStatus(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	switch status {
	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func entryFromResponse(resp *x402.Response, defaultTTL time.Duration) *cache.Entry {
	if !isCacheableStatus(resp.Status) {
		// TTL<0 tells Cache.Put not to persist this entry: the caller (and
		// any single-flight waiters) still get it back, it just never
		// serves a later lookup.
		return &cache.Entry{Status: resp.Status, Header: resp.Header, Body: resp.Body, TTL: -1}
	}

	ttl := defaultTTL
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		if maxAge, ok := parseMaxAge(cc); ok {
			d := time.Duration(maxAge) * time.Second
			if d < ttl {
				ttl = d
			}
		}
	}
	return &cache.Entry{
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
		TTL:    ttl,
	}
}

func responseFromEntry(entry *cache.Entry) *x402.Response {
	return &x402.Response{
		Status: entry.Status,
		Header: entry.Header,
		Body:   entry.Body,
	}
}

func parseMaxAge(cacheControl string) (int, bool) {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "max-age=") {
			n, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Package payment implements the PaymentManager: parsing challenge
// requirements, constructing and encoding signed payment assertions against
// a budget, decoding settlement receipts, and keeping the payment history
// ring and derived statistics.
package payment

import (
	"encoding/json"
	"math/big"
	"sync"
	"time"

	x402 "github.com/driftpay/x402"
	"github.com/driftpay/x402/encoding"
	"github.com/driftpay/x402/validation"
)

// Record is one completed payment, appended to the bounded history ring.
type Record struct {
	Timestamp       time.Time
	Network         string
	Payee           string
	Amount          *big.Int
	TransactionHash string
	Resource        string
	Latency         time.Duration
}

// Statistics is a read-only projection over the history ring.
type Statistics struct {
	Count          int
	TotalByNetwork map[string]*big.Int
	AverageLatency time.Duration
}

// Manager is the PaymentManager: budget enforcement, signing orchestration,
// and the payment history ring.
type Manager struct {
	registry *x402.ChainRegistry
	selector x402.PaymentSelector

	perRequestCap  *big.Int
	globalCap      *big.Int
	windowDuration time.Duration

	mu           sync.Mutex
	closed       bool
	spent        []spendSample // rolling window of committed spend
	history      []Record
	historyCap   int
	historyNext  int
	historyFull  bool
	totalLatency time.Duration
}

type spendSample struct {
	at     time.Time
	amount *big.Int
}

// Config configures a Manager's budget enforcement and history retention.
type Config struct {
	PerRequestCap  *big.Int
	GlobalCap      *big.Int
	WindowDuration time.Duration
	HistoryCap     int
}

// New builds a Manager bound to registry for signer lookup, using selector
// to choose among multiple acceptable payment requirements.
func New(registry *x402.ChainRegistry, selector x402.PaymentSelector, cfg Config) *Manager {
	historyCap := cfg.HistoryCap
	if historyCap <= 0 {
		historyCap = 256
	}
	return &Manager{
		registry:       registry,
		selector:       selector,
		perRequestCap:  cfg.PerRequestCap,
		globalCap:      cfg.GlobalCap,
		windowDuration: cfg.WindowDuration,
		historyCap:     historyCap,
		history:        make([]Record, historyCap),
	}
}

// ParseRequirements parses a challenge response body, tolerant of unknown
// extra fields, strict on required fields and numeric ranges.
func ParseRequirements(body []byte) (*x402.PaymentRequirementsResponse, error) {
	if len(body) == 0 {
		return nil, x402.NewParseError("", "", x402.ErrMalformedHeader)
	}
	var resp x402.PaymentRequirementsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, x402.NewParseError("", "", err)
	}
	for i := range resp.Accepts {
		if err := resp.Accepts[i].Validate(); err != nil {
			return nil, x402.NewParseError("", "", err)
		}
		if err := validation.ValidatePaymentRequirement(resp.Accepts[i]); err != nil {
			return nil, x402.NewParseError("", "", err)
		}
	}
	return &resp, nil
}

// CreateAssertion selects a signer for req, checks and reserves budget,
// signs, and returns the base64(JSON) value ready for the X-PAYMENT header.
// The reservation is returned so the caller (the pipeline) can later call
// Commit or Rollback depending on whether the transport was entered.
func (m *Manager) CreateAssertion(req *x402.PaymentRequirement) (headerValue string, commit func(), rollback func(), err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", nil, nil, x402.ErrClientClosed
	}
	m.mu.Unlock()

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return "", nil, nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "unparseable maxAmountRequired", x402.ErrInvalidRequirements)
	}

	if m.perRequestCap != nil && amount.Cmp(m.perRequestCap) > 0 {
		return "", nil, nil, x402.NewPaymentError(x402.ErrCodeBudgetExceeded, "amount exceeds per-request cap", x402.ErrAmountExceeded)
	}

	m.mu.Lock()
	if m.globalCap != nil {
		spent := m.windowedSpend(time.Now())
		if new(big.Int).Add(spent, amount).Cmp(m.globalCap) > 0 {
			m.mu.Unlock()
			return "", nil, nil, x402.NewPaymentError(x402.ErrCodeBudgetExceeded, "amount exceeds global spend cap", x402.ErrAmountExceeded)
		}
	}
	sample := spendSample{at: time.Now(), amount: amount}
	m.spent = append(m.spent, sample)
	m.mu.Unlock()

	if !m.registry.IsRegistered(req.Network) {
		m.rollbackSample(sample)
		return "", nil, nil, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "network not registered", x402.ErrInvalidNetwork).
			WithDetails("network", req.Network)
	}

	// Delegate the actual signer match and signing to the configured
	// selector, scoped to this single already-chosen requirement, so
	// priority and token-match rules stay in one place (selector.go)
	// instead of being duplicated here.
	payload, err := m.selector.SelectAndSign([]x402.PaymentRequirement{*req}, m.registry.Signers())
	if err != nil {
		m.rollbackSample(sample)
		if pe, ok := err.(*x402.PaymentError); ok {
			return "", nil, nil, pe
		}
		return "", nil, nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "signing failed", err)
	}

	encoded, err := encoding.EncodePayment(*payload)
	if err != nil {
		m.rollbackSample(sample)
		return "", nil, nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to encode payment assertion", err)
	}

	commit = func() {}
	rollback = func() { m.rollbackSample(sample) }
	return encoded, commit, rollback, nil
}

// WouldFit reports whether amount would currently fit under the
// per-request and rolling global spend caps, without reserving anything.
// Used during requirement selection to skip a requirement that would
// otherwise pass every other check but immediately fail CreateAssertion's
// budget enforcement, so a cheaper later requirement in the same 402
// challenge gets a chance instead.
func (m *Manager) WouldFit(amount *big.Int) bool {
	if m.perRequestCap != nil && amount.Cmp(m.perRequestCap) > 0 {
		return false
	}
	if m.globalCap == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	spent := m.windowedSpend(time.Now())
	return new(big.Int).Add(spent, amount).Cmp(m.globalCap) <= 0
}

// rollbackSample removes a previously-reserved sample. Best-effort: once a
// signed request crosses the transport, the pipeline must not call this.
func (m *Manager) rollbackSample(sample spendSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.spent {
		if s == sample {
			m.spent = append(m.spent[:i], m.spent[i+1:]...)
			return
		}
	}
}

// windowedSpend sums reservations within the configured rolling window as
// of now. Caller must hold m.mu.
func (m *Manager) windowedSpend(now time.Time) *big.Int {
	total := new(big.Int)
	cutoff := now.Add(-m.windowDuration)
	kept := m.spent[:0]
	for _, s := range m.spent {
		if s.at.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
		total.Add(total, s.amount)
	}
	m.spent = kept
	return total
}

// ProcessSettlement decodes a X-PAYMENT-RESPONSE header value.
func ProcessSettlement(headerValue string) (*x402.SettlementResponse, error) {
	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// RecordPayment appends a completed payment to the bounded history ring.
func (m *Manager) RecordPayment(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[m.historyNext] = rec
	m.historyNext = (m.historyNext + 1) % m.historyCap
	if m.historyNext == 0 {
		m.historyFull = true
	}
	m.totalLatency += rec.Latency
}

// History returns up to limit of the most recent payment records, newest
// first.
func (m *Manager) History(limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.historyNext
	count := n
	if m.historyFull {
		count = m.historyCap
	}
	if limit > 0 && limit < count {
		count = limit
	}

	out := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		idx := (n - 1 - i + m.historyCap) % m.historyCap
		out = append(out, m.history[idx])
	}
	return out
}

// Statistics returns aggregate figures over the full retained history.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.historyNext
	if m.historyFull {
		count = m.historyCap
	}

	totals := make(map[string]*big.Int)
	for i := 0; i < count; i++ {
		rec := m.history[i]
		if rec.Amount == nil {
			continue
		}
		total, ok := totals[rec.Network]
		if !ok {
			total = new(big.Int)
			totals[rec.Network] = total
		}
		total.Add(total, rec.Amount)
	}

	var avg time.Duration
	if count > 0 {
		avg = m.totalLatency / time.Duration(count)
	}

	return Statistics{Count: count, TotalByNetwork: totals, AverageLatency: avg}
}

// Close marks the manager closed; subsequent
// CreateAssertion calls fail with ErrClientClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

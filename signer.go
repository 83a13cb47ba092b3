package x402

import (
	"context"
	"math/big"
)

// TokenConfig describes one token a Signer is willing to spend for payments.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (SVM).
	Address string

	// Symbol is a human-readable ticker, e.g. "USDC".
	Symbol string

	// Decimals is the number of atomic-unit decimal places for this token.
	Decimals int

	// Priority orders tokens within a single signer; lower wins ties.
	Priority int
}

// Signer represents a payment signer for a specific blockchain.
// Implementations handle blockchain-specific signing for EVM (Ethereum-compatible chains)
// and SVM (Solana) networks. This is the concrete, requirement-aware signing
// contract the selector and PaymentManager depend on; it is this module's
// realization of the external SigningProvider contract (see below) scoped to
// one network's payload format.
type Signer interface {
	// Network returns the blockchain network identifier (e.g., "base", "solana").
	Network() string

	// Scheme returns the payment scheme identifier (currently "exact").
	Scheme() string

	// CanSign checks if this signer can satisfy the given payment requirements.
	// Returns true if the signer supports the required network and has the required token.
	CanSign(requirements *PaymentRequirement) bool

	// Sign creates a signed payment payload for the given requirements.
	// Returns an error if signing fails or if the payment exceeds configured limits.
	Sign(requirements *PaymentRequirement) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	GetPriority() int

	// GetTokens returns the list of tokens supported by this signer.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
	GetMaxAmount() *big.Int
}

// SigningProvider is the external, blockchain-specific signing contract:
// given a canonical byte encoding, produce a signature. It is intentionally
// minimal — concrete transaction/typed-data construction is the collaborator's
// job, not the core's. The Signer implementations in signers/evm and
// signers/svm satisfy the richer, requirement-aware Signer contract above.
// ChainRegistry registers Signer values only; nothing in this module
// accepts a bare SigningProvider.
type SigningProvider interface {
	// Sign returns a signature over canonical, scheme-specific bytes.
	Sign(ctx context.Context, canonical []byte) (signature []byte, err error)

	// Address returns the signer's public address on its network.
	Address() string
}

// ChainProvider is the external, blockchain-specific connectivity contract.
// Implementations are not provided by the core; only the contract is.
type ChainProvider interface {
	// QueryBalance returns the balance of asset held by address, in base units.
	QueryBalance(ctx context.Context, address, asset string) (*big.Int, error)

	// Status reports whether the underlying RPC endpoint is reachable.
	Status(ctx context.Context) error
}

// chainEntry is one ChainRegistry registration: a requirement-aware Signer
// plus an optional lower-level ChainProvider used only for health checks.
type chainEntry struct {
	signer Signer
	chain  ChainProvider
}

// ChainRegistry maps a network identifier to its signing and (optionally)
// chain-connectivity providers. Lookup is O(1); registration happens once at
// construction (see §4.6): post-construction mutation is supported for
// flexibility but is not required by the contract.
type ChainRegistry struct {
	entries map[string]chainEntry
}

// NewChainRegistry builds an empty registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{entries: make(map[string]chainEntry)}
}

// Register associates a network identifier with a Signer and an optional
// ChainProvider (may be nil if no connectivity probe is available).
func (r *ChainRegistry) Register(network string, signer Signer, chain ChainProvider) {
	r.entries[network] = chainEntry{signer: signer, chain: chain}
}

// Signers returns every registered Signer, in registration order is not
// guaranteed (map iteration); callers needing deterministic order should
// sort by GetPriority.
func (r *ChainRegistry) Signers() []Signer {
	out := make([]Signer, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.signer)
	}
	return out
}

// Signer looks up the registered Signer for network.
func (r *ChainRegistry) Signer(network string) (Signer, bool) {
	e, ok := r.entries[network]
	if !ok {
		return nil, false
	}
	return e.signer, true
}

// ChainProviderFor looks up the registered ChainProvider for network, if any.
func (r *ChainRegistry) ChainProviderFor(network string) (ChainProvider, bool) {
	e, ok := r.entries[network]
	if !ok || e.chain == nil {
		return nil, false
	}
	return e.chain, true
}

// IsRegistered reports whether network has a registered signer.
func (r *ChainRegistry) IsRegistered(network string) bool {
	_, ok := r.entries[network]
	return ok
}

// Networks returns the set of registered network identifiers.
func (r *ChainRegistry) Networks() []string {
	out := make([]string, 0, len(r.entries))
	for network := range r.entries {
		out = append(out, network)
	}
	return out
}

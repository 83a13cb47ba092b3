package x402

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/driftpay/x402/retry"
)

// Default timeouts and budget windows, matching spec.md §6.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultClockSkewTolerance = 30 * time.Second
	DefaultCacheMaxEntries    = 1024
	DefaultCacheTTL           = 60 * time.Second
)

// CacheConfig is the `cache.*` configuration group from spec.md §6.
type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	DefaultTTL time.Duration
}

// ChainSpec is one entry of the `chains` configuration list: a network
// identifier, its RPC endpoints (opaque to the core; handed to the
// ChainProvider implementation verbatim), and the Signer that handles it.
type ChainSpec struct {
	NetworkID    string
	RPCEndpoints []string
	Signer       Signer
	Chain        ChainProvider // optional connectivity probe
}

// Config is the complete, immutable client configuration, built via NewConfig with
// a sequence of Option values and validated once at construction.
type Config struct {
	// PrivateKey is the hex-encoded secret backing the default signer, when
	// one isn't supplied explicitly via WithChain. Required only if auto-pay
	// is enabled and no chain has an explicit signer. Never logged.
	PrivateKey string

	AutoPay             bool
	MaxAmountPerRequest *big.Int
	GlobalSpendCap      *big.Int
	WindowSeconds       time.Duration

	Timeout            time.Duration
	ShutdownTimeout    time.Duration
	ClockSkewTolerance time.Duration

	Cache  CacheConfig
	Chains []ChainSpec
	Retry  retry.Config

	Logger *slog.Logger
}

// defaultConfig returns the Config populated with every spec.md §6 default.
func defaultConfig() Config {
	return Config{
		AutoPay:            true,
		Timeout:            DefaultTimeout,
		ShutdownTimeout:    DefaultShutdownTimeout,
		ClockSkewTolerance: DefaultClockSkewTolerance,
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: DefaultCacheMaxEntries,
			DefaultTTL: DefaultCacheTTL,
		},
		Retry: retry.DefaultConfig,
	}
}

// Option configures a Config. Functional options, applied in order by NewConfig;
// later options override earlier ones for scalar fields.
type Option func(*Config) error

// WithPrivateKey sets the hex-encoded signing key.
func WithPrivateKey(hexKey string) Option {
	return func(c *Config) error {
		if hexKey == "" {
			return fmt.Errorf("x402: private key cannot be empty")
		}
		c.PrivateKey = hexKey
		return nil
	}
}

// WithAutoPay toggles automatic 402 handling. Default true.
func WithAutoPay(enabled bool) Option {
	return func(c *Config) error {
		c.AutoPay = enabled
		return nil
	}
}

// WithMaxAmountPerRequest sets the hard per-challenge cap, as a decimal
// string in the asset's base units.
func WithMaxAmountPerRequest(amount string) Option {
	return func(c *Config) error {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("%w: max_amount_per_request %q", ErrInvalidAmount, amount)
		}
		c.MaxAmountPerRequest = v
		return nil
	}
}

// WithGlobalSpendCap sets a rolling-window total spend cap, in base units,
// over the given window.
func WithGlobalSpendCap(amount string, window time.Duration) Option {
	return func(c *Config) error {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || v.Sign() < 0 {
			return fmt.Errorf("%w: global_spend_cap %q", ErrInvalidAmount, amount)
		}
		if window <= 0 {
			return fmt.Errorf("x402: window_seconds must be positive")
		}
		c.GlobalSpendCap = v
		c.WindowSeconds = window
		return nil
	}
}

// WithTimeout sets the per-request deadline wrapping the entire execute call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("x402: timeout must be positive")
		}
		c.Timeout = d
		return nil
	}
}

// WithShutdownTimeout sets how long Close waits for in-flight requests to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("x402: shutdown_timeout must be positive")
		}
		c.ShutdownTimeout = d
		return nil
	}
}

// WithClockSkewTolerance sets the tolerance applied when checking a
// requirement's validity window against wall-clock time.
func WithClockSkewTolerance(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("x402: clock_skew_tolerance must not be negative")
		}
		c.ClockSkewTolerance = d
		return nil
	}
}

// WithCache configures the response cache.
func WithCache(enabled bool, maxEntries int, defaultTTL time.Duration) Option {
	return func(c *Config) error {
		if enabled && maxEntries <= 0 {
			return fmt.Errorf("x402: cache.max_entries must be positive when cache is enabled")
		}
		c.Cache = CacheConfig{Enabled: enabled, MaxEntries: maxEntries, DefaultTTL: defaultTTL}
		return nil
	}
}

// WithChain registers a network's signer (and optional chain connectivity
// provider) with the client's ChainRegistry.
func WithChain(spec ChainSpec) Option {
	return func(c *Config) error {
		if spec.NetworkID == "" {
			return fmt.Errorf("x402: chain spec missing network_id")
		}
		if spec.Signer == nil {
			return fmt.Errorf("x402: chain spec for %q missing signer", spec.NetworkID)
		}
		c.Chains = append(c.Chains, spec)
		return nil
	}
}

// WithRetry sets Config.Retry. The pipeline does not read this setting, so
// transport failures are not retried; the 402 retry is independent of it
// and always capped at one.
func WithRetry(cfg retry.Config) Option {
	return func(c *Config) error {
		if cfg.MaxAttempts <= 0 {
			return fmt.Errorf("x402: retry.max_attempts must be positive")
		}
		c.Retry = cfg
		return nil
	}
}

// WithLogger sets Config.Logger. The pipeline and payment manager do not
// read it, so nothing is logged through it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// NewConfig applies opts over the defaults and validates the result.
func NewConfig(opts ...Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	if cfg.AutoPay && cfg.PrivateKey == "" && len(cfg.Chains) == 0 {
		return Config{}, fmt.Errorf("x402: auto_pay requires a private_key or at least one registered chain")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg, nil
}

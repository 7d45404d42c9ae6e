// Package config carries the validator's prompt (horizon) definitions,
// per-asset coefficients, and the viper/cobra-bound runtime settings.
// Structure mirrors the teacher's ScoringConfig/ManagerConfig split
// (p2p/reputation/config.go): one struct per concern, each with a
// Default...Config constructor.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/foresightnet/voldy/internal/domain"
)

// PromptConfig is one of the two scheduler cycles (low/high frequency).
type PromptConfig struct {
	Horizon                  domain.Horizon
	TimeLength               int64 // seconds
	TimeIncrement            int64 // seconds
	InitialDelay             time.Duration
	TotalCycleMinutes        int
	TimeoutExtraSeconds      int
	WindowDays               int
	SoftmaxBeta              float64
	SmoothedScoreCoefficient float64
	NumSimulations           int
	ScoringIntervals         []domain.ScoringInterval
}

// NumSteps is time_length/time_increment + 1, the grid length every
// prediction path and the realized-price series carry.
func (p PromptConfig) NumSteps() int {
	return int(p.TimeLength/p.TimeIncrement) + 1
}

// DefaultLowFrequencyConfig is the 24h-horizon daily cycle (§6).
func DefaultLowFrequencyConfig() PromptConfig {
	return PromptConfig{
		Horizon:                  domain.HorizonLow,
		TimeLength:               86400,
		TimeIncrement:            300,
		InitialDelay:             60 * time.Second,
		TotalCycleMinutes:        60,
		TimeoutExtraSeconds:      60,
		WindowDays:               10,
		SoftmaxBeta:              -0.1,
		SmoothedScoreCoefficient: 0.5,
		NumSimulations:           1000,
		ScoringIntervals: []domain.ScoringInterval{
			{Label: "5min", IntervalSeconds: 300},
			{Label: "30min", IntervalSeconds: 1800},
			{Label: "3hour", IntervalSeconds: 10800},
			{Label: "24hour_abs", IntervalSeconds: 86400},
		},
	}
}

// DefaultHighFrequencyConfig is the 1h-horizon hourly cycle (§6). Carries
// the full plain/_abs/_gap interval family from prompt_config.py, which
// spec.md §6 only summarizes.
func DefaultHighFrequencyConfig() PromptConfig {
	intervals := []domain.ScoringInterval{
		{Label: "1min", IntervalSeconds: 60},
		{Label: "5min", IntervalSeconds: 300},
		{Label: "15min", IntervalSeconds: 900},
		{Label: "30min", IntervalSeconds: 1800},
		{Label: "1hour_abs", IntervalSeconds: 3600},
	}
	for s := int64(300); s <= 3600; s += 300 {
		intervals = append(intervals, domain.ScoringInterval{
			Label:           fmt.Sprintf("%dmin_gap", s/60),
			IntervalSeconds: s,
		})
	}
	return PromptConfig{
		Horizon:                  domain.HorizonHigh,
		TimeLength:               3600,
		TimeIncrement:            60,
		InitialDelay:             0,
		TotalCycleMinutes:        12,
		TimeoutExtraSeconds:      60,
		WindowDays:               1,
		SoftmaxBeta:              -0.2,
		SmoothedScoreCoefficient: 0.5,
		NumSimulations:           1000,
		ScoringIntervals:         intervals,
	}
}

// Assets is the fixed rotation order (§6).
var Assets = []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetXAU, domain.AssetSOL}

// AssetCoefficients are the fixed per-asset weighting multipliers (§4.H, §6).
var AssetCoefficients = map[domain.Asset]float64{
	domain.AssetBTC: 1.0,
	domain.AssetETH: 0.62109,
	domain.AssetXAU: 1.45506,
	domain.AssetSOL: 0.50215,
}

// PriceSymbols maps an asset to the price provider's symbol, live path.
var PriceSymbols = map[domain.Asset]string{
	domain.AssetBTC: "Crypto.BTC/USD",
	domain.AssetETH: "Crypto.ETH/USD",
	domain.AssetXAU: "Metal.XAU/USD",
	domain.AssetSOL: "Crypto.SOL/USD",
}

// PriceSymbolXAUBacktest is the XAU symbol used by the backtest path
// instead of the live metal feed (§6).
const PriceSymbolXAUBacktest = "Crypto.XAUT/USD"

// Runtime holds the operator-tunable settings bound through viper/cobra:
// connection strings, endpoints, timeouts, and process counts that do not
// belong in the fixed PromptConfig tables.
type Runtime struct {
	DatabaseURL       string        `mapstructure:"database_url"`
	PriceProviderURL  string        `mapstructure:"price_provider_url"`
	ChainEndpoint     string        `mapstructure:"chain_endpoint"`
	ValidatorHotkey   string        `mapstructure:"validator_hotkey"`
	ExternalIP        string        `mapstructure:"external_ip"`
	NumFanoutProcs    int           `mapstructure:"num_fanout_procs"`
	FanoutPoolSize    int           `mapstructure:"fanout_pool_size"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	PriceRateLimitN   int           `mapstructure:"price_rate_limit_calls"`
	PriceRateLimitWin time.Duration `mapstructure:"price_rate_limit_period"`
}

// DefaultRuntime returns sane defaults, overridden by viper bindings in
// cmd/validatord (persistent flags and env prefix VOLDY_); no config
// file is read.
func DefaultRuntime() Runtime {
	return Runtime{
		NumFanoutProcs:    4,
		FanoutPoolSize:    25,
		MetricsAddr:       ":9090",
		PriceRateLimitN:   30,
		PriceRateLimitWin: time.Minute,
	}
}

// LoadRuntime binds Runtime fields from viper, applying defaults first so
// unset keys keep their sane value (mirrors p2p/reputation/config.go's
// DefaultConfig-then-overlay convention, but via viper instead of raw JSON).
func LoadRuntime(v *viper.Viper) (Runtime, error) {
	rt := DefaultRuntime()
	if err := v.Unmarshal(&rt); err != nil {
		return Runtime{}, fmt.Errorf("failed to unmarshal runtime config: %w", err)
	}
	return rt, rt.Validate()
}

// Validate checks the handful of fields that must be non-empty to run.
func (r Runtime) Validate() error {
	if r.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if r.PriceProviderURL == "" {
		return fmt.Errorf("price_provider_url is required")
	}
	if r.NumFanoutProcs < 1 {
		return fmt.Errorf("num_fanout_procs must be >= 1")
	}
	if r.FanoutPoolSize < 1 {
		return fmt.Errorf("fanout_pool_size must be >= 1")
	}
	return nil
}

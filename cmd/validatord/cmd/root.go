// Package cmd is the validatord cobra command tree. Grounded on
// cmd/pawd/cmd/root.go's NewRootCmd (persistent flags bound through
// viper, one subcommand per lifecycle action).
package cmd

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foresightnet/voldy/internal/chain"
	"github.com/foresightnet/voldy/internal/config"
	"github.com/foresightnet/voldy/internal/prices"
	"github.com/foresightnet/voldy/internal/scheduler"
	"github.com/foresightnet/voldy/internal/scoring"
	"github.com/foresightnet/voldy/internal/store"
	"github.com/foresightnet/voldy/internal/telemetry"
	"github.com/foresightnet/voldy/internal/transport"
)

// NewRootCmd builds the validatord command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "validatord",
		Short: "Runs the price-forecasting subnet validator",
	}

	root.PersistentFlags().String("database-url", "", "Postgres connection string")
	root.PersistentFlags().String("price-provider-url", "", "price provider base URL")
	root.PersistentFlags().String("chain-endpoint", "", "chain node JSON-RPC endpoint")
	root.PersistentFlags().String("validator-hotkey", "", "validator's ed25519 hotkey seed, hex-encoded")
	root.PersistentFlags().String("external-ip", "", "this validator's externally-reachable IP")
	root.PersistentFlags().String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	root.PersistentFlags().Int64("owner-miner-id", 0, "miner_id of the synthetic owner-uid reward row")

	_ = v.BindPFlag("database_url", root.PersistentFlags().Lookup("database-url"))
	_ = v.BindPFlag("price_provider_url", root.PersistentFlags().Lookup("price-provider-url"))
	_ = v.BindPFlag("chain_endpoint", root.PersistentFlags().Lookup("chain-endpoint"))
	_ = v.BindPFlag("validator_hotkey", root.PersistentFlags().Lookup("validator-hotkey"))
	_ = v.BindPFlag("external_ip", root.PersistentFlags().Lookup("external-ip"))
	_ = v.BindPFlag("metrics_addr", root.PersistentFlags().Lookup("metrics-addr"))
	v.SetEnvPrefix("VOLDY")
	v.AutomaticEnv()

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newMigrateCmd(v))
	return root
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the embedded schema to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.LoadRuntime(v)
			if err != nil {
				return err
			}
			logger := log.NewLogger(os.Stdout)
			st, err := store.New(store.Config{URL: rt.DatabaseURL}, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.InitSchema(cmd.Context())
		},
	}
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var ownerMinerID int64

	c := &cobra.Command{
		Use:   "run",
		Short: "Runs the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerMinerID, _ = cmd.Flags().GetInt64("owner-miner-id")
			return runValidator(v, ownerMinerID)
		},
	}
	return c
}

func runValidator(v *viper.Viper, ownerMinerID int64) error {
	rt, err := config.LoadRuntime(v)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}

	logger := log.NewLogger(os.Stdout)
	metrics := telemetry.New()

	st, err := store.New(store.Config{URL: rt.DatabaseURL}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	signer, err := loadSigner(rt.ValidatorHotkey)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}

	tr, err := transport.NewClient(signer, rt.ExternalIP, rt.FanoutPoolSize, rt.NumFanoutProcs, logger, metrics)
	if err != nil {
		return fmt.Errorf("build transport client: %w", err)
	}

	priceProvider := prices.New(rt.PriceProviderURL, rt.PriceRateLimitN, rt.PriceRateLimitWin, logger)
	sc := scoring.New(st, priceProvider, logger, metrics)
	chainClient := chain.New(rt.ChainEndpoint, signer.Hotkey(), logger)

	metricsServer := telemetry.NewServer(rt.MetricsAddr)
	errCh := make(chan error, 1)
	metricsServer.Start(errCh)
	defer metricsServer.Stop(context.Background()) //nolint:errcheck

	sched := scheduler.New(st, tr, sc, chainClient, logger, metrics,
		config.Assets, config.DefaultLowFrequencyConfig(), config.DefaultHighFrequencyConfig(), ownerMinerID)

	logger.Info("validator starting")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler exited: %w", err)
	}
	logger.Info("validator stopped")
	return nil
}

// loadSigner derives an ed25519 keypair from a hex-encoded 32-byte seed
// and uses the hex-encoded public key as the validator's own hotkey
// string, the same identity fan-out envelopes sign with.
func loadSigner(hexSeed string) (*transport.Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode validator hotkey seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("validator hotkey seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	hotkey := hex.EncodeToString(pub)
	return transport.NewSigner(priv, hotkey), nil
}

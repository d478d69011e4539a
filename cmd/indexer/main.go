package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swapscope/internal/chain"
	"swapscope/internal/config"
	"swapscope/internal/dex"
	"swapscope/internal/metrics"
	"swapscope/internal/model"
	"swapscope/internal/pipeline"
	"swapscope/internal/publisher"
	"swapscope/internal/resolver"
	"swapscope/internal/storage/postgres"
	"swapscope/internal/utxo"
)

func main() {
	root := &cobra.Command{
		Use:          "swapscope",
		Short:        "Cardano DEX swap indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the indexer",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("node-socket", "", "Cardano node socket path")
	runCmd.Flags().Uint32("network-magic", 764824073, "network magic")
	runCmd.Flags().Uint64("start-slot", 0, "slot to start syncing from when no state exists")
	runCmd.Flags().String("start-hash", "", "block hash matching start-slot, empty means chain origin")
	runCmd.Flags().Uint64("slot-time-offset", 0, "seconds subtracted from slot numbers to derive timestamps")
	runCmd.Flags().Int("block-queue-size", 50, "event queue capacity")
	runCmd.Flags().Duration("restart-interval", 0, "delay before reconnecting after a chain source failure")
	runCmd.Flags().String("resolver", "hybrid", "input resolver (hybrid, blockfrost, koios, dbmirror)")
	runCmd.Flags().String("fallback", "blockfrost", "fallback backend for the hybrid resolver")
	runCmd.Flags().String("fallback-url", "", "base URL of the fallback chain data API")
	runCmd.Flags().String("api-key", "", "API key for the fallback chain data API")
	runCmd.Flags().String("mirror-dsn", "", "Postgres DSN of a db-sync mirror")
	runCmd.Flags().Int("utxo-cache-size", 100000, "maximum entries in the UTXO cache")
	runCmd.Flags().StringSlice("dex", nil, "DEXes to index (comma-separated, empty means all)")
	runCmd.Flags().String("database-url", "", "Postgres DSN")
	runCmd.Flags().StringSlice("kafka-broker", nil, "Kafka broker addresses (comma-separated)")
	runCmd.Flags().String("kafka-topic", "swapscope.prices", "Kafka topic for published prices")
	runCmd.Flags().Bool("publish-enabled", false, "publish prices to Kafka")
	runCmd.Flags().Int("metrics-port", 9091, "Prometheus metrics port")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts for upstream calls")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("database-url", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsPort, logger); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	cache, err := utxo.NewCache(cfg.UtxoCacheSize, logger)
	if err != nil {
		return err
	}

	provider, err := resolver.New(ctx, resolver.Options{
		Backend:        resolver.Backend(cfg.Resolver),
		HybridFallback: resolver.Backend(cfg.Fallback),
		BlockfrostURL:  cfg.FallbackURL,
		BlockfrostKey:  cfg.APIKey,
		KoiosURL:       cfg.FallbackURL,
		MirrorDSN:      cfg.MirrorDSN,
		Retry: resolver.RetryPolicy{
			MaxTries:       cfg.MaxRetries,
			InitialBackoff: cfg.RetryBackoff,
		},
		Cache:  cache,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	classifiers, err := dex.Build(cfg.Dexes, logger)
	if err != nil {
		return err
	}

	bus, err := pipeline.NewBus(cfg.BlockQueueSize)
	if err != nil {
		return err
	}

	decimals := postgres.NewDecimalsCache(store)
	if err := decimals.Refresh(ctx); err != nil {
		logger.Warn("asset decimals preload failed", zap.Error(err))
	}

	swapProc := pipeline.NewSwapProcessor(classifiers, provider, cfg.SlotTimeOffset, logger)
	priceProc := pipeline.NewPriceProcessor(decimals, cfg.SlotTimeOffset, logger)

	chainSvc, err := chain.NewService(cfg.NodeSocket, cfg.NetworkMagic, bus, provider, cfg.SlotTimeOffset, cfg.RestartInterval, logger)
	if err != nil {
		return err
	}

	var pub pipeline.PricePublisher
	var kafkaPub *publisher.Kafka
	if cfg.PublishEnabled {
		kafkaPub, err = publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer kafkaPub.Close()
		pub = kafkaPub
	}

	dispatcher, err := pipeline.NewDispatcher(pipeline.DispatcherOptions{
		Bus:            bus,
		Cache:          cache,
		SwapProcessor:  swapProc,
		PriceProcessor: priceProc,
		Store:          store,
		Publisher:      pub,
		Chain:          chainSvc,
		SlotTimeOffset: cfg.SlotTimeOffset,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	from := model.BlockPoint{Slot: cfg.StartSlot, Hash: cfg.StartHash}
	if persisted, ok, err := store.LoadSyncPoint(ctx); err != nil {
		return err
	} else if ok {
		from, err = chainSvc.DetermineInitialisationState(ctx, persisted)
		if err != nil {
			return err
		}
	}

	logger.Info("indexer start",
		zap.String("node_socket", cfg.NodeSocket),
		zap.Uint32("network_magic", cfg.NetworkMagic),
		zap.Uint64("from_slot", from.Slot),
		zap.String("resolver", cfg.Resolver),
		zap.Int("classifiers", len(classifiers)),
		zap.Bool("publish_enabled", cfg.PublishEnabled),
	)

	errCh := make(chan error, 2)
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()
	go func() {
		errCh <- chainSvc.Run(ctx, from)
	}()

	err = <-errCh
	stop()
	if err == context.Canceled {
		return nil
	}
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Migrate(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

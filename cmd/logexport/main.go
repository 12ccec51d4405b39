package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logexport/internal/chain"
	"logexport/internal/config"
	"logexport/internal/eventabi"
	"logexport/internal/indexer"
	"logexport/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "logexport",
		Short:        "Export contract event logs as decoded rows",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch, decode and write the events of one contract",
		RunE:  runExport,
	}

	exportCmd.Flags().StringP("rpc-url", "r", "", "JSON-RPC endpoint URL")
	exportCmd.Flags().StringP("target-address", "t", "", "contract address emitting the events")
	exportCmd.Flags().StringP("event-string", "e", "", "event signature, e.g. \"Sync(uint112,uint112)\"")
	exportCmd.Flags().Uint64("start-block", 0, "first block (inclusive)")
	exportCmd.Flags().Uint64("stop-block", 0, "last block (inclusive), defaults to the latest block")
	exportCmd.Flags().Uint64("step-block", 2048, "blocks per eth_getLogs request")
	exportCmd.Flags().Bool("block-number", false, "append the block number column")
	exportCmd.Flags().Bool("block-hash", false, "append the block hash column")
	exportCmd.Flags().Bool("tx-hash", false, "append the transaction hash column")
	exportCmd.Flags().IntP("client-number", "c", 1, "number of RPC connections, each owning a slice of the range")
	exportCmd.Flags().BoolP("log", "l", false, "enable progress logging on stderr")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	exportCmd.Flags().Int("workers", indexer.DefaultWorkers, "concurrent requests per client")
	exportCmd.Flags().Int("decode-workers", 0, "decode workers, 0 means one per CPU")
	exportCmd.Flags().Int("max-retries", 8, "retry attempts per span before it is abandoned")
	exportCmd.Flags().Duration("retry-backoff", 250*time.Millisecond, "initial retry backoff")
	exportCmd.Flags().Bool("strict", true, "reject payloads that do not re-encode to the same bytes")
	exportCmd.Flags().String("out", "-", "output path, - writes to stdout")
	exportCmd.Flags().String("format", config.FormatCSV, "output format (csv, jsonl)")
	exportCmd.Flags().String("errors", "", "optional JSONL file for decode failures")
	exportCmd.Flags().String("pg-dsn", "", "optional Postgres DSN to copy rows into")
	exportCmd.Flags().String("pg-table", "", "Postgres table name")
	exportCmd.Flags().String("metrics-addr", "", "optional listen address for /metrics")

	root.AddCommand(exportCmd)

	topicCmd := &cobra.Command{
		Use:   "topic <event-string>",
		Short: "Print the canonical signature and topic0 of an event",
		Args:  cobra.ExactArgs(1),
		RunE:  runTopic,
	}

	root.AddCommand(topicCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	address, err := indexer.ParseAddress(cfg.TargetAddress)
	if err != nil {
		return err
	}
	sig, err := eventabi.ParseSignature(cfg.EventString)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("logexport")
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, m, logger)
		defer shutdown()
	}

	sink, errSink, err := openSinks(ctx, cfg, sig)
	if err != nil {
		return err
	}

	dial := func(ctx context.Context) (indexer.ChainClient, error) {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	var decodeErrs indexer.DecodeErrorSink
	if errSink != nil {
		decodeErrs = errSink
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		Address:    address,
		Signature:  sig,
		StartBlock: cfg.StartBlock,
		StopBlock:  cfg.StopBlock,
		StepBlock:  cfg.StepBlock,
		Clients:    cfg.ClientNumber,
		Engine: indexer.EngineConfig{
			Workers:      cfg.Workers,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		DecodeWorkers: cfg.DecodeWorkers,
		Strict:        cfg.Strict,
	}, dial, sink, decodeErrs, logger, m)

	logger.Info("export start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("address", address.Hex()),
		zap.String("event", sig.Canonical()),
		zap.String("topic0", sig.Topic0().Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("step_block", cfg.StepBlock),
		zap.Int("clients", cfg.ClientNumber),
		zap.String("out", cfg.Out),
		zap.String("format", cfg.Format),
	)

	_, runErr := runner.Run(ctx)

	closeErr := sink.Close()
	if errSink != nil {
		closeErr = errors.Join(closeErr, errSink.Close())
	}
	return errors.Join(runErr, closeErr)
}

func runTopic(cmd *cobra.Command, args []string) error {
	sig, err := eventabi.ParseSignature(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, sig.Canonical())
	fmt.Fprintln(out, sig.Topic0().Hex())
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func newLogger(level string, enabled bool) (*zap.Logger, error) {
	if !enabled {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

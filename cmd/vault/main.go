package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "vault",
		Short:        "Shared liquidity vault ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle JSONL requests against pools defined in a pools file",
		RunE:  runSettle,
	}

	settleCmd.Flags().String("pools", "./pools.yaml", "pools definition YAML")
	settleCmd.Flags().String("in", "", "input settlement requests JSONL")
	settleCmd.Flags().String("out", "./data/receipts.jsonl", "output receipts JSONL")
	settleCmd.Flags().String("events", "", "optional output Vault event logs JSONL")
	settleCmd.Flags().String("errors", "./data/settle_errors.jsonl", "rejected requests JSONL")
	settleCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pools and receipts")
	settleCmd.Flags().String("protocol-swap-fee", "0", "protocol share of swap fees (18-decimal fixed point)")
	settleCmd.Flags().Uint64("chain-id", 1, "chain id stamped on emitted event logs")
	settleCmd.Flags().String("vault", "", "vault address stamped on emitted event logs")
	settleCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	settleCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(settleCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild vault balances from on-chain Vault logs",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("rpc", "", "RPC URL")
	replayCmd.Flags().String("vault", "", "Vault contract address")
	replayCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	replayCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	replayCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("out", "./data/replay_receipts.jsonl", "output receipts JSONL")
	replayCmd.Flags().String("errors", "./data/replay_errors.jsonl", "rejected logs JSONL")
	replayCmd.Flags().String("events", "", "optional output decoded Vault events JSONL")
	replayCmd.Flags().String("checkpoint", "./data/replay_checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().String("checkpoint-name", "replay", "checkpoint name when stored in Postgres")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pools, receipts and checkpoints")
	replayCmd.Flags().String("swap-fee", "1000000000000000", "swap fee percentage assigned to replayed pools")
	replayCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	replayCmd.Flags().StringSlice("verify", nil, "pool ids to compare with getPoolTokens after the run")
	replayCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
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

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics exposes reg on addr until ctx is done. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))
}

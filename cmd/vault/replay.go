package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityVault/internal/chain"
	"liquidityVault/internal/config"
	"liquidityVault/internal/erc20"
	"liquidityVault/internal/events"
	"liquidityVault/internal/indexer"
	"liquidityVault/internal/replay"
	"liquidityVault/internal/storage"
	"liquidityVault/internal/storage/postgres"
	"liquidityVault/internal/vault"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	vaultAddress, err := indexer.ParseVaultAddress(cfg.VaultAddress)
	if err != nil {
		return err
	}
	aliases, err := indexer.ParseTopicAliases(cfg.Topic0Map)
	if err != nil {
		return fmt.Errorf("topic0-map: %w", err)
	}

	verifyIDs := make([]vault.PoolID, 0, len(cfg.Verify))
	for _, s := range cfg.Verify {
		id, err := vault.ParsePoolID(s)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		verifyIDs = append(verifyIDs, id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	serveMetrics(ctx, cfg.MetricsAddr, reg, logger)

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := events.NewDecoder(events.DecoderConfig{Topic0Map: aliases})
	if err != nil {
		return err
	}

	// Protocol fees arrive through PoolBalanceChanged, so replayed swaps charge none of their own.
	v, err := vault.New(vault.Config{Metrics: vault.NewMetrics(reg)}, logger)
	if err != nil {
		return err
	}

	// Outputs append so a resumed run continues the files of the previous one.
	receipts := storage.Fanout{storage.NewJSONLStorage(cfg.Out)}
	rejections := storage.RejectionFanout{storage.NewJSONLStorage(cfg.Errors)}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		receipts = append(receipts, store)
		rejections = append(rejections, store)
	}

	var checkpoint indexer.Checkpointer
	if cfg.CheckpointEnabled {
		if store != nil {
			checkpoint = store.Checkpointer(cfg.CheckpointName)
		} else {
			checkpoint = indexer.NewFileCheckpointer(cfg.Checkpoint)
		}
	}

	var eventsOut replay.EventSink
	if cfg.Events != "" {
		eventsOut = storage.NewJSONLStorage(cfg.Events)
	}

	applier, err := replay.NewApplier(replay.Config{
		Vault:             v,
		Decoder:           decoder,
		Decimals:          erc20.NewResolver(chainClient, erc20.NewMetaCache(), logger),
		SwapFeePercentage: cfg.SwapFeePercentage,
		Receipts:          receipts,
		Rejections:        rejections,
		Events:            eventsOut,
		Metrics:           replay.NewMetrics(reg),
	}, logger)
	if err != nil {
		return err
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		Addresses:    []common.Address{vaultAddress},
		Topic0:       decoder.Topics(),
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, applier, checkpoint, indexer.NewMetrics(reg), logger)

	logger.Info("replay start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("vault", vaultAddress.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.Bool("postgres", store != nil),
	)

	last, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.UpsertPools(ctx, storage.PoolRecords(v.Snapshot())); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}

	mismatches := 0
	for _, id := range verifyIDs {
		found, err := replay.Verify(ctx, chainClient, vaultAddress, v, id, new(big.Int).SetUint64(last))
		if err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
		for _, m := range found {
			logger.Warn("balance mismatch", zap.Stringer("mismatch", m))
		}
		mismatches += len(found)
	}

	logger.Info("replay complete",
		zap.Uint64("last_processed_block", last),
		zap.Int("pools", len(v.Pools())),
		zap.Int("verified", len(verifyIDs)),
		zap.Int("mismatches", mismatches),
	)
	if mismatches > 0 {
		return fmt.Errorf("%d balance mismatches", mismatches)
	}
	return nil
}

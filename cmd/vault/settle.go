package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityVault/internal/config"
	"liquidityVault/internal/events"
	"liquidityVault/internal/model"
	"liquidityVault/internal/pool"
	"liquidityVault/internal/scaling"
	"liquidityVault/internal/storage"
	"liquidityVault/internal/storage/postgres"
	"liquidityVault/internal/vault"
)

const flushEvery = 500

func runSettle(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSettle(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	defs, err := config.LoadPools(cfg.Pools)
	if err != nil {
		return err
	}
	vaultAddress, err := optionalAddress(cfg.VaultAddress)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	serveMetrics(ctx, cfg.MetricsAddr, reg, logger)

	v, err := vault.New(vault.Config{
		ProtocolSwapFeePercentage: cfg.ProtocolSwapFeePercentage,
		Metrics:                   vault.NewMetrics(reg),
	}, logger)
	if err != nil {
		return err
	}

	s := &settler{
		vault:    v,
		entries:  make(map[string]*poolEntry),
		position: events.Position{ChainID: cfg.ChainID, Vault: vaultAddress},
		logger:   logger,
	}

	receiptsOut := storage.NewJSONLStorage(cfg.Out)
	errorsOut := storage.NewJSONLStorage(cfg.Errors)
	for _, out := range []*storage.JSONLStorage{receiptsOut, errorsOut} {
		if err := out.Truncate(); err != nil {
			return err
		}
	}
	s.receipts = storage.Fanout{receiptsOut}
	s.rejections = storage.RejectionFanout{errorsOut}

	if cfg.Events != "" {
		s.events = storage.NewJSONLStorage(cfg.Events)
		if err := s.events.Truncate(); err != nil {
			return err
		}
	}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		s.receipts = append(s.receipts, store)
		s.rejections = append(s.rejections, store)
	}

	if err := s.register(ctx, defs); err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("settle start",
		zap.String("pools", cfg.Pools),
		zap.Int("pool_count", len(defs)),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("events", cfg.Events),
		zap.Bool("postgres", store != nil),
		zap.Stringer("protocol_swap_fee", cfg.ProtocolSwapFeePercentage),
	)

	err = storage.ScanJSONL(inputFile, func(lineNo int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.total++
		var rec model.SettlementRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return s.reject(ctx, model.Rejection{RequestID: requestID("", lineNo), Error: err.Error()})
		}
		return s.settle(ctx, lineNo, rec)
	})
	if err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		return err
	}

	if store != nil {
		if err := store.UpsertPools(ctx, storage.PoolRecords(v.Snapshot())); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}

	s.logBalances(defs)
	logger.Info("settle complete",
		zap.Int("total", s.total),
		zap.Int("accepted", s.accepted),
		zap.Int("rejected", s.rejected),
	)
	return nil
}

type settler struct {
	vault      *vault.Vault
	entries    map[string]*poolEntry
	receipts   storage.Fanout
	rejections storage.RejectionFanout
	events     *storage.JSONLStorage
	position   events.Position
	logger     *zap.Logger

	pendingReceipts   []model.ReceiptRecord
	pendingRejections []model.Rejection
	pendingLogs       []model.LogRecord

	total    int
	accepted int
	rejected int
}

// register adds every pool and indexes it by name and by pool id.
func (s *settler) register(ctx context.Context, defs []config.PoolDef) error {
	for _, def := range defs {
		id, err := s.vault.RegisterPool(vault.RegisterParams{
			ID:                def.ID,
			PoolAddress:       def.Address,
			Specialization:    def.Specialization,
			Tokens:            def.Tokens,
			Decimals:          def.Decimals,
			SwapFeePercentage: def.SwapFeePercentage,
		})
		if err != nil {
			return fmt.Errorf("register pool %s: %w", def.Name, err)
		}
		if def.Paused {
			if err := s.vault.Pause(id); err != nil {
				return err
			}
		}

		entry := &poolEntry{def: def, id: id}
		if def.HasShare() {
			scaler, err := s.vault.Scaler(id)
			if err != nil {
				return err
			}
			entry.scaffold, err = pool.New(pool.Pool{
				ID:      id,
				Kind:    def.Kind,
				Tokens:  def.Tokens,
				Roles:   def.Roles,
				Scaler:  scaler,
				Pricing: pool.Quoted{},
			})
			if err != nil {
				return fmt.Errorf("pool %s: %w", def.Name, err)
			}
		}
		s.entries[def.Name] = entry
		s.entries[strings.ToLower(id.String())] = entry

		if s.events != nil {
			logs, err := events.EncodeRegistration(id, def.Tokens.Addresses(), s.nextPosition(0))
			if err != nil {
				return err
			}
			s.position.LogIndex++
			s.pendingLogs = append(s.pendingLogs, logs...)
		}
	}
	return s.flush(ctx)
}

func (s *settler) settle(ctx context.Context, lineNo int, rec model.SettlementRecord) error {
	id := requestID(rec.ID, lineNo)
	rejection := model.Rejection{RequestID: id, Pool: rec.Pool, Op: rec.Op}

	entry, ok := s.entries[rec.Pool]
	if !ok {
		entry, ok = s.entries[strings.ToLower(rec.Pool)]
	}
	if !ok {
		rejection.Error = fmt.Errorf("%w: %s", vault.ErrUnknownPool, rec.Pool).Error()
		return s.reject(ctx, rejection)
	}

	req, err := entry.request(s.vault, rec)
	if err == nil {
		var receipt vault.Receipt
		receipt, err = s.vault.Settle(req)
		if err == nil {
			return s.accept(ctx, id, lineNo, receipt)
		}
	}
	rejection.Error = err.Error()
	s.logger.Debug("request rejected", zap.String("request_id", id), zap.String("pool", rec.Pool), zap.Error(err))
	return s.reject(ctx, rejection)
}

func (s *settler) accept(ctx context.Context, id string, lineNo int, receipt vault.Receipt) error {
	scaler, err := s.vault.Scaler(receipt.PoolID)
	if err != nil {
		return err
	}
	record, err := storage.NewReceiptRecord(receipt, scaler)
	if err != nil {
		return err
	}
	record.RequestID = id
	s.accepted++
	s.pendingReceipts = append(s.pendingReceipts, record)

	if s.events != nil {
		logs, err := events.EncodeReceipt(receipt, scaler, s.nextPosition(uint64(lineNo)))
		if err != nil {
			return fmt.Errorf("encode receipt %s: %w", id, err)
		}
		s.position.LogIndex += uint64(len(logs) - 1)
		s.pendingLogs = append(s.pendingLogs, logs...)
	}

	if len(s.pendingReceipts) >= flushEvery {
		return s.flush(ctx)
	}
	return nil
}

func (s *settler) reject(ctx context.Context, rejection model.Rejection) error {
	s.rejected++
	s.pendingRejections = append(s.pendingRejections, rejection)
	if len(s.pendingRejections) >= flushEvery {
		return s.flush(ctx)
	}
	return nil
}

func (s *settler) flush(ctx context.Context) error {
	if err := s.receipts.PutReceipts(ctx, s.pendingReceipts); err != nil {
		return fmt.Errorf("write receipts: %w", err)
	}
	if err := s.rejections.PutRejections(ctx, s.pendingRejections); err != nil {
		return fmt.Errorf("write rejections: %w", err)
	}
	if s.events != nil {
		if err := s.events.PutLogs(ctx, s.pendingLogs); err != nil {
			return fmt.Errorf("write events: %w", err)
		}
	}
	s.pendingReceipts = s.pendingReceipts[:0]
	s.pendingRejections = s.pendingRejections[:0]
	s.pendingLogs = s.pendingLogs[:0]
	return nil
}

// nextPosition places a log at block and advances the log index.
func (s *settler) nextPosition(block uint64) events.Position {
	pos := s.position
	pos.BlockNumber = block
	pos.TxHash = common.BigToHash(new(big.Int).SetUint64(block))
	s.position.LogIndex++
	return pos
}

func (s *settler) logBalances(defs []config.PoolDef) {
	for _, def := range defs {
		entry := s.entries[def.Name]
		view, err := s.vault.PoolTokens(entry.id)
		if err != nil {
			continue
		}
		balances := make([]string, len(view.Balances))
		for i, b := range view.Balances {
			balances[i] = scaling.FormatAmount(b, 18)
		}
		s.logger.Info("pool balances",
			zap.String("pool", def.Name),
			zap.Stringer("pool_id", entry.id),
			zap.Strings("balances", balances),
			zap.Uint64("last_change_block", view.LastChangeBlock),
		)
	}
}

func requestID(id string, lineNo int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("line-%d", lineNo)
}

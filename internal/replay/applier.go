package replay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityVault/internal/events"
	"liquidityVault/internal/model"
	"liquidityVault/internal/storage"
	"liquidityVault/internal/tokens"
	"liquidityVault/internal/vault"
)

const (
	resultApplied  = "applied"
	resultRejected = "rejected"
	resultSkipped  = "skipped"
)

// DecimalsResolver returns the native precision of each token. *erc20.Resolver satisfies it.
type DecimalsResolver interface {
	Decimals(ctx context.Context, tokens []common.Address) ([]uint8, error)
}

// EventSink stores decoded Vault events. *storage.JSONLStorage satisfies it.
type EventSink interface {
	PutEvents(ctx context.Context, events []model.TypedEvent) error
}

// Config wires the collaborators of an Applier. Receipts, Rejections, Events
// and Metrics may be nil.
type Config struct {
	Vault    *vault.Vault
	Decoder  *events.Decoder
	Decimals DecimalsResolver
	// SwapFeePercentage is assigned to replayed pools; pool contracts keep the real value.
	SwapFeePercentage *big.Int
	Receipts          storage.ReceiptSink
	Rejections        storage.RejectionSink
	Events            EventSink
	Metrics           *Metrics
}

// Applier rebuilds vault balances from Vault logs. It implements indexer.Handler.
type Applier struct {
	cfg     Config
	logger  *zap.Logger
	pending map[vault.PoolID]pendingPool
}

// pendingPool is a PoolRegistered event waiting for its TokensRegistered.
type pendingPool struct {
	poolAddress    common.Address
	specialization vault.Specialization
}

func NewApplier(cfg Config, logger *zap.Logger) (*Applier, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is nil")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if cfg.Decimals == nil {
		return nil, fmt.Errorf("decimals resolver is nil")
	}
	if cfg.SwapFeePercentage == nil {
		return nil, fmt.Errorf("swap fee percentage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[vault.PoolID]pendingPool),
	}, nil
}

// HandleLogs applies a batch of ordered logs. Settlements the vault rejects are
// recorded and skipped; resolver and sink failures abort the batch.
func (a *Applier) HandleLogs(ctx context.Context, logs []model.LogRecord) error {
	var (
		receipts   []model.ReceiptRecord
		rejections []model.Rejection
		decoded    []model.TypedEvent
	)

	for i := 0; i < len(logs); i++ {
		log := logs[i]
		if !a.cfg.Decoder.CanDecode(log.Topic0()) {
			a.cfg.Metrics.observe("unknown", resultSkipped)
			continue
		}
		event, err := a.cfg.Decoder.Decode(log)
		if err != nil {
			a.cfg.Metrics.observe("undecodable", resultRejected)
			rejections = append(rejections, a.reject(log, "", err))
			continue
		}
		decoded = append(decoded, event.Typed())

		var fee *events.Event
		if event.Swap != nil && i+1 < len(logs) {
			if next, ok := a.swapFee(event, logs[i+1]); ok {
				fee = &next
				decoded = append(decoded, next.Typed())
				i++
			}
		}

		var receipt *model.ReceiptRecord
		if event.Swap != nil {
			receipt, err = a.swap(event, fee)
		} else {
			receipt, err = a.apply(ctx, event)
		}
		result := resultApplied
		if err != nil {
			if !isLedgerError(err) {
				return fmt.Errorf("%s at %s: %w", event.Name, log.Key(), err)
			}
			result = resultRejected
			rejections = append(rejections, a.reject(log, event.PoolID.String(), err))
		} else if receipt != nil {
			receipts = append(receipts, *receipt)
		}
		a.cfg.Metrics.observe(event.Name, result)
		if fee != nil {
			a.cfg.Metrics.observe(fee.Name, result)
		}
	}

	if a.cfg.Receipts != nil && len(receipts) > 0 {
		if err := a.cfg.Receipts.PutReceipts(ctx, receipts); err != nil {
			return fmt.Errorf("write receipts: %w", err)
		}
	}
	if a.cfg.Events != nil && len(decoded) > 0 {
		if err := a.cfg.Events.PutEvents(ctx, decoded); err != nil {
			return fmt.Errorf("write events: %w", err)
		}
	}
	if a.cfg.Rejections != nil && len(rejections) > 0 {
		if err := a.cfg.Rejections.PutRejections(ctx, rejections); err != nil {
			return fmt.Errorf("write rejections: %w", err)
		}
	}
	return nil
}

func (a *Applier) apply(ctx context.Context, event events.Event) (*model.ReceiptRecord, error) {
	switch event.Name {
	case events.EventPoolRegistered:
		a.pending[event.PoolID] = pendingPool{
			poolAddress:    event.PoolRegistered.PoolAddress,
			specialization: event.PoolRegistered.Specialization,
		}
		return nil, nil
	case events.EventTokensRegistered:
		return nil, a.register(ctx, event)
	case events.EventPoolBalanceChanged:
		return a.balanceChanged(event)
	case events.EventSwap:
		return a.swap(event, nil)
	default:
		return nil, fmt.Errorf("%w: %s", events.ErrUnsupportedTopic, event.Name)
	}
}

func (a *Applier) register(ctx context.Context, event events.Event) error {
	if len(event.TokensRegistered.Tokens) == 0 {
		return fmt.Errorf("%w: no tokens registered", vault.ErrLengthMismatch)
	}
	list, err := tokens.Sort(event.TokensRegistered.Tokens)
	if err != nil {
		return err
	}
	decimals, err := a.cfg.Decimals.Decimals(ctx, list.Addresses())
	if err != nil {
		return fmt.Errorf("resolve decimals: %w", err)
	}

	pending, ok := a.pending[event.PoolID]
	if !ok {
		pending = pendingPool{poolAddress: event.PoolID.Address(), specialization: event.PoolID.Specialization()}
	}
	if _, err := a.cfg.Vault.RegisterPool(vault.RegisterParams{
		ID:                event.PoolID,
		PoolAddress:       pending.poolAddress,
		Specialization:    pending.specialization,
		Tokens:            list,
		Decimals:          decimals,
		SwapFeePercentage: a.cfg.SwapFeePercentage,
	}); err != nil {
		return err
	}
	delete(a.pending, event.PoolID)
	return nil
}

// balanceChanged applies a join when no delta is negative and an exit otherwise.
func (a *Applier) balanceChanged(event events.Event) (*model.ReceiptRecord, error) {
	changed := event.BalanceChanged
	list, err := a.cfg.Vault.TokenList(event.PoolID)
	if err != nil {
		return nil, err
	}
	scaler, err := a.cfg.Vault.Scaler(event.PoolID)
	if err != nil {
		return nil, err
	}

	exit := false
	for _, delta := range changed.Deltas {
		if delta.Sign() < 0 {
			exit = true
			break
		}
	}

	amounts := make([]*big.Int, list.Len())
	fees := make([]*big.Int, list.Len())
	for i, token := range changed.Tokens {
		idx, err := list.IndexOf(token)
		if err != nil {
			return nil, err
		}
		if amounts[idx] != nil {
			return nil, fmt.Errorf("%w: %s", tokens.ErrDuplicateToken, token.Hex())
		}
		amount := new(big.Int).Set(changed.Deltas[i])
		if exit {
			amount.Neg(amount)
		}
		if amounts[idx], err = scaler.Scale(amount, idx); err != nil {
			return nil, err
		}
		if fees[idx], err = scaler.Scale(changed.ProtocolFeeAmounts[i], idx); err != nil {
			return nil, err
		}
	}

	var receipt vault.Receipt
	if exit {
		receipt, err = a.cfg.Vault.ExitPool(event.PoolID, amounts, fees)
	} else {
		receipt, err = a.cfg.Vault.JoinPool(event.PoolID, amounts, fees)
	}
	if err != nil {
		return nil, err
	}
	receipt.Sender = changed.LiquidityProvider
	receipt.Recipient = changed.LiquidityProvider
	return a.record(receipt, event)
}

// swapFee reports whether next is the fee-only PoolBalanceChanged that follows
// a swap paying a protocol fee: same tx and pool, the next log index, zero
// deltas and a fee on the token in only.
func (a *Applier) swapFee(swap events.Event, next model.LogRecord) (events.Event, bool) {
	if next.TxHash != swap.Log.TxHash || next.LogIndex != swap.Log.LogIndex+1 {
		return events.Event{}, false
	}
	if !a.cfg.Decoder.CanDecode(next.Topic0()) {
		return events.Event{}, false
	}
	event, err := a.cfg.Decoder.Decode(next)
	if err != nil || event.BalanceChanged == nil || event.PoolID != swap.PoolID {
		return events.Event{}, false
	}
	changed := event.BalanceChanged
	if len(changed.Deltas) != len(changed.Tokens) || len(changed.ProtocolFeeAmounts) != len(changed.Tokens) {
		return events.Event{}, false
	}
	for i, token := range changed.Tokens {
		if changed.Deltas[i].Sign() != 0 {
			return events.Event{}, false
		}
		if token != swap.Swap.TokenIn && changed.ProtocolFeeAmounts[i].Sign() != 0 {
			return events.Event{}, false
		}
	}
	return event, true
}

// swap applies a Swap event. fee, when present, carries the protocol fee the
// source ledger drained from the token in.
func (a *Applier) swap(event events.Event, fee *events.Event) (*model.ReceiptRecord, error) {
	swap := event.Swap
	list, err := a.cfg.Vault.TokenList(event.PoolID)
	if err != nil {
		return nil, err
	}
	scaler, err := a.cfg.Vault.Scaler(event.PoolID)
	if err != nil {
		return nil, err
	}

	indexIn, err := list.IndexOf(swap.TokenIn)
	if err != nil {
		return nil, err
	}
	indexOut, err := list.IndexOf(swap.TokenOut)
	if err != nil {
		return nil, err
	}
	amountIn, err := scaler.Scale(swap.AmountIn, indexIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := scaler.Scale(swap.AmountOut, indexOut)
	if err != nil {
		return nil, err
	}

	leg := vault.SwapLeg{
		IndexIn:   indexIn,
		IndexOut:  indexOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
	}
	if fee != nil {
		changed := fee.BalanceChanged
		for i, token := range changed.Tokens {
			if token != swap.TokenIn {
				continue
			}
			if leg.ProtocolFee, err = scaler.Scale(changed.ProtocolFeeAmounts[i], indexIn); err != nil {
				return nil, err
			}
		}
	}

	receipt, err := a.cfg.Vault.Swap(event.PoolID, leg)
	if err != nil {
		return nil, err
	}
	return a.record(receipt, event)
}

func (a *Applier) record(receipt vault.Receipt, event events.Event) (*model.ReceiptRecord, error) {
	scaler, err := a.cfg.Vault.Scaler(receipt.PoolID)
	if err != nil {
		return nil, err
	}
	record, err := storage.NewReceiptRecord(receipt, scaler)
	if err != nil {
		return nil, err
	}
	record.RequestID = event.Log.Key()
	record.BlockNumber = event.Log.BlockNumber
	record.TxHash = event.Log.TxHash
	record.LogIndex = event.Log.LogIndex
	return &record, nil
}

func (a *Applier) reject(log model.LogRecord, poolID string, err error) model.Rejection {
	a.logger.Warn("log rejected",
		zap.Uint64("block_number", log.BlockNumber),
		zap.String("tx_hash", log.TxHash),
		zap.Uint64("log_index", log.LogIndex),
		zap.String("pool_id", poolID),
		zap.Error(err),
	)
	return model.Rejection{
		RequestID:   log.Key(),
		Pool:        poolID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Topic0:      log.Topic0(),
		Error:       err.Error(),
	}
}

// isLedgerError reports whether err is a vault-level rejection of the event.
func isLedgerError(err error) bool {
	for _, target := range []error{
		vault.ErrUnknownPool,
		vault.ErrAlreadyRegistered,
		vault.ErrLengthMismatch,
		vault.ErrInsufficientBalance,
		vault.ErrSameToken,
		vault.ErrPaused,
		vault.ErrNegativeAmount,
		vault.ErrNegativeProtocolFee,
		vault.ErrSwapFeeOutOfBounds,
		vault.ErrUnknownToken,
		vault.ErrDuplicateToken,
		vault.ErrOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

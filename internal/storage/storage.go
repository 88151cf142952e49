package storage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/model"
	"liquidityVault/internal/scaling"
	"liquidityVault/internal/vault"
)

// ReceiptSink stores accepted settlements.
type ReceiptSink interface {
	PutReceipts(ctx context.Context, receipts []model.ReceiptRecord) error
}

// RejectionSink stores settlements and logs that were not applied.
type RejectionSink interface {
	PutRejections(ctx context.Context, rejections []model.Rejection) error
}

// Fanout writes receipts to every sink in order, stopping at the first error.
type Fanout []ReceiptSink

func (f Fanout) PutReceipts(ctx context.Context, receipts []model.ReceiptRecord) error {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.PutReceipts(ctx, receipts); err != nil {
			return err
		}
	}
	return nil
}

// RejectionFanout writes rejections to every sink in order, stopping at the first error.
type RejectionFanout []RejectionSink

func (f RejectionFanout) PutRejections(ctx context.Context, rejections []model.Rejection) error {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.PutRejections(ctx, rejections); err != nil {
			return err
		}
	}
	return nil
}

// NewReceiptRecord renders a receipt with both internal and native amounts.
func NewReceiptRecord(receipt vault.Receipt, scaler *scaling.Scaler) (model.ReceiptRecord, error) {
	if scaler == nil {
		scaler = scaling.Identity(len(receipt.Tokens))
	}
	raw, err := scaler.UnscaleAll(receipt.Deltas)
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("unscale deltas: %w", err)
	}
	rawFees, err := scaler.UnscaleAll(receipt.ProtocolFeeAmounts)
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("unscale protocol fees: %w", err)
	}

	record := model.ReceiptRecord{
		PoolID:             receipt.PoolID.String(),
		Kind:               receipt.Kind.String(),
		Sender:             addressOrEmpty(receipt.Sender),
		Recipient:          addressOrEmpty(receipt.Recipient),
		Tokens:             hexAll(receipt.Tokens),
		Deltas:             stringAll(receipt.Deltas),
		RawDeltas:          stringAll(raw),
		ProtocolFeeAmounts: stringAll(receipt.ProtocolFeeAmounts),
		RawProtocolFees:    stringAll(rawFees),
		LastChangeBlock:    receipt.LastChangeBlock,
	}
	if receipt.Swap != nil {
		record.TokenIn = receipt.Swap.TokenIn.Hex()
		record.TokenOut = receipt.Swap.TokenOut.Hex()
		record.AmountIn = receipt.Swap.AmountIn.String()
		record.AmountOut = receipt.Swap.AmountOut.String()
	}
	return record, nil
}

// PoolRecords flattens a vault snapshot for storage.
func PoolRecords(snap vault.Snapshot) []model.Pool {
	out := make([]model.Pool, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		out = append(out, model.Pool{
			PoolID:            p.ID.String(),
			Address:           p.PoolAddress.Hex(),
			Specialization:    uint16(p.ID.Specialization()),
			Tokens:            hexAll(p.Tokens),
			Decimals:          p.Decimals,
			Balances:          p.Balances,
			SwapFeePercentage: p.SwapFeePercentage,
			LastChangeBlock:   p.LastChangeBlock,
			Paused:            p.Paused,
		})
	}
	return out
}

func addressOrEmpty(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func hexAll(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func stringAll(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = "0"
			continue
		}
		out[i] = v.String()
	}
	return out
}

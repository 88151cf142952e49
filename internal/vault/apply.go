package vault

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityVault/internal/scaling"
)

// Apply atomically sets balances[i] += deltas[i] - protocolFeeAmounts[i] for
// every token of the pool. Either every entry commits or none does.
func (v *Vault) Apply(id PoolID, kind Kind, deltas, protocolFeeAmounts []*big.Int) (Receipt, error) {
	return v.settle(SettlementRequest{
		PoolID:             id,
		Kind:               kind,
		Deltas:             deltas,
		ProtocolFeeAmounts: protocolFeeAmounts,
	}, false)
}

// JoinPool credits amountsIn to the pool.
func (v *Vault) JoinPool(id PoolID, amountsIn, protocolFeeAmounts []*big.Int) (Receipt, error) {
	if err := checkNonNegative(amountsIn); err != nil {
		return Receipt{}, err
	}
	return v.Apply(id, KindJoin, amountsIn, protocolFeeAmounts)
}

// ExitPool debits amountsOut from the pool. The receipt carries the negated amounts as deltas.
func (v *Vault) ExitPool(id PoolID, amountsOut, protocolFeeAmounts []*big.Int) (Receipt, error) {
	if err := checkNonNegative(amountsOut); err != nil {
		return Receipt{}, err
	}
	deltas := make([]*big.Int, len(amountsOut))
	for i, amount := range amountsOut {
		deltas[i] = new(big.Int)
		if amount != nil {
			deltas[i].Neg(amount)
		}
	}
	return v.Apply(id, KindExit, deltas, protocolFeeAmounts)
}

// Swap credits AmountIn at IndexIn and debits AmountOut at IndexOut. A share of
// the swap fee is drained from IndexIn when a protocol swap fee is configured,
// rounded down to whole native units of the token in.
func (v *Vault) Swap(id PoolID, leg SwapLeg) (Receipt, error) {
	return v.settle(SettlementRequest{PoolID: id, Kind: KindSwap, Swap: &leg}, false)
}

// Settle applies a request built by a pool scaffold. A request whose
// LastChangeBlock differs from the pool counter, older or ahead, is rejected
// with ErrStalePrice.
func (v *Vault) Settle(req SettlementRequest) (Receipt, error) {
	return v.settle(req, true)
}

func (v *Vault) settle(req SettlementRequest, checkStale bool) (receipt Receipt, err error) {
	started := time.Now()
	defer func() {
		v.cfg.Metrics.observe(req.Kind, started, err)
		if err != nil {
			v.logger.Debug("settlement rejected",
				zap.Stringer("pool_id", req.PoolID),
				zap.Stringer("kind", req.Kind),
				zap.Error(err),
			)
		}
	}()

	if req.Kind < KindJoin || req.Kind > KindSwap {
		return Receipt{}, fmt.Errorf("%w: %d", ErrInvalidKind, req.Kind)
	}

	rec, err := v.lookup(req.PoolID)
	if err != nil {
		return Receipt{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.paused {
		return Receipt{}, fmt.Errorf("%w: %s", ErrPaused, rec.id)
	}
	if checkStale && req.LastChangeBlock != rec.lastChangeBlock {
		return Receipt{}, fmt.Errorf("%w: priced at %d, pool at %d", ErrStalePrice, req.LastChangeBlock, rec.lastChangeBlock)
	}

	deltas, fees := req.Deltas, req.ProtocolFeeAmounts
	var swap *SwapReceipt
	if req.Kind == KindSwap {
		if req.Swap == nil {
			return Receipt{}, fmt.Errorf("%w: swap without a swap leg", ErrInvalidKind)
		}
		deltas, fees, swap, err = v.swapVectors(rec, *req.Swap)
		if err != nil {
			return Receipt{}, err
		}
	}

	return v.commit(rec, req, deltas, fees, swap)
}

func (v *Vault) swapVectors(rec *record, leg SwapLeg) ([]*big.Int, []*big.Int, *SwapReceipt, error) {
	if leg.IndexIn == leg.IndexOut {
		return nil, nil, nil, fmt.Errorf("%w: index %d", ErrSameToken, leg.IndexIn)
	}
	tokenIn, err := rec.tokens.At(leg.IndexIn)
	if err != nil {
		return nil, nil, nil, err
	}
	tokenOut, err := rec.tokens.At(leg.IndexOut)
	if err != nil {
		return nil, nil, nil, err
	}

	amountIn := orZero(leg.AmountIn)
	amountOut := orZero(leg.AmountOut)
	if amountIn.Sign() < 0 || amountOut.Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("%w: swap in %s out %s", ErrNegativeAmount, amountIn, amountOut)
	}

	n := rec.tokens.Len()
	deltas := zeros(n)
	fees := zeros(n)
	deltas[leg.IndexIn].Set(amountIn)
	deltas[leg.IndexOut].Neg(amountOut)

	switch {
	case leg.ProtocolFee != nil:
		if leg.ProtocolFee.Sign() < 0 {
			return nil, nil, nil, fmt.Errorf("%w: swap fee %s", ErrNegativeProtocolFee, leg.ProtocolFee)
		}
		fees[leg.IndexIn].Set(leg.ProtocolFee)
	case v.cfg.ProtocolSwapFeePercentage.Sign() > 0:
		fee, err := v.protocolSwapFee(rec, leg.IndexIn, amountIn)
		if err != nil {
			return nil, nil, nil, err
		}
		fees[leg.IndexIn] = fee
	}

	return deltas, fees, &SwapReceipt{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
	}, nil
}

// protocolSwapFee is MulDown(MulUp(amountIn, swapFee), protocolPct) truncated
// to whole native units of the token at index.
func (v *Vault) protocolSwapFee(rec *record, index int, amountIn *big.Int) (*big.Int, error) {
	swapFeeAmount, err := scaling.MulUp(amountIn, rec.swapFee)
	if err != nil {
		return nil, err
	}
	fee, err := scaling.MulDown(swapFeeAmount, v.cfg.ProtocolSwapFeePercentage)
	if err != nil {
		return nil, err
	}
	raw, err := rec.scaler.Unscale(fee, index)
	if err != nil {
		return nil, err
	}
	return rec.scaler.Scale(raw, index)
}

// commit validates the full vector before replacing any balance. rec.mu must be held.
func (v *Vault) commit(rec *record, req SettlementRequest, deltas, fees []*big.Int, swap *SwapReceipt) (Receipt, error) {
	n := rec.tokens.Len()
	if len(deltas) != n || len(fees) != n {
		return Receipt{}, fmt.Errorf("%w: %d deltas and %d protocol fees for %d tokens", ErrLengthMismatch, len(deltas), len(fees), n)
	}

	next := make([]*uint256.Int, n)
	for i := 0; i < n; i++ {
		delta := orZero(deltas[i])
		fee := orZero(fees[i])
		if fee.Sign() < 0 {
			return Receipt{}, fmt.Errorf("%w: index %d amount %s", ErrNegativeProtocolFee, i, fee)
		}

		balance := rec.balances[i].ToBig()
		balance.Add(balance, delta)
		balance.Sub(balance, fee)
		if balance.Sign() < 0 {
			token, _ := rec.tokens.At(i)
			return Receipt{}, fmt.Errorf("%w: token %s balance %s delta %s fee %s",
				ErrInsufficientBalance, token.Hex(), rec.balances[i].ToBig(), delta, fee)
		}
		u, overflow := uint256.FromBig(balance)
		if overflow {
			return Receipt{}, fmt.Errorf("%w: balance at index %d", ErrOverflow, i)
		}
		next[i] = u
	}

	rec.balances = next
	rec.lastChangeBlock++

	receipt := Receipt{
		PoolID:             rec.id,
		Kind:               req.Kind,
		Sender:             req.Sender,
		Recipient:          req.Recipient,
		Tokens:             rec.tokens.Addresses(),
		Deltas:             copyAmounts(deltas),
		ProtocolFeeAmounts: copyAmounts(fees),
		LastChangeBlock:    rec.lastChangeBlock,
		Swap:               swap,
	}

	v.logger.Debug("settlement applied",
		zap.Stringer("pool_id", rec.id),
		zap.Stringer("kind", req.Kind),
		zap.Uint64("last_change_block", rec.lastChangeBlock),
	)
	return receipt, nil
}

func checkNonNegative(amounts []*big.Int) error {
	for i, amount := range amounts {
		if amount != nil && amount.Sign() < 0 {
			return fmt.Errorf("%w: index %d amount %s", ErrNegativeAmount, i, amount)
		}
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func zeros(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}

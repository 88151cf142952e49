package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/vault"
)

// InitParams seeds an empty pool. Amounts are in native token units.
type InitParams struct {
	InitialBalances           Amounts
	Sender                    common.Address
	Recipient                 common.Address
	ProtocolSwapFeePercentage *big.Int
}

// JoinParams adds liquidity. Amounts are in native token units.
type JoinParams struct {
	AmountsIn                 Amounts
	Sender                    common.Address
	Recipient                 common.Address
	LastChangeBlock           uint64
	ProtocolSwapFeePercentage *big.Int
}

// ExitGivenOutParams removes liquidity for the desired amounts out.
type ExitGivenOutParams struct {
	AmountsOut                Amounts
	ShareAmountIn             *big.Int
	Sender                    common.Address
	Recipient                 common.Address
	LastChangeBlock           uint64
	ProtocolSwapFeePercentage *big.Int
}

// SwapParams fixes one side of a swap. Amount is in native units of the fixed token.
type SwapParams struct {
	IndexIn         int
	IndexOut        int
	Amount          *big.Int
	Sender          common.Address
	Recipient       common.Address
	LastChangeBlock uint64
}

type JoinResult struct {
	Request            vault.SettlementRequest
	AmountsIn          []*big.Int
	ProtocolFeeAmounts []*big.Int
}

type ExitResult struct {
	Request            vault.SettlementRequest
	AmountsOut         []*big.Int
	ProtocolFeeAmounts []*big.Int
}

// SwapResult carries both legs in internal units.
type SwapResult struct {
	Request   vault.SettlementRequest
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Init prices the first join of a pool whose balances are all zero.
func (p *Pool) Init(view vault.PoolTokens, params InitParams) (JoinResult, error) {
	if err := p.checkView(view, view.LastChangeBlock); err != nil {
		return JoinResult{}, err
	}
	for i, b := range view.Balances {
		if b.Sign() != 0 {
			return JoinResult{}, fmt.Errorf("%w: balance at index %d is %s", ErrAlreadyInitialized, i, b)
		}
	}
	return p.join(view, true, params.InitialBalances, params.Sender, params.Recipient, params.ProtocolSwapFeePercentage)
}

// Join prices a join against the view.
func (p *Pool) Join(view vault.PoolTokens, params JoinParams) (JoinResult, error) {
	if err := p.checkView(view, params.LastChangeBlock); err != nil {
		return JoinResult{}, err
	}
	return p.join(view, false, params.AmountsIn, params.Sender, params.Recipient, params.ProtocolSwapFeePercentage)
}

func (p *Pool) join(view vault.PoolTokens, init bool, amounts Amounts, sender, recipient common.Address, protocolFee *big.Int) (JoinResult, error) {
	indexes, err := p.RoleIndexes()
	if err != nil {
		return JoinResult{}, err
	}
	amountsIn, err := p.scaleAmounts(amounts)
	if err != nil {
		return JoinResult{}, err
	}

	priced, err := p.Pricing.OnJoin(JoinQuote{
		PoolID:                    p.ID,
		Init:                      init,
		Indexes:                   indexes,
		Balances:                  view.Balances,
		AmountsIn:                 amountsIn,
		LastChangeBlock:           view.LastChangeBlock,
		ProtocolSwapFeePercentage: orZero(protocolFee),
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("price join: %w", err)
	}
	deltas, fees, err := p.checkSettlement(priced)
	if err != nil {
		return JoinResult{}, err
	}

	return JoinResult{
		Request: vault.SettlementRequest{
			PoolID:             p.ID,
			Kind:               vault.KindJoin,
			Deltas:             deltas,
			ProtocolFeeAmounts: fees,
			Sender:             sender,
			Recipient:          recipient,
			LastChangeBlock:    view.LastChangeBlock,
		},
		AmountsIn:          copyAll(deltas),
		ProtocolFeeAmounts: copyAll(fees),
	}, nil
}

// ExitGivenOut prices an exit. The request deltas are the negated pricing output.
func (p *Pool) ExitGivenOut(view vault.PoolTokens, params ExitGivenOutParams) (ExitResult, error) {
	if err := p.checkView(view, params.LastChangeBlock); err != nil {
		return ExitResult{}, err
	}
	indexes, err := p.RoleIndexes()
	if err != nil {
		return ExitResult{}, err
	}
	amountsOut, err := p.scaleAmounts(params.AmountsOut)
	if err != nil {
		return ExitResult{}, err
	}
	shareIn, err := p.Scaler.Scale(params.ShareAmountIn, indexes.Share)
	if err != nil {
		return ExitResult{}, err
	}
	if shareIn.Sign() < 0 {
		return ExitResult{}, fmt.Errorf("%w: share amount in %s", vault.ErrNegativeAmount, shareIn)
	}

	priced, err := p.Pricing.OnExit(ExitQuote{
		PoolID:                    p.ID,
		Indexes:                   indexes,
		Balances:                  view.Balances,
		AmountsOut:                amountsOut,
		ShareAmountIn:             shareIn,
		LastChangeBlock:           view.LastChangeBlock,
		ProtocolSwapFeePercentage: orZero(params.ProtocolSwapFeePercentage),
	})
	if err != nil {
		return ExitResult{}, fmt.Errorf("price exit: %w", err)
	}
	out, fees, err := p.checkSettlement(priced)
	if err != nil {
		return ExitResult{}, err
	}

	deltas := make([]*big.Int, len(out))
	for i, amount := range out {
		deltas[i] = new(big.Int).Neg(amount)
	}
	return ExitResult{
		Request: vault.SettlementRequest{
			PoolID:             p.ID,
			Kind:               vault.KindExit,
			Deltas:             deltas,
			ProtocolFeeAmounts: fees,
			Sender:             params.Sender,
			Recipient:          params.Recipient,
			LastChangeBlock:    view.LastChangeBlock,
		},
		AmountsOut:         out,
		ProtocolFeeAmounts: copyAll(fees),
	}, nil
}

// AmountsOut negates the deltas of an exit receipt back into positive amounts.
func AmountsOut(receipt vault.Receipt) []*big.Int {
	out := make([]*big.Int, len(receipt.Deltas))
	for i, d := range receipt.Deltas {
		out[i] = new(big.Int).Neg(d)
	}
	return out
}

// SwapGivenIn fixes the amount in and asks the pricing function for the amount out.
func (p *Pool) SwapGivenIn(view vault.PoolTokens, params SwapParams) (SwapResult, error) {
	return p.swap(view, GivenIn, params)
}

// SwapGivenOut fixes the amount out and asks the pricing function for the amount in.
func (p *Pool) SwapGivenOut(view vault.PoolTokens, params SwapParams) (SwapResult, error) {
	return p.swap(view, GivenOut, params)
}

func (p *Pool) swap(view vault.PoolTokens, kind SwapKind, params SwapParams) (SwapResult, error) {
	if err := p.checkView(view, params.LastChangeBlock); err != nil {
		return SwapResult{}, err
	}
	if params.IndexIn == params.IndexOut {
		return SwapResult{}, fmt.Errorf("%w: index %d", vault.ErrSameToken, params.IndexIn)
	}
	if _, err := p.Tokens.At(params.IndexIn); err != nil {
		return SwapResult{}, fmt.Errorf("token in: %w", err)
	}
	if _, err := p.Tokens.At(params.IndexOut); err != nil {
		return SwapResult{}, fmt.Errorf("token out: %w", err)
	}

	fixedIndex := params.IndexIn
	if kind == GivenOut {
		fixedIndex = params.IndexOut
	}
	amount, err := p.Scaler.Scale(params.Amount, fixedIndex)
	if err != nil {
		return SwapResult{}, err
	}
	if amount.Sign() < 0 {
		return SwapResult{}, fmt.Errorf("%w: swap amount %s", vault.ErrNegativeAmount, amount)
	}

	calculated, err := p.Pricing.OnSwap(SwapQuote{
		PoolID:            p.ID,
		Kind:              kind,
		IndexIn:           params.IndexIn,
		IndexOut:          params.IndexOut,
		Amount:            amount,
		Balances:          view.Balances,
		LastChangeBlock:   view.LastChangeBlock,
		SwapFeePercentage: view.SwapFeePercentage,
	})
	if err != nil {
		return SwapResult{}, fmt.Errorf("price swap %s: %w", kind, err)
	}
	if calculated == nil || calculated.Sign() < 0 {
		return SwapResult{}, fmt.Errorf("%w: priced swap amount %v", vault.ErrNegativeAmount, calculated)
	}

	amountIn, amountOut := amount, new(big.Int).Set(calculated)
	if kind == GivenOut {
		amountIn, amountOut = amountOut, amountIn
	}
	return SwapResult{
		Request: vault.SettlementRequest{
			PoolID: p.ID,
			Kind:   vault.KindSwap,
			Swap: &vault.SwapLeg{
				IndexIn:   params.IndexIn,
				IndexOut:  params.IndexOut,
				AmountIn:  amountIn,
				AmountOut: amountOut,
			},
			Sender:          params.Sender,
			Recipient:       params.Recipient,
			LastChangeBlock: view.LastChangeBlock,
		},
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
	}, nil
}

func (p *Pool) scaleAmounts(a Amounts) ([]*big.Int, error) {
	raw, err := a.Broadcast(p.Tokens.Len())
	if err != nil {
		return nil, err
	}
	for i, v := range raw {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: index %d amount %s", vault.ErrNegativeAmount, i, v)
		}
	}
	return p.Scaler.ScaleAll(raw)
}

// checkSettlement normalizes pricing output into aligned non-negative vectors.
func (p *Pool) checkSettlement(s Settlement) ([]*big.Int, []*big.Int, error) {
	n := p.Tokens.Len()
	if len(s.Amounts) != n {
		return nil, nil, fmt.Errorf("%w: pricing returned %d amounts for %d tokens", vault.ErrLengthMismatch, len(s.Amounts), n)
	}
	fees := s.ProtocolFeeAmounts
	if fees == nil {
		fees = make([]*big.Int, n)
	}
	if len(fees) != n {
		return nil, nil, fmt.Errorf("%w: pricing returned %d protocol fees for %d tokens", vault.ErrLengthMismatch, len(fees), n)
	}

	amounts := copyAll(s.Amounts)
	fees = copyAll(fees)
	for i := 0; i < n; i++ {
		if amounts[i].Sign() < 0 {
			return nil, nil, fmt.Errorf("%w: priced amount at index %d is %s", vault.ErrNegativeAmount, i, amounts[i])
		}
		if fees[i].Sign() < 0 {
			return nil, nil, fmt.Errorf("%w: index %d amount %s", vault.ErrNegativeProtocolFee, i, fees[i])
		}
	}
	return amounts, fees, nil
}

func copyAll(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = orZero(v)
	}
	return out
}

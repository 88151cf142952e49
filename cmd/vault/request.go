package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/config"
	"liquidityVault/internal/model"
	"liquidityVault/internal/pool"
	"liquidityVault/internal/scaling"
	"liquidityVault/internal/vault"
)

const (
	opInit         = "init"
	opJoin         = "join"
	opExit         = "exit"
	opSwapGivenIn  = "swap_given_in"
	opSwapGivenOut = "swap_given_out"
	opApply        = "apply"
)

// poolEntry is a registered pool. scaffold is nil for pools without a share token.
type poolEntry struct {
	def      config.PoolDef
	id       vault.PoolID
	scaffold *pool.Pool
}

// request converts a raw-unit settlement record into a vault request.
func (e *poolEntry) request(v *vault.Vault, rec model.SettlementRecord) (vault.SettlementRequest, error) {
	view, err := v.PoolTokens(e.id)
	if err != nil {
		return vault.SettlementRequest{}, err
	}
	scaler, err := v.Scaler(e.id)
	if err != nil {
		return vault.SettlementRequest{}, err
	}

	pricedAt := view.LastChangeBlock
	if rec.LastChangeBlock != nil {
		pricedAt = *rec.LastChangeBlock
	}
	sender, err := optionalAddress(rec.Sender)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := optionalAddress(rec.Recipient)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("recipient: %w", err)
	}
	fees, err := e.protocolFees(scaler, rec.ProtocolFeeAmounts)
	if err != nil {
		return vault.SettlementRequest{}, err
	}

	op := strings.ToLower(strings.TrimSpace(rec.Op))
	switch op {
	case opApply:
		return e.applyRequest(scaler, rec, fees, sender, recipient, pricedAt)
	case opInit, opJoin, opExit:
		amounts, err := parseAmounts(rec.Amounts)
		if err != nil {
			return vault.SettlementRequest{}, err
		}
		if e.scaffold != nil {
			return e.scaffoldLiquidity(view, op, amounts, rec, fees, sender, recipient, pricedAt)
		}
		if op == opInit {
			return vault.SettlementRequest{}, fmt.Errorf("init requires a pool with a share token")
		}
		return e.directLiquidity(scaler, op, amounts, fees, sender, recipient, pricedAt)
	case opSwapGivenIn, opSwapGivenOut:
		return e.swapRequest(view, scaler, op, rec, sender, recipient, pricedAt)
	default:
		return vault.SettlementRequest{}, fmt.Errorf("%w: op %q", vault.ErrInvalidKind, rec.Op)
	}
}

func (e *poolEntry) scaffoldLiquidity(view vault.PoolTokens, op string, amounts pool.Amounts, rec model.SettlementRecord, fees []*big.Int, sender, recipient common.Address, pricedAt uint64) (vault.SettlementRequest, error) {
	p := *e.scaffold
	p.Pricing = pool.Quoted{ProtocolFeeAmounts: fees}

	switch op {
	case opInit:
		result, err := p.Init(view, pool.InitParams{InitialBalances: amounts, Sender: sender, Recipient: recipient})
		return result.Request, err
	case opJoin:
		result, err := p.Join(view, pool.JoinParams{AmountsIn: amounts, Sender: sender, Recipient: recipient, LastChangeBlock: pricedAt})
		return result.Request, err
	default:
		shareIn, err := parseAmount(rec.ShareAmountIn)
		if err != nil {
			return vault.SettlementRequest{}, fmt.Errorf("share_amount_in: %w", err)
		}
		result, err := p.ExitGivenOut(view, pool.ExitGivenOutParams{
			AmountsOut:      amounts,
			ShareAmountIn:   shareIn,
			Sender:          sender,
			Recipient:       recipient,
			LastChangeBlock: pricedAt,
		})
		return result.Request, err
	}
}

func (e *poolEntry) directLiquidity(scaler *scaling.Scaler, op string, amounts pool.Amounts, fees []*big.Int, sender, recipient common.Address, pricedAt uint64) (vault.SettlementRequest, error) {
	raw, err := amounts.Broadcast(e.def.Tokens.Len())
	if err != nil {
		return vault.SettlementRequest{}, err
	}
	for i, amount := range raw {
		if amount.Sign() < 0 {
			return vault.SettlementRequest{}, fmt.Errorf("%w: index %d amount %s", vault.ErrNegativeAmount, i, amount)
		}
	}
	deltas, err := scaler.ScaleAll(raw)
	if err != nil {
		return vault.SettlementRequest{}, err
	}

	kind := vault.KindJoin
	if op == opExit {
		kind = vault.KindExit
		for _, d := range deltas {
			d.Neg(d)
		}
	}
	return vault.SettlementRequest{
		PoolID:             e.id,
		Kind:               kind,
		Deltas:             deltas,
		ProtocolFeeAmounts: fees,
		Sender:             sender,
		Recipient:          recipient,
		LastChangeBlock:    pricedAt,
	}, nil
}

// applyRequest takes signed deltas. It is a join when no delta is negative.
func (e *poolEntry) applyRequest(scaler *scaling.Scaler, rec model.SettlementRecord, fees []*big.Int, sender, recipient common.Address, pricedAt uint64) (vault.SettlementRequest, error) {
	raw, err := parseBigInts(rec.Amounts)
	if err != nil {
		return vault.SettlementRequest{}, err
	}
	deltas, err := scaler.ScaleAll(raw)
	if err != nil {
		return vault.SettlementRequest{}, err
	}
	kind := vault.KindJoin
	for _, d := range deltas {
		if d.Sign() < 0 {
			kind = vault.KindExit
			break
		}
	}
	return vault.SettlementRequest{
		PoolID:             e.id,
		Kind:               kind,
		Deltas:             deltas,
		ProtocolFeeAmounts: fees,
		Sender:             sender,
		Recipient:          recipient,
		LastChangeBlock:    pricedAt,
	}, nil
}

// swapRequest fixes Amount on one side and takes the counterpart from Quoted.
func (e *poolEntry) swapRequest(view vault.PoolTokens, scaler *scaling.Scaler, op string, rec model.SettlementRecord, sender, recipient common.Address, pricedAt uint64) (vault.SettlementRequest, error) {
	indexIn, err := e.tokenIndex(rec.TokenIn)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("token_in: %w", err)
	}
	indexOut, err := e.tokenIndex(rec.TokenOut)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("token_out: %w", err)
	}
	amount, err := parseAmount(rec.Amount)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("amount: %w", err)
	}
	if strings.TrimSpace(rec.Quoted) == "" {
		return vault.SettlementRequest{}, fmt.Errorf("quoted is required for %s", op)
	}
	quotedRaw, err := parseAmount(rec.Quoted)
	if err != nil {
		return vault.SettlementRequest{}, fmt.Errorf("quoted: %w", err)
	}

	counterpart := indexOut
	if op == opSwapGivenOut {
		counterpart = indexIn
	}
	quoted, err := scaler.Scale(quotedRaw, counterpart)
	if err != nil {
		return vault.SettlementRequest{}, err
	}

	p := e.scaffold
	if p == nil {
		p = &pool.Pool{ID: e.id, Tokens: e.def.Tokens, Scaler: scaler}
	} else {
		copied := *p
		p = &copied
	}
	p.Pricing = pool.Quoted{Calculated: quoted}

	params := pool.SwapParams{
		IndexIn:         indexIn,
		IndexOut:        indexOut,
		Amount:          amount,
		Sender:          sender,
		Recipient:       recipient,
		LastChangeBlock: pricedAt,
	}
	var result pool.SwapResult
	if op == opSwapGivenIn {
		result, err = p.SwapGivenIn(view, params)
	} else {
		result, err = p.SwapGivenOut(view, params)
	}
	return result.Request, err
}

func (e *poolEntry) tokenIndex(token string) (int, error) {
	if !common.IsHexAddress(token) {
		return 0, fmt.Errorf("invalid token address %q", token)
	}
	return e.def.Tokens.IndexOf(common.HexToAddress(token))
}

func (e *poolEntry) protocolFees(scaler *scaling.Scaler, values []string) ([]*big.Int, error) {
	if len(values) == 0 {
		fees := make([]*big.Int, e.def.Tokens.Len())
		for i := range fees {
			fees[i] = new(big.Int)
		}
		return fees, nil
	}
	raw, err := parseBigInts(values)
	if err != nil {
		return nil, fmt.Errorf("protocol_fee_amounts: %w", err)
	}
	fees, err := scaler.ScaleAll(raw)
	if err != nil {
		return nil, fmt.Errorf("protocol_fee_amounts: %w", err)
	}
	return fees, nil
}

// parseAmounts reads a single value as a scalar broadcast to every token.
func parseAmounts(values []string) (pool.Amounts, error) {
	raw, err := parseBigInts(values)
	if err != nil {
		return pool.Amounts{}, err
	}
	if len(raw) == 1 {
		return pool.Scalar(raw[0]), nil
	}
	return pool.Vector(raw...), nil
}

func parseBigInts(values []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(values))
	for i, s := range values {
		v, err := parseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func optionalAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

package vault

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the settlement operation type.
type Kind uint8

const (
	KindJoin Kind = iota + 1
	KindExit
	KindSwap
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindExit:
		return "exit"
	case KindSwap:
		return "swap"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts join, exit or swap in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "join":
		return KindJoin, nil
	case "exit":
		return KindExit, nil
	case "swap":
		return KindSwap, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// SwapLeg describes the two token positions touched by a swap.
type SwapLeg struct {
	IndexIn   int
	IndexOut  int
	AmountIn  *big.Int
	AmountOut *big.Int
	// ProtocolFee, when set, is drained at IndexIn instead of the fee derived
	// from the protocol swap fee percentage. Replay sets it from recorded logs.
	ProtocolFee *big.Int
}

// SettlementRequest is one join, exit or swap to be applied to a pool.
// Amounts are in internal units and aligned to the pool token list.
type SettlementRequest struct {
	PoolID             PoolID
	Kind               Kind
	Deltas             []*big.Int
	ProtocolFeeAmounts []*big.Int
	Swap               *SwapLeg
	Sender             common.Address
	Recipient          common.Address
	// LastChangeBlock is the pool counter the request was priced against.
	LastChangeBlock uint64
}

// Receipt is the record of an accepted settlement. The vault never mutates a
// receipt after returning it and shares no amount pointers with its state.
type Receipt struct {
	PoolID             PoolID
	Kind               Kind
	Sender             common.Address
	Recipient          common.Address
	Tokens             []common.Address
	Deltas             []*big.Int
	ProtocolFeeAmounts []*big.Int
	LastChangeBlock    uint64
	Swap               *SwapReceipt
}

// SwapReceipt is the swap-specific part of a receipt.
type SwapReceipt struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// PoolTokens is a point-in-time view of a pool.
type PoolTokens struct {
	PoolID            PoolID
	PoolAddress       common.Address
	Tokens            []common.Address
	Balances          []*big.Int
	LastChangeBlock   uint64
	SwapFeePercentage *big.Int
	Paused            bool
}

// TokenInfo is the per-token view returned by PoolTokenInfo.
type TokenInfo struct {
	Index           int
	Balance         *big.Int
	LastChangeBlock uint64
}

func copyAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = new(big.Int)
			continue
		}
		out[i] = new(big.Int).Set(v)
	}
	return out
}

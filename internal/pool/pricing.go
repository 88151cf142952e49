package pool

import (
	"fmt"
	"math/big"

	"liquidityVault/internal/vault"
)

// SwapKind selects which side of a swap the caller fixes.
type SwapKind uint8

const (
	GivenIn SwapKind = iota
	GivenOut
)

func (k SwapKind) String() string {
	if k == GivenOut {
		return "given_out"
	}
	return "given_in"
}

// Pricing is the pool-specific pricing function. All amounts are in internal
// units. Implementations must not retain or mutate the slices they receive.
type Pricing interface {
	// OnSwap returns the amount out for GivenIn, or the amount in for GivenOut.
	OnSwap(q SwapQuote) (*big.Int, error)
	// OnJoin returns the amounts credited to the pool, share mint included.
	OnJoin(q JoinQuote) (Settlement, error)
	// OnExit returns the amounts leaving the pool as positive values, share burn included.
	OnExit(q ExitQuote) (Settlement, error)
}

// SwapQuote is passed to Pricing.OnSwap.
type SwapQuote struct {
	PoolID            vault.PoolID
	Kind              SwapKind
	IndexIn           int
	IndexOut          int
	Amount            *big.Int
	Balances          []*big.Int
	LastChangeBlock   uint64
	SwapFeePercentage *big.Int
}

// JoinQuote is passed to Pricing.OnJoin. Init is set for the first join.
type JoinQuote struct {
	PoolID                    vault.PoolID
	Init                      bool
	Indexes                   Indexes
	Balances                  []*big.Int
	AmountsIn                 []*big.Int
	LastChangeBlock           uint64
	ProtocolSwapFeePercentage *big.Int
}

// ExitQuote is passed to Pricing.OnExit.
type ExitQuote struct {
	PoolID                    vault.PoolID
	Indexes                   Indexes
	Balances                  []*big.Int
	AmountsOut                []*big.Int
	ShareAmountIn             *big.Int
	LastChangeBlock           uint64
	ProtocolSwapFeePercentage *big.Int
}

// Settlement is a priced token vector plus the protocol fees due.
type Settlement struct {
	Amounts            []*big.Int
	ProtocolFeeAmounts []*big.Int
}

// Amounts is either one value for every token or a per-token vector.
type Amounts struct {
	Scalar *big.Int
	Vector []*big.Int
}

func Scalar(v *big.Int) Amounts { return Amounts{Scalar: v} }

func Vector(vs ...*big.Int) Amounts { return Amounts{Vector: vs} }

// Broadcast expands the amounts to n entries. A vector must already have n entries.
func (a Amounts) Broadcast(n int) ([]*big.Int, error) {
	if a.Vector != nil {
		if len(a.Vector) != n {
			return nil, fmt.Errorf("%w: %d amounts for %d tokens", vault.ErrLengthMismatch, len(a.Vector), n)
		}
		out := make([]*big.Int, n)
		for i, v := range a.Vector {
			out[i] = orZero(v)
		}
		return out, nil
	}
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = orZero(a.Scalar)
	}
	return out, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

package pool

import (
	"errors"
	"math/big"
)

var ErrNoQuote = errors.New("no quoted swap amount")

// Quoted is a Pricing that accepts amounts priced elsewhere. Join and exit
// vectors pass through unchanged; swaps return Calculated.
type Quoted struct {
	Calculated         *big.Int
	ProtocolFeeAmounts []*big.Int
}

func (q Quoted) OnSwap(SwapQuote) (*big.Int, error) {
	if q.Calculated == nil {
		return nil, ErrNoQuote
	}
	return new(big.Int).Set(q.Calculated), nil
}

func (q Quoted) OnJoin(in JoinQuote) (Settlement, error) {
	return Settlement{Amounts: in.AmountsIn, ProtocolFeeAmounts: q.fees(len(in.AmountsIn))}, nil
}

func (q Quoted) OnExit(in ExitQuote) (Settlement, error) {
	return Settlement{Amounts: in.AmountsOut, ProtocolFeeAmounts: q.fees(len(in.AmountsOut))}, nil
}

func (q Quoted) fees(n int) []*big.Int {
	if q.ProtocolFeeAmounts != nil {
		return q.ProtocolFeeAmounts
	}
	return make([]*big.Int, n)
}

package scaling

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// InternalDecimals is the precision every amount is normalized to before it reaches the ledger.
const InternalDecimals = 18

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrLengthMismatch = errors.New("scaling length mismatch")
	ErrDecimals       = errors.New("unsupported token decimals")
)

// Scaler converts raw token amounts to the internal unit and back.
type Scaler struct {
	decimals []uint8
	factors  []*uint256.Int
}

// NewScaler precomputes 10^(18-decimals) for each token position.
func NewScaler(decimals []uint8) (*Scaler, error) {
	factors := make([]*uint256.Int, len(decimals))
	for i, d := range decimals {
		if d > InternalDecimals {
			return nil, fmt.Errorf("%w: index %d has %d decimals", ErrDecimals, i, d)
		}
		factors[i] = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(InternalDecimals-d)))
	}
	out := make([]uint8, len(decimals))
	copy(out, decimals)
	return &Scaler{decimals: out, factors: factors}, nil
}

// Identity returns a scaler for n tokens already expressed in internal units.
func Identity(n int) *Scaler {
	decimals := make([]uint8, n)
	for i := range decimals {
		decimals[i] = InternalDecimals
	}
	s, _ := NewScaler(decimals)
	return s
}

func (s *Scaler) Len() int {
	return len(s.factors)
}

// Decimals returns the native precision of the token at index.
func (s *Scaler) Decimals(index int) (uint8, error) {
	if index < 0 || index >= len(s.decimals) {
		return 0, fmt.Errorf("scaling index %d out of range", index)
	}
	return s.decimals[index], nil
}

// Factors returns the scaling factors as big integers.
func (s *Scaler) Factors() []*big.Int {
	out := make([]*big.Int, len(s.factors))
	for i, f := range s.factors {
		out[i] = f.ToBig()
	}
	return out
}

// Scale converts a signed raw amount into internal units.
func (s *Scaler) Scale(raw *big.Int, index int) (*big.Int, error) {
	if index < 0 || index >= len(s.factors) {
		return nil, fmt.Errorf("scaling index %d out of range", index)
	}
	if raw == nil || raw.Sign() == 0 {
		return new(big.Int), nil
	}

	abs, err := toUint(raw)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(abs, s.factors[index])
	if overflow {
		return nil, fmt.Errorf("%w: scale %s at index %d", ErrOverflow, raw.String(), index)
	}
	return withSign(scaled, raw.Sign()), nil
}

// Unscale converts an internal amount back to raw units, rounding toward zero.
func (s *Scaler) Unscale(internal *big.Int, index int) (*big.Int, error) {
	if index < 0 || index >= len(s.factors) {
		return nil, fmt.Errorf("scaling index %d out of range", index)
	}
	if internal == nil || internal.Sign() == 0 {
		return new(big.Int), nil
	}

	abs, err := toUint(internal)
	if err != nil {
		return nil, err
	}
	raw := new(uint256.Int).Div(abs, s.factors[index])
	return withSign(raw, internal.Sign()), nil
}

// ScaleAll scales a vector aligned to the token list.
func (s *Scaler) ScaleAll(raw []*big.Int) ([]*big.Int, error) {
	return s.mapAll(raw, s.Scale)
}

// UnscaleAll unscales a vector aligned to the token list.
func (s *Scaler) UnscaleAll(internal []*big.Int) ([]*big.Int, error) {
	return s.mapAll(internal, s.Unscale)
}

func (s *Scaler) mapAll(values []*big.Int, fn func(*big.Int, int) (*big.Int, error)) ([]*big.Int, error) {
	if len(values) != len(s.factors) {
		return nil, fmt.Errorf("%w: %d amounts for %d tokens", ErrLengthMismatch, len(values), len(s.factors))
	}
	out := make([]*big.Int, len(values))
	for i, v := range values {
		converted, err := fn(v, i)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

func toUint(value *big.Int) (*uint256.Int, error) {
	abs := new(big.Int).Abs(value)
	u, overflow := uint256.FromBig(abs)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, value.String())
	}
	return u, nil
}

func withSign(value *uint256.Int, sign int) *big.Int {
	out := value.ToBig()
	if sign < 0 {
		out.Neg(out)
	}
	return out
}

// AllDecimals returns a copy of the native precision per token index.
func (s *Scaler) AllDecimals() []uint8 {
	out := make([]uint8, len(s.decimals))
	copy(out, s.decimals)
	return out
}

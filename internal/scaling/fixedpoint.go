package scaling

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrZeroDivision is returned by DivDown and DivUp for a zero divisor.
var ErrZeroDivision = errors.New("fixed-point division by zero")

var one = uint256.NewInt(1_000_000_000_000_000_000)

// One is 1.0 in the 18-decimal fixed-point unit.
func One() *big.Int {
	return one.ToBig()
}

// MulDown returns a*b/1e18 rounded down.
func MulDown(a, b *big.Int) (*big.Int, error) {
	product, err := mul(a, b)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(product, one).ToBig(), nil
}

// MulUp returns a*b/1e18 rounded up.
func MulUp(a, b *big.Int) (*big.Int, error) {
	product, err := mul(a, b)
	if err != nil {
		return nil, err
	}
	if product.IsZero() {
		return new(big.Int), nil
	}
	product.SubUint64(product, 1)
	product.Div(product, one)
	product.AddUint64(product, 1)
	return product.ToBig(), nil
}

// DivDown returns a*1e18/b rounded down.
func DivDown(a, b *big.Int) (*big.Int, error) {
	numerator, divisor, err := divOperands(a, b)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(numerator, divisor).ToBig(), nil
}

// DivUp returns a*1e18/b rounded up.
func DivUp(a, b *big.Int) (*big.Int, error) {
	numerator, divisor, err := divOperands(a, b)
	if err != nil {
		return nil, err
	}
	if numerator.IsZero() {
		return new(big.Int), nil
	}
	numerator.SubUint64(numerator, 1)
	numerator.Div(numerator, divisor)
	numerator.AddUint64(numerator, 1)
	return numerator.ToBig(), nil
}

// Complement returns 1e18 - x, or zero when x >= 1e18.
func Complement(x *big.Int) (*big.Int, error) {
	u, err := unsigned(x)
	if err != nil {
		return nil, err
	}
	if !u.Lt(one) {
		return new(big.Int), nil
	}
	return new(uint256.Int).Sub(one, u).ToBig(), nil
}

func mul(a, b *big.Int) (*uint256.Int, error) {
	ua, err := unsigned(a)
	if err != nil {
		return nil, err
	}
	ub, err := unsigned(b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(ua, ub)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, a.String(), b.String())
	}
	return product, nil
}

func divOperands(a, b *big.Int) (*uint256.Int, *uint256.Int, error) {
	ua, err := unsigned(a)
	if err != nil {
		return nil, nil, err
	}
	ub, err := unsigned(b)
	if err != nil {
		return nil, nil, err
	}
	if ub.IsZero() {
		return nil, nil, ErrZeroDivision
	}
	numerator, overflow := new(uint256.Int).MulOverflow(ua, one)
	if overflow {
		return nil, nil, fmt.Errorf("%w: %s * 1e18", ErrOverflow, a.String())
	}
	return numerator, ub, nil
}

func unsigned(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative fixed-point value %s", ErrOverflow, x.String())
	}
	u, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, x.String())
	}
	return u, nil
}

// FitsUnsigned reports whether x is a valid non-negative 256-bit amount.
func FitsUnsigned(x *big.Int) bool {
	_, err := unsigned(x)
	return err == nil
}

package scaling

import (
	"errors"
	"math/big"
	"testing"
)

func TestScaleUnscale(t *testing.T) {
	s, err := NewScaler([]uint8{18, 6, 0})
	if err != nil {
		t.Fatalf("new scaler: %v", err)
	}

	got, err := s.Scale(big.NewInt(1_500_000), 1)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("scaled = %s, want %s", got, want)
	}

	back, err := s.Unscale(got, 1)
	if err != nil {
		t.Fatalf("unscale: %v", err)
	}
	if back.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("unscaled = %s", back)
	}

	same, err := s.Scale(big.NewInt(42), 0)
	if err != nil || same.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("18-decimal token should be unchanged: %s, %v", same, err)
	}
}

func TestScaleSigned(t *testing.T) {
	s, _ := NewScaler([]uint8{6})
	got, err := s.Scale(big.NewInt(-3), 0)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if got.Cmp(big.NewInt(-3_000_000_000_000)) != 0 {
		t.Fatalf("scaled = %s", got)
	}

	down, err := s.Unscale(big.NewInt(-1_999_999_999_999), 0)
	if err != nil {
		t.Fatalf("unscale: %v", err)
	}
	if down.Cmp(big.NewInt(-1)) != 0 {
		t.Fatalf("unscale should round toward zero, got %s", down)
	}
}

func TestScaleOverflow(t *testing.T) {
	s, _ := NewScaler([]uint8{0})
	huge := new(big.Int).Lsh(big.NewInt(1), 250)
	if _, err := s.Scale(huge, 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := s.Unscale(tooWide, 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow for >256 bit input, got %v", err)
	}
}

func TestNewScalerRejectsWideDecimals(t *testing.T) {
	if _, err := NewScaler([]uint8{24}); !errors.Is(err, ErrDecimals) {
		t.Fatalf("expected ErrDecimals, got %v", err)
	}
}

func TestScaleAllLengthMismatch(t *testing.T) {
	s := Identity(2)
	if _, err := s.ScaleAll([]*big.Int{big.NewInt(1)}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	out, err := s.ScaleAll([]*big.Int{big.NewInt(1), nil})
	if err != nil {
		t.Fatalf("scale all: %v", err)
	}
	if out[1].Sign() != 0 {
		t.Fatalf("nil amount should scale to zero")
	}
}

func TestFixedPointRounding(t *testing.T) {
	third, _ := DivDown(big.NewInt(1), big.NewInt(3))
	thirdUp, _ := DivUp(big.NewInt(1), big.NewInt(3))
	if new(big.Int).Sub(thirdUp, third).Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("DivUp should exceed DivDown by one unit: %s vs %s", thirdUp, third)
	}

	down, _ := MulDown(big.NewInt(5), big.NewInt(300_000_000_000_000_000))
	up, _ := MulUp(big.NewInt(5), big.NewInt(300_000_000_000_000_000))
	if down.Sign() != 1 || up.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("MulDown=%s MulUp=%s", down, up)
	}

	if _, err := DivDown(big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrZeroDivision) {
		t.Fatalf("expected ErrZeroDivision, got %v", err)
	}
	if _, err := MulDown(big.NewInt(-1), One()); !errors.Is(err, ErrOverflow) {
		t.Fatalf("negative operand should be rejected, got %v", err)
	}
}

func TestComplement(t *testing.T) {
	c, err := Complement(big.NewInt(250_000_000_000_000_000))
	if err != nil {
		t.Fatalf("complement: %v", err)
	}
	if c.Cmp(big.NewInt(750_000_000_000_000_000)) != 0 {
		t.Fatalf("complement = %s", c)
	}
	zero, _ := Complement(new(big.Int).Mul(One(), big.NewInt(2)))
	if zero.Sign() != 0 {
		t.Fatalf("complement above one should be zero, got %s", zero)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(big.NewInt(-1_500_000), 6); got != "-1.500000" {
		t.Fatalf("format = %s", got)
	}
	if got := FormatAmount(nil, 6); got != "0" {
		t.Fatalf("format nil = %s", got)
	}
}

package tokens

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	bpt  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestSortOrdersByAddress(t *testing.T) {
	list, err := Sort([]common.Address{usdc, dai, bpt})
	if err != nil {
		t.Fatalf("sort failed: %v", err)
	}

	want := []common.Address{bpt, dai, usdc}
	got := list.Addresses()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s want %s", i, got[i].Hex(), want[i].Hex())
		}
	}
}

func TestSortRejectsDuplicates(t *testing.T) {
	_, err := Sort([]common.Address{dai, usdc, dai})
	if !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}

func TestSortDoesNotMutateInput(t *testing.T) {
	input := []common.Address{usdc, dai}
	if _, err := Sort(input); err != nil {
		t.Fatalf("sort failed: %v", err)
	}
	if input[0] != usdc || input[1] != dai {
		t.Fatalf("input reordered: %v", input)
	}
}

func TestIndexOfStable(t *testing.T) {
	list := MustSort(dai, usdc, bpt)

	first, err := list.IndexOf(usdc)
	if err != nil {
		t.Fatalf("index of usdc: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := list.IndexOf(usdc)
		if err != nil || again != first {
			t.Fatalf("index changed: %d != %d (%v)", again, first, err)
		}
	}

	addr, err := list.At(first)
	if err != nil || addr != usdc {
		t.Fatalf("At(%d) = %s, %v", first, addr.Hex(), err)
	}
}

func TestIndexOfUnknown(t *testing.T) {
	list := MustSort(dai, usdc)
	if _, err := list.IndexOf(bpt); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := list.At(2); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken for out of range, got %v", err)
	}
	if list.Contains(bpt) {
		t.Fatalf("bpt should not be contained")
	}
}

func TestAddressesIsCopy(t *testing.T) {
	list := MustSort(dai, usdc)
	addrs := list.Addresses()
	addrs[0] = bpt

	if got, _ := list.At(0); got == bpt {
		t.Fatalf("list mutated through Addresses copy")
	}
}

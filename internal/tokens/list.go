package tokens

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateToken = errors.New("duplicate token")
	ErrUnknownToken   = errors.New("unknown token")
)

// List is an immutable, ascending, duplicate-free token sequence with O(1) index lookup.
type List struct {
	addrs []common.Address
	index map[common.Address]int
}

// Sort orders tokens by address bytes and builds the index map.
func Sort(input []common.Address) (*List, error) {
	addrs := make([]common.Address, len(input))
	copy(addrs, input)
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	index := make(map[common.Address]int, len(addrs))
	for i, addr := range addrs {
		if _, ok := index[addr]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, addr.Hex())
		}
		index[addr] = i
	}
	return &List{addrs: addrs, index: index}, nil
}

// MustSort is Sort for fixtures known to be valid.
func MustSort(input ...common.Address) *List {
	l, err := Sort(input)
	if err != nil {
		panic(err)
	}
	return l
}

// IndexOf returns the position of token in the list.
func (l *List) IndexOf(token common.Address) (int, error) {
	i, ok := l.index[token]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return i, nil
}

func (l *List) Contains(token common.Address) bool {
	_, ok := l.index[token]
	return ok
}

// At returns the token at index i.
func (l *List) At(i int) (common.Address, error) {
	if i < 0 || i >= len(l.addrs) {
		return common.Address{}, fmt.Errorf("%w: index %d of %d", ErrUnknownToken, i, len(l.addrs))
	}
	return l.addrs[i], nil
}

func (l *List) Len() int {
	return len(l.addrs)
}

// Addresses returns a copy of the ordered tokens.
func (l *List) Addresses() []common.Address {
	out := make([]common.Address, len(l.addrs))
	copy(out, l.addrs)
	return out
}

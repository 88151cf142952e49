package vault

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Specialization mirrors the pool specialization encoded in a pool id.
type Specialization uint16

const (
	GeneralSpecialization Specialization = iota
	MinimalSwapInfoSpecialization
	TwoTokenSpecialization
)

// PoolID is the 32-byte pool identifier.
//
// Layout:
//
//	[0..19]  = pool address
//	[20..21] = specialization (big endian)
//	[22..31] = registration nonce (big endian, 80 bits)
type PoolID [32]byte

// NewPoolID packs a pool address, specialization and nonce into a PoolID.
func NewPoolID(pool common.Address, spec Specialization, nonce uint64) PoolID {
	var id PoolID
	copy(id[:20], pool[:])
	binary.BigEndian.PutUint16(id[20:22], uint16(spec))
	binary.BigEndian.PutUint64(id[24:32], nonce)
	return id
}

// ParsePoolID decodes a 32-byte hex string. The 0x prefix is optional.
func ParsePoolID(s string) (PoolID, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return PoolID{}, fmt.Errorf("invalid pool id %q: %w", s, err)
	}
	if len(b) != 32 {
		return PoolID{}, fmt.Errorf("invalid pool id %q: %d bytes", s, len(b))
	}
	var id PoolID
	copy(id[:], b)
	return id, nil
}

func (p PoolID) Address() common.Address {
	return common.BytesToAddress(p[:20])
}

func (p PoolID) Specialization() Specialization {
	return Specialization(binary.BigEndian.Uint16(p[20:22]))
}

// Nonce returns the low 64 bits of the registration nonce.
func (p PoolID) Nonce() uint64 {
	return binary.BigEndian.Uint64(p[24:32])
}

func (p PoolID) IsZero() bool {
	return p == PoolID{}
}

// Hash returns the id as an event topic.
func (p PoolID) Hash() common.Hash {
	return common.Hash(p)
}

func (p PoolID) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

func (p PoolID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *PoolID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := ParsePoolID(s)
	if err != nil {
		return err
	}
	*p = id
	return nil
}

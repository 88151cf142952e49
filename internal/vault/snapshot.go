package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityVault/internal/tokens"
)

// Snapshot is a serializable copy of every pool in the vault.
type Snapshot struct {
	Nonce uint64         `json:"nonce"`
	Pools []PoolSnapshot `json:"pools"`
}

// PoolSnapshot captures one pool. Amounts are decimal strings in internal units.
type PoolSnapshot struct {
	ID                PoolID           `json:"id"`
	PoolAddress       common.Address   `json:"pool_address"`
	Tokens            []common.Address `json:"tokens"`
	Decimals          []uint8          `json:"decimals"`
	Balances          []string         `json:"balances"`
	SwapFeePercentage string           `json:"swap_fee_percentage"`
	LastChangeBlock   uint64           `json:"last_change_block"`
	Paused            bool             `json:"paused"`
}

// Snapshot copies the vault state. Each pool is read under its own lock.
func (v *Vault) Snapshot() Snapshot {
	ids := v.Pools()

	v.mu.RLock()
	nonce := v.nonce
	v.mu.RUnlock()

	snap := Snapshot{Nonce: nonce, Pools: make([]PoolSnapshot, 0, len(ids))}
	for _, id := range ids {
		rec, err := v.lookup(id)
		if err != nil {
			continue
		}
		rec.mu.Lock()
		balances := make([]string, len(rec.balances))
		for i, b := range rec.balances {
			balances[i] = b.ToBig().String()
		}
		snap.Pools = append(snap.Pools, PoolSnapshot{
			ID:                rec.id,
			PoolAddress:       rec.poolAddress,
			Tokens:            rec.tokens.Addresses(),
			Decimals:          rec.scaler.AllDecimals(),
			Balances:          balances,
			SwapFeePercentage: rec.swapFee.String(),
			LastChangeBlock:   rec.lastChangeBlock,
			Paused:            rec.paused,
		})
		rec.mu.Unlock()
	}
	return snap
}

// Restore loads pools from a snapshot. Nothing is inserted if any pool is
// invalid, repeated within the snapshot or already registered.
func (v *Vault) Restore(snap Snapshot) error {
	records := make([]*record, 0, len(snap.Pools))
	seen := make(map[PoolID]struct{}, len(snap.Pools))
	for _, ps := range snap.Pools {
		if _, ok := seen[ps.ID]; ok {
			return fmt.Errorf("restore pool %s: %w", ps.ID, ErrAlreadyRegistered)
		}
		seen[ps.ID] = struct{}{}
		rec, err := recordFromSnapshot(ps)
		if err != nil {
			return fmt.Errorf("restore pool %s: %w", ps.ID, err)
		}
		records = append(records, rec)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, rec := range records {
		if _, ok := v.pools[rec.id]; ok {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, rec.id)
		}
	}
	for _, rec := range records {
		v.pools[rec.id] = rec
	}
	if snap.Nonce > v.nonce {
		v.nonce = snap.Nonce
	}
	v.cfg.Metrics.setPools(len(v.pools))
	return nil
}

func recordFromSnapshot(ps PoolSnapshot) (*record, error) {
	list, err := tokens.Sort(ps.Tokens)
	if err != nil {
		return nil, err
	}
	if len(ps.Balances) != list.Len() {
		return nil, fmt.Errorf("%w: %d balances for %d tokens", ErrLengthMismatch, len(ps.Balances), list.Len())
	}
	scaler, err := newScaler(list.Len(), ps.Decimals)
	if err != nil {
		return nil, err
	}
	swapFee, ok := new(big.Int).SetString(ps.SwapFeePercentage, 10)
	if !ok {
		return nil, fmt.Errorf("invalid swap fee: %q", ps.SwapFeePercentage)
	}
	if err := checkSwapFee(swapFee); err != nil {
		return nil, err
	}

	// Balances are stored in token-list order, so a reordered token slice is rejected.
	for i, addr := range ps.Tokens {
		if idx, _ := list.IndexOf(addr); idx != i {
			return nil, fmt.Errorf("tokens are not sorted at index %d", i)
		}
	}

	balances := make([]*uint256.Int, len(ps.Balances))
	for i, s := range ps.Balances {
		b, ok := new(big.Int).SetString(s, 10)
		if !ok || b.Sign() < 0 {
			return nil, fmt.Errorf("invalid balance at index %d: %q", i, s)
		}
		u, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("%w: balance at index %d", ErrOverflow, i)
		}
		balances[i] = u
	}

	return &record{
		id:              ps.ID,
		poolAddress:     ps.PoolAddress,
		tokens:          list,
		scaler:          scaler,
		balances:        balances,
		swapFee:         swapFee,
		lastChangeBlock: ps.LastChangeBlock,
		paused:          ps.Paused,
	}, nil
}

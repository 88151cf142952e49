package replay

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/vault"
)

// State is the replay progress stored with each checkpoint.
type State struct {
	Vault   vault.Snapshot        `json:"vault"`
	Pending []PendingRegistration `json:"pending,omitempty"`
}

// PendingRegistration is a pool whose tokens have not been registered yet.
type PendingRegistration struct {
	PoolID         vault.PoolID         `json:"pool_id"`
	PoolAddress    common.Address       `json:"pool_address"`
	Specialization vault.Specialization `json:"specialization"`
}

// State snapshots the vault and the pending registrations.
func (a *Applier) State() (json.RawMessage, error) {
	state := State{Vault: a.cfg.Vault.Snapshot()}
	for id, p := range a.pending {
		state.Pending = append(state.Pending, PendingRegistration{
			PoolID:         id,
			PoolAddress:    p.poolAddress,
			Specialization: p.specialization,
		})
	}
	sort.Slice(state.Pending, func(i, j int) bool {
		return state.Pending[i].PoolID.String() < state.Pending[j].PoolID.String()
	})
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal replay state: %w", err)
	}
	return data, nil
}

// Restore loads a previous State into an empty vault.
func (a *Applier) Restore(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("parse replay state: %w", err)
	}
	if err := a.cfg.Vault.Restore(state.Vault); err != nil {
		return err
	}
	for _, p := range state.Pending {
		a.pending[p.PoolID] = pendingPool{poolAddress: p.PoolAddress, specialization: p.Specialization}
	}
	return nil
}

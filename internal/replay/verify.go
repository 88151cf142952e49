package replay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/erc20"
	"liquidityVault/internal/events"
	"liquidityVault/internal/vault"
)

// Mismatch is a token whose replayed balance differs from the Vault contract.
type Mismatch struct {
	PoolID   vault.PoolID
	Token    common.Address
	Replayed *big.Int
	OnChain  *big.Int
}

func (m Mismatch) String() string {
	return fmt.Sprintf("pool %s token %s: replayed %s, on-chain %s", m.PoolID, m.Token.Hex(), m.Replayed, m.OnChain)
}

// Verify compares the replayed balances of a pool, in native units, with
// getPoolTokens on the Vault contract at blockNumber (nil for latest).
func Verify(ctx context.Context, caller erc20.Caller, vaultAddress common.Address, v *vault.Vault, id vault.PoolID, blockNumber *big.Int) ([]Mismatch, error) {
	view, err := v.PoolTokens(id)
	if err != nil {
		return nil, err
	}
	scaler, err := v.Scaler(id)
	if err != nil {
		return nil, err
	}
	replayed, err := scaler.UnscaleAll(view.Balances)
	if err != nil {
		return nil, err
	}

	onChainTokens, onChainBalances, err := poolTokens(ctx, caller, vaultAddress, id, blockNumber)
	if err != nil {
		return nil, err
	}
	onChain := make(map[common.Address]*big.Int, len(onChainTokens))
	for i, token := range onChainTokens {
		onChain[token] = onChainBalances[i]
	}

	var mismatches []Mismatch
	for i, token := range view.Tokens {
		balance, ok := onChain[token]
		if !ok {
			balance = new(big.Int)
		}
		if balance.Cmp(replayed[i]) != 0 {
			mismatches = append(mismatches, Mismatch{PoolID: id, Token: token, Replayed: replayed[i], OnChain: balance})
		}
		delete(onChain, token)
	}
	for token, balance := range onChain {
		mismatches = append(mismatches, Mismatch{PoolID: id, Token: token, Replayed: new(big.Int), OnChain: balance})
	}
	return mismatches, nil
}

func poolTokens(ctx context.Context, caller erc20.Caller, vaultAddress common.Address, id vault.PoolID, blockNumber *big.Int) ([]common.Address, []*big.Int, error) {
	parsed, err := events.VaultABI()
	if err != nil {
		return nil, nil, err
	}
	input, err := parsed.Pack("getPoolTokens", [32]byte(id))
	if err != nil {
		return nil, nil, fmt.Errorf("pack getPoolTokens: %w", err)
	}
	output, err := caller.CallContract(ctx, ethereum.CallMsg{To: &vaultAddress, Data: input}, blockNumber)
	if err != nil {
		return nil, nil, fmt.Errorf("call getPoolTokens: %w", err)
	}
	values, err := parsed.Unpack("getPoolTokens", output)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getPoolTokens: %w", err)
	}
	if len(values) != 3 {
		return nil, nil, fmt.Errorf("getPoolTokens: unexpected values: %d", len(values))
	}
	tokens, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("getPoolTokens tokens: unsupported type %T", values[0])
	}
	balances, ok := values[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("getPoolTokens balances: unsupported type %T", values[1])
	}
	if len(tokens) != len(balances) {
		return nil, nil, fmt.Errorf("%w: %d tokens, %d balances", vault.ErrLengthMismatch, len(tokens), len(balances))
	}
	return tokens, balances, nil
}

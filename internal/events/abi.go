package events

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "poolAddress", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "specialization", "type": "uint8"}
    ],
    "name": "PoolRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"indexed": false, "internalType": "address[]", "name": "tokens", "type": "address[]"},
      {"indexed": false, "internalType": "address[]", "name": "assetManagers", "type": "address[]"}
    ],
    "name": "TokensRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "liquidityProvider", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "tokens", "type": "address[]"},
      {"indexed": false, "internalType": "int256[]", "name": "deltas", "type": "int256[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "protocolFeeAmounts", "type": "uint256[]"}
    ],
    "name": "PoolBalanceChanged",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "poolId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "tokenIn", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "tokenOut", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountOut", "type": "uint256"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "poolId", "type": "bytes32"}],
    "name": "getPoolTokens",
    "outputs": [
      {"internalType": "address[]", "name": "tokens", "type": "address[]"},
      {"internalType": "uint256[]", "name": "balances", "type": "uint256[]"},
      {"internalType": "uint256", "name": "lastChangeBlock", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const (
	EventPoolRegistered     = "PoolRegistered"
	EventTokensRegistered   = "TokensRegistered"
	EventPoolBalanceChanged = "PoolBalanceChanged"
	EventSwap               = "Swap"
)

var (
	vaultABI     abi.ABI
	vaultABIOnce sync.Once
	vaultABIErr  error
)

// VaultABI returns the parsed Vault ABI.
func VaultABI() (abi.ABI, error) {
	vaultABIOnce.Do(func() {
		vaultABI, vaultABIErr = abi.JSON(strings.NewReader(vaultABIJSON))
	})
	return vaultABI, vaultABIErr
}

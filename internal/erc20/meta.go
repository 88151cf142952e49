package erc20

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityVault/internal/model"
)

// Caller performs read-only contract calls. *chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FetchTokenMeta loads token metadata via ERC20 calls. Decimals are required;
// symbol and name are best effort.
func FetchTokenMeta(ctx context.Context, caller Caller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := stringABIInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := bytes32ABIInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("unpack %s: empty result", method)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals: unsupported type %T", values[0])
	}
	meta.Decimals = decimals

	textField := func(method string) string {
		if values, err := call(method, stringABI); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := call(method, bytes32ABI)
		if err != nil {
			logger.Debug("erc20 call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
			return ""
		}
		if b, ok := values[0].([32]byte); ok {
			return string(bytes.TrimRight(b[:], "\x00"))
		}
		return ""
	}
	meta.Symbol = textField("symbol")
	meta.Name = textField("name")

	return meta, nil
}

// MetaCache caches token metadata by address.
type MetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewMetaCache() *MetaCache {
	return &MetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *MetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Resolver serves token metadata from a cache, fetching misses from chain.
type Resolver struct {
	caller Caller
	cache  *MetaCache
	logger *zap.Logger
}

func NewResolver(caller Caller, cache *MetaCache, logger *zap.Logger) *Resolver {
	if cache == nil {
		cache = NewMetaCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{caller: caller, cache: cache, logger: logger}
}

func (r *Resolver) Meta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.cache.Get(token); ok {
		return meta, nil
	}
	meta, err := FetchTokenMeta(ctx, r.caller, token, r.logger)
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
	}
	r.cache.Set(token, meta)
	r.logger.Debug("token metadata loaded",
		zap.String("token", token.Hex()),
		zap.String("symbol", meta.Symbol),
		zap.Uint8("decimals", meta.Decimals),
	)
	return meta, nil
}

// Decimals resolves the decimals of every token, in order.
func (r *Resolver) Decimals(ctx context.Context, tokens []common.Address) ([]uint8, error) {
	out := make([]uint8, len(tokens))
	for i, token := range tokens {
		meta, err := r.Meta(ctx, token)
		if err != nil {
			return nil, err
		}
		out[i] = meta.Decimals
	}
	return out, nil
}

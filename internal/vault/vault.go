package vault

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityVault/internal/scaling"
	"liquidityVault/internal/tokens"
)

var (
	minSwapFeePercentage         = big.NewInt(1_000_000_000_000)       // 0.0001%
	maxSwapFeePercentage         = big.NewInt(100_000_000_000_000_000) // 10%
	maxProtocolSwapFeePercentage = big.NewInt(500_000_000_000_000_000) // 50%
)

// Config controls vault behavior.
type Config struct {
	// ProtocolSwapFeePercentage is the share of every swap fee drained to the
	// protocol, as an 18-decimal fraction. Nil or zero disables swap protocol fees.
	ProtocolSwapFeePercentage *big.Int
	Metrics                   *Metrics
}

// Vault is the sole owner and mutator of pool balances.
type Vault struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[PoolID]*record
	nonce uint64
}

// record is one pool entry in the arena. mu serializes every read-modify-write.
type record struct {
	mu              sync.Mutex
	id              PoolID
	poolAddress     common.Address
	tokens          *tokens.List
	scaler          *scaling.Scaler
	balances        []*uint256.Int
	swapFee         *big.Int
	lastChangeBlock uint64
	paused          bool
}

// RegisterParams describes a pool to register.
type RegisterParams struct {
	// ID is assigned from PoolAddress and the vault nonce when zero.
	ID             PoolID
	PoolAddress    common.Address
	Specialization Specialization
	Tokens         *tokens.List
	// Decimals holds the native precision per token index; nil means 18 for all.
	Decimals          []uint8
	SwapFeePercentage *big.Int
}

func New(cfg Config, logger *zap.Logger) (*Vault, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProtocolSwapFeePercentage == nil {
		cfg.ProtocolSwapFeePercentage = new(big.Int)
	}
	if cfg.ProtocolSwapFeePercentage.Sign() < 0 || cfg.ProtocolSwapFeePercentage.Cmp(maxProtocolSwapFeePercentage) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrProtocolFeeOutOfBounds, cfg.ProtocolSwapFeePercentage)
	}
	return &Vault{
		cfg:    cfg,
		logger: logger,
		pools:  make(map[PoolID]*record),
	}, nil
}

// RegisterPool creates a pool with zero balances and lastChangeBlock 0.
func (v *Vault) RegisterPool(params RegisterParams) (PoolID, error) {
	if params.Tokens == nil || params.Tokens.Len() == 0 {
		return PoolID{}, fmt.Errorf("register pool: token list is empty")
	}
	if err := checkSwapFee(params.SwapFeePercentage); err != nil {
		return PoolID{}, err
	}

	scaler, err := newScaler(params.Tokens.Len(), params.Decimals)
	if err != nil {
		return PoolID{}, fmt.Errorf("register pool: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := params.ID
	if id.IsZero() {
		id = NewPoolID(params.PoolAddress, params.Specialization, v.nonce)
	}
	if _, ok := v.pools[id]; ok {
		return PoolID{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	v.nonce++

	poolAddress := params.PoolAddress
	if poolAddress == (common.Address{}) {
		poolAddress = id.Address()
	}

	balances := make([]*uint256.Int, params.Tokens.Len())
	for i := range balances {
		balances[i] = new(uint256.Int)
	}
	v.pools[id] = &record{
		id:          id,
		poolAddress: poolAddress,
		tokens:      params.Tokens,
		scaler:      scaler,
		balances:    balances,
		swapFee:     new(big.Int).Set(params.SwapFeePercentage),
	}
	v.cfg.Metrics.setPools(len(v.pools))

	v.logger.Info("pool registered",
		zap.Stringer("pool_id", id),
		zap.String("pool_address", poolAddress.Hex()),
		zap.Int("tokens", params.Tokens.Len()),
		zap.Stringer("swap_fee", params.SwapFeePercentage),
	)
	return id, nil
}

// Pause blocks settlements on a pool until Unpause is called.
func (v *Vault) Pause(id PoolID) error {
	return v.setPaused(id, true)
}

func (v *Vault) Unpause(id PoolID) error {
	return v.setPaused(id, false)
}

func (v *Vault) setPaused(id PoolID, paused bool) error {
	rec, err := v.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.paused = paused
	rec.mu.Unlock()

	v.logger.Info("pool pause state changed", zap.Stringer("pool_id", id), zap.Bool("paused", paused))
	return nil
}

// SetSwapFeePercentage updates the pool swap fee.
func (v *Vault) SetSwapFeePercentage(id PoolID, fee *big.Int) error {
	if err := checkSwapFee(fee); err != nil {
		return err
	}
	rec, err := v.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.swapFee = new(big.Int).Set(fee)
	rec.mu.Unlock()

	v.logger.Info("swap fee changed", zap.Stringer("pool_id", id), zap.Stringer("swap_fee", fee))
	return nil
}

// PoolTokens returns the current tokens, balances and counter of a pool.
func (v *Vault) PoolTokens(id PoolID) (PoolTokens, error) {
	rec, err := v.lookup(id)
	if err != nil {
		return PoolTokens{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return PoolTokens{
		PoolID:            rec.id,
		PoolAddress:       rec.poolAddress,
		Tokens:            rec.tokens.Addresses(),
		Balances:          balancesToBig(rec.balances),
		LastChangeBlock:   rec.lastChangeBlock,
		SwapFeePercentage: new(big.Int).Set(rec.swapFee),
		Paused:            rec.paused,
	}, nil
}

// PoolTokenInfo returns the balance of one token in a pool.
func (v *Vault) PoolTokenInfo(id PoolID, token common.Address) (TokenInfo, error) {
	rec, err := v.lookup(id)
	if err != nil {
		return TokenInfo{}, err
	}
	idx, err := rec.tokens.IndexOf(token)
	if err != nil {
		return TokenInfo{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return TokenInfo{
		Index:           idx,
		Balance:         rec.balances[idx].ToBig(),
		LastChangeBlock: rec.lastChangeBlock,
	}, nil
}

// TokenList returns the immutable token list of a pool.
func (v *Vault) TokenList(id PoolID) (*tokens.List, error) {
	rec, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.tokens, nil
}

// Scaler returns the scaling layer registered for a pool.
func (v *Vault) Scaler(id PoolID) (*scaling.Scaler, error) {
	rec, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.scaler, nil
}

// Pools returns the registered pool ids in ascending order.
func (v *Vault) Pools() []PoolID {
	v.mu.RLock()
	ids := make([]PoolID, 0, len(v.pools))
	for id := range v.pools {
		ids = append(ids, id)
	}
	v.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (v *Vault) lookup(id PoolID) (*record, error) {
	v.mu.RLock()
	rec, ok := v.pools[id]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return rec, nil
}

func checkSwapFee(fee *big.Int) error {
	if fee == nil || fee.Cmp(minSwapFeePercentage) < 0 || fee.Cmp(maxSwapFeePercentage) > 0 {
		return fmt.Errorf("%w: %v", ErrSwapFeeOutOfBounds, fee)
	}
	return nil
}

func newScaler(n int, decimals []uint8) (*scaling.Scaler, error) {
	if decimals == nil {
		return scaling.Identity(n), nil
	}
	if len(decimals) != n {
		return nil, fmt.Errorf("%w: %d decimals for %d tokens", ErrLengthMismatch, len(decimals), n)
	}
	return scaling.NewScaler(decimals)
}

func balancesToBig(in []*uint256.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, b := range in {
		out[i] = b.ToBig()
	}
	return out
}

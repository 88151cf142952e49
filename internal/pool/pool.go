package pool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"liquidityVault/internal/scaling"
	"liquidityVault/internal/tokens"
	"liquidityVault/internal/vault"
)

var (
	ErrNoPricing          = errors.New("pool has no pricing function")
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrPoolMismatch       = errors.New("pool tokens view belongs to another pool")
)

// Kind tags the pricing strategy of a pool.
type Kind uint8

const (
	KindWeighted Kind = iota + 1
	KindStable
	KindPrimaryIssue
	KindLinear
)

func (k Kind) String() string {
	switch k {
	case KindWeighted:
		return "weighted"
	case KindStable:
		return "stable"
	case KindPrimaryIssue:
		return "primary_issue"
	case KindLinear:
		return "linear"
	default:
		return fmt.Sprintf("pool_kind(%d)", uint8(k))
	}
}

// ParseKind maps a config name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "weighted":
		return KindWeighted, nil
	case "stable":
		return KindStable, nil
	case "primary_issue", "primary":
		return KindPrimaryIssue, nil
	case "linear":
		return KindLinear, nil
	default:
		return 0, fmt.Errorf("unknown pool kind %q", s)
	}
}

// Roles names the tokens a pool treats specially. Security and Currency are
// optional; Share is the pool's own liability token and must be listed.
type Roles struct {
	Security common.Address
	Currency common.Address
	Share    common.Address
}

// Indexes are role positions in the token list. Unset roles are -1.
type Indexes struct {
	Security int
	Currency int
	Share    int
}

// Pool translates high-level requests into vault settlement requests. It
// holds no balances; every call is priced against a vault.PoolTokens view.
type Pool struct {
	ID      vault.PoolID
	Kind    Kind
	Tokens  *tokens.List
	Roles   Roles
	Scaler  *scaling.Scaler
	Pricing Pricing
}

// New validates the pool definition.
func New(p Pool) (*Pool, error) {
	if p.Tokens == nil || p.Tokens.Len() == 0 {
		return nil, fmt.Errorf("pool %s: token list is empty", p.ID)
	}
	if p.Pricing == nil {
		return nil, ErrNoPricing
	}
	if p.Scaler == nil {
		p.Scaler = scaling.Identity(p.Tokens.Len())
	}
	if p.Scaler.Len() != p.Tokens.Len() {
		return nil, fmt.Errorf("%w: scaler has %d factors for %d tokens", vault.ErrLengthMismatch, p.Scaler.Len(), p.Tokens.Len())
	}
	if _, err := p.RoleIndexes(); err != nil {
		return nil, err
	}
	return &p, nil
}

// RoleIndexes resolves token roles against the token list.
func (p *Pool) RoleIndexes() (Indexes, error) {
	share, err := p.Tokens.IndexOf(p.Roles.Share)
	if err != nil {
		return Indexes{}, fmt.Errorf("share token: %w", err)
	}
	security, err := p.optionalIndex(p.Roles.Security)
	if err != nil {
		return Indexes{}, fmt.Errorf("security token: %w", err)
	}
	currency, err := p.optionalIndex(p.Roles.Currency)
	if err != nil {
		return Indexes{}, fmt.Errorf("currency token: %w", err)
	}
	return Indexes{Security: security, Currency: currency, Share: share}, nil
}

func (p *Pool) optionalIndex(token common.Address) (int, error) {
	if token == (common.Address{}) {
		return -1, nil
	}
	return p.Tokens.IndexOf(token)
}

// checkView rejects views of another pool and views whose counter differs from
// the one the caller priced against.
func (p *Pool) checkView(view vault.PoolTokens, pricedAt uint64) error {
	if view.PoolID != p.ID {
		return fmt.Errorf("%w: want %s, got %s", ErrPoolMismatch, p.ID, view.PoolID)
	}
	if len(view.Balances) != p.Tokens.Len() {
		return fmt.Errorf("%w: %d balances for %d tokens", vault.ErrLengthMismatch, len(view.Balances), p.Tokens.Len())
	}
	if pricedAt != view.LastChangeBlock {
		return fmt.Errorf("%w: priced at %d, pool at %d", vault.ErrStalePrice, pricedAt, view.LastChangeBlock)
	}
	return nil
}

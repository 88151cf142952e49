package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"liquidityVault/internal/pool"
	"liquidityVault/internal/tokens"
	"liquidityVault/internal/vault"
)

type poolsFile struct {
	Pools []poolEntry `yaml:"pools"`
}

type poolEntry struct {
	Name              string       `yaml:"name"`
	ID                string       `yaml:"id"`
	Address           string       `yaml:"address"`
	Specialization    string       `yaml:"specialization"`
	Kind              string       `yaml:"kind"`
	SwapFeePercentage string       `yaml:"swap_fee_percentage"`
	Paused            bool         `yaml:"paused"`
	Tokens            []tokenEntry `yaml:"tokens"`
}

type tokenEntry struct {
	Address  string `yaml:"address"`
	Decimals *uint8 `yaml:"decimals"`
	Role     string `yaml:"role"`
}

// PoolDef is a validated pool definition. Decimals are aligned to Tokens.
type PoolDef struct {
	Name              string
	ID                vault.PoolID
	Address           common.Address
	Specialization    vault.Specialization
	Kind              pool.Kind
	SwapFeePercentage *big.Int
	Paused            bool
	Tokens            *tokens.List
	Decimals          []uint8
	Roles             pool.Roles
}

// HasShare reports whether the pool declares a share token and can be driven
// through the pool scaffold.
func (d PoolDef) HasShare() bool {
	return d.Roles.Share != (common.Address{})
}

// LoadPools reads and validates a YAML pools file.
func LoadPools(path string) ([]PoolDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	return ParsePools(data)
}

// ParsePools validates the YAML pool definitions in data.
func ParsePools(data []byte) ([]PoolDef, error) {
	var file poolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}
	if len(file.Pools) == 0 {
		return nil, fmt.Errorf("pools file defines no pools")
	}

	seen := make(map[string]struct{}, len(file.Pools))
	out := make([]PoolDef, 0, len(file.Pools))
	for i, entry := range file.Pools {
		def, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("pool %d (%s): %w", i, entry.Name, err)
		}
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("pool %d: duplicate name %q", i, def.Name)
		}
		seen[def.Name] = struct{}{}
		out = append(out, def)
	}
	return out, nil
}

func (e poolEntry) build() (PoolDef, error) {
	def := PoolDef{Name: strings.TrimSpace(e.Name), Paused: e.Paused}
	if def.Name == "" {
		return PoolDef{}, fmt.Errorf("name is required")
	}
	if !common.IsHexAddress(e.Address) {
		return PoolDef{}, fmt.Errorf("invalid address %q", e.Address)
	}
	def.Address = common.HexToAddress(e.Address)

	spec, err := parseSpecialization(e.Specialization)
	if err != nil {
		return PoolDef{}, err
	}
	def.Specialization = spec

	if e.ID != "" {
		if def.ID, err = vault.ParsePoolID(e.ID); err != nil {
			return PoolDef{}, err
		}
	}
	if e.Kind != "" {
		if def.Kind, err = pool.ParseKind(strings.ToLower(strings.TrimSpace(e.Kind))); err != nil {
			return PoolDef{}, err
		}
	}

	fee, ok := new(big.Int).SetString(strings.TrimSpace(e.SwapFeePercentage), 10)
	if !ok {
		return PoolDef{}, fmt.Errorf("invalid swap_fee_percentage %q", e.SwapFeePercentage)
	}
	def.SwapFeePercentage = fee

	if len(e.Tokens) == 0 {
		return PoolDef{}, fmt.Errorf("tokens are required")
	}
	addrs := make([]common.Address, len(e.Tokens))
	decimals := make(map[common.Address]uint8, len(e.Tokens))
	for i, token := range e.Tokens {
		if !common.IsHexAddress(token.Address) {
			return PoolDef{}, fmt.Errorf("token %d: invalid address %q", i, token.Address)
		}
		addr := common.HexToAddress(token.Address)
		addrs[i] = addr
		decimals[addr] = 18
		if token.Decimals != nil {
			decimals[addr] = *token.Decimals
		}
		if err := assignRole(&def.Roles, token.Role, addr); err != nil {
			return PoolDef{}, fmt.Errorf("token %d: %w", i, err)
		}
	}

	if def.Tokens, err = tokens.Sort(addrs); err != nil {
		return PoolDef{}, err
	}
	def.Decimals = make([]uint8, def.Tokens.Len())
	for i, addr := range def.Tokens.Addresses() {
		def.Decimals[i] = decimals[addr]
	}
	return def, nil
}

func parseSpecialization(s string) (vault.Specialization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general":
		return vault.GeneralSpecialization, nil
	case "minimal_swap_info":
		return vault.MinimalSwapInfoSpecialization, nil
	case "two_token":
		return vault.TwoTokenSpecialization, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid specialization %q", s)
	}
	return vault.Specialization(n), nil
}

func assignRole(r *pool.Roles, role string, token common.Address) error {
	var slot *common.Address
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "":
		return nil
	case "security":
		slot = &r.Security
	case "currency":
		slot = &r.Currency
	case "share":
		slot = &r.Share
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if *slot != (common.Address{}) {
		return fmt.Errorf("role %q assigned twice", role)
	}
	*slot = token
	return nil
}

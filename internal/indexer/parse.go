package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// decodeFixed decodes a hex string of exactly size bytes. The 0x prefix is optional.
func decodeFixed(input string, size int) ([]byte, error) {
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		input = "0x" + input
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("want %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// ParseAddresses converts string addresses into common.Address, skipping
// blanks and repeats.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	seen := make(map[common.Address]bool, len(inputs))
	var out []common.Address
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := decodeFixed(input, common.AddressLength)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", input, err)
		}
		addr := common.BytesToAddress(data)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out, nil
}

// ParseVaultAddress parses the one address a replay follows.
func ParseVaultAddress(input string) (common.Address, error) {
	addrs, err := ParseAddresses([]string{input})
	if err != nil {
		return common.Address{}, err
	}
	if len(addrs) == 0 {
		return common.Address{}, fmt.Errorf("vault address is required")
	}
	return addrs[0], nil
}

// ParseTopicAliases validates a topic0 to event name map and returns it keyed
// by lowercase 0x-prefixed hashes. Blank keys are dropped. Two spellings of one
// hash that name different events are rejected.
func ParseTopicAliases(aliases map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(aliases))
	for topic0, name := range aliases {
		topic0 = strings.TrimSpace(topic0)
		if topic0 == "" {
			continue
		}
		data, err := decodeFixed(topic0, common.HashLength)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0 %q: %w", topic0, err)
		}
		key := strings.ToLower(common.BytesToHash(data).Hex())
		name = strings.TrimSpace(name)
		if prev, ok := out[key]; ok && !strings.EqualFold(prev, name) {
			return nil, fmt.Errorf("topic0 %s maps to both %s and %s", key, prev, name)
		}
		out[key] = name
	}
	return out, nil
}

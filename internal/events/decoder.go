package events

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"liquidityVault/internal/model"
	"liquidityVault/internal/vault"
)

var ErrUnsupportedTopic = errors.New("unsupported topic0")

// Event is a decoded Vault log. Exactly one payload field is set, matching Name.
type Event struct {
	Name             string
	PoolID           vault.PoolID
	Log              model.LogRecord
	PoolRegistered   *PoolRegistered
	TokensRegistered *TokensRegistered
	BalanceChanged   *BalanceChanged
	Swap             *Swap
}

type PoolRegistered struct {
	PoolAddress    common.Address
	Specialization vault.Specialization
}

type TokensRegistered struct {
	Tokens        []common.Address
	AssetManagers []common.Address
}

// BalanceChanged carries join and exit deltas in native token units.
type BalanceChanged struct {
	LiquidityProvider  common.Address
	Tokens             []common.Address
	Deltas             []*big.Int
	ProtocolFeeAmounts []*big.Int
}

type Swap struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 aliases, e.g. for forks that renamed an event.
	Topic0Map map[string]string
}

// Decoder decodes Vault events.
type Decoder struct {
	vaultABI    abi.ABI
	topicToName map[string]string
}

// NewDecoder builds a Vault event decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	parsed, err := VaultABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 4+len(cfg.Topic0Map))
	for _, name := range []string{EventPoolRegistered, EventTokensRegistered, EventPoolBalanceChanged, EventSwap} {
		topicToName[strings.ToLower(parsed.Events[name].ID.Hex())] = name
	}
	for topic0, name := range cfg.Topic0Map {
		normalized := normalizeEventName(name)
		if normalized == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = normalized
	}

	return &Decoder{vaultABI: parsed, topicToName: topicToName}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Topics returns every supported topic0, for log filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		out = append(out, common.HexToHash(topic))
	}
	return out
}

// Decode converts a LogRecord into an Event.
func (d *Decoder) Decode(log model.LogRecord) (Event, error) {
	if len(log.Topics) < 2 {
		return Event{}, fmt.Errorf("expected pool id topic, got %d topics", len(log.Topics))
	}
	name, ok := d.topicToName[strings.ToLower(log.Topic0())]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnsupportedTopic, log.Topic0())
	}

	event := d.vaultABI.Events[name]
	topics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", name, err)
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", name, err)
	}

	out := Event{Name: name, PoolID: vault.PoolID(topics[0]), Log: log}
	switch name {
	case EventPoolRegistered:
		out.PoolRegistered, err = decodePoolRegistered(topics, values)
	case EventTokensRegistered:
		out.TokensRegistered, err = decodeTokensRegistered(values)
	case EventPoolBalanceChanged:
		out.BalanceChanged, err = decodeBalanceChanged(topics, values)
	case EventSwap:
		out.Swap, err = decodeSwap(topics, values)
	default:
		err = fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func decodePoolRegistered(topics []common.Hash, values []interface{}) (*PoolRegistered, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected values: %d", len(values))
	}
	spec, ok := values[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("specialization: unsupported type %T", values[0])
	}
	return &PoolRegistered{
		PoolAddress:    common.BytesToAddress(topics[1].Bytes()),
		Specialization: vault.Specialization(spec),
	}, nil
}

func decodeTokensRegistered(values []interface{}) (*TokensRegistered, error) {
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected values: %d", len(values))
	}
	tokens, err := asAddresses(values[0])
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}
	managers, err := asAddresses(values[1])
	if err != nil {
		return nil, fmt.Errorf("asset managers: %w", err)
	}
	return &TokensRegistered{Tokens: tokens, AssetManagers: managers}, nil
}

func decodeBalanceChanged(topics []common.Hash, values []interface{}) (*BalanceChanged, error) {
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected values: %d", len(values))
	}
	tokens, err := asAddresses(values[0])
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}
	deltas, err := asBigInts(values[1])
	if err != nil {
		return nil, fmt.Errorf("deltas: %w", err)
	}
	fees, err := asBigInts(values[2])
	if err != nil {
		return nil, fmt.Errorf("protocol fee amounts: %w", err)
	}
	if len(deltas) != len(tokens) || len(fees) != len(tokens) {
		return nil, fmt.Errorf("%w: %d tokens, %d deltas, %d fees", vault.ErrLengthMismatch, len(tokens), len(deltas), len(fees))
	}
	return &BalanceChanged{
		LiquidityProvider:  common.BytesToAddress(topics[1].Bytes()),
		Tokens:             tokens,
		Deltas:             deltas,
		ProtocolFeeAmounts: fees,
	}, nil
}

func decodeSwap(topics []common.Hash, values []interface{}) (*Swap, error) {
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected values: %d", len(values))
	}
	amountIn, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amount in: unsupported type %T", values[0])
	}
	amountOut, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amount out: unsupported type %T", values[1])
	}
	return &Swap{
		TokenIn:   common.BytesToAddress(topics[1].Bytes()),
		TokenOut:  common.BytesToAddress(topics[2].Bytes()),
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
	}, nil
}

// Typed renders the event with string amounts for JSON output.
func (e Event) Typed() model.TypedEvent {
	var decoded interface{}
	id := e.PoolID.String()
	switch {
	case e.PoolRegistered != nil:
		decoded = model.PoolRegisteredData{
			PoolID:         id,
			PoolAddress:    e.PoolRegistered.PoolAddress.Hex(),
			Specialization: uint8(e.PoolRegistered.Specialization),
		}
	case e.TokensRegistered != nil:
		decoded = model.TokensRegisteredData{
			PoolID:        id,
			Tokens:        hexAll(e.TokensRegistered.Tokens),
			AssetManagers: hexAll(e.TokensRegistered.AssetManagers),
		}
	case e.BalanceChanged != nil:
		decoded = model.PoolBalanceChangedData{
			PoolID:             id,
			LiquidityProvider:  e.BalanceChanged.LiquidityProvider.Hex(),
			Tokens:             hexAll(e.BalanceChanged.Tokens),
			Deltas:             stringAll(e.BalanceChanged.Deltas),
			ProtocolFeeAmounts: stringAll(e.BalanceChanged.ProtocolFeeAmounts),
		}
	case e.Swap != nil:
		decoded = model.SwapEventData{
			PoolID:    id,
			TokenIn:   e.Swap.TokenIn.Hex(),
			TokenOut:  e.Swap.TokenOut.Hex(),
			AmountIn:  e.Swap.AmountIn.String(),
			AmountOut: e.Swap.AmountOut.String(),
		}
	}

	return model.TypedEvent{
		ChainID:     e.Log.ChainID,
		BlockNumber: e.Log.BlockNumber,
		TxHash:      e.Log.TxHash,
		LogIndex:    e.Log.LogIndex,
		Address:     e.Log.Address,
		EventName:   e.Name,
		Timestamp:   e.Log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: e.Log.Topic0(), Data: e.Log.Data},
	}
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "poolregistered":
		return EventPoolRegistered
	case "tokensregistered":
		return EventTokensRegistered
	case "poolbalancechanged":
		return EventPoolBalanceChanged
	case "swap":
		return EventSwap
	default:
		return ""
	}
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexedCount++
		}
	}
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}

	out := make([]common.Hash, 0, indexedCount)
	for _, topic := range topics[1:] {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	return values, nil
}

func asAddresses(value interface{}) ([]common.Address, error) {
	v, ok := value.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unsupported address array type %T", value)
	}
	out := make([]common.Address, len(v))
	copy(out, v)
	return out, nil
}

func asBigInts(value interface{}) ([]*big.Int, error) {
	v, ok := value.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported int array type %T", value)
	}
	out := make([]*big.Int, len(v))
	for i, x := range v {
		out[i] = new(big.Int).Set(x)
	}
	return out, nil
}

func hexAll(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func stringAll(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

package events

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"liquidityVault/internal/model"
	"liquidityVault/internal/scaling"
	"liquidityVault/internal/vault"
)

// Position places an encoded log in a chain history.
type Position struct {
	ChainID     uint64
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint64
	Vault       common.Address
	Timestamp   uint64
}

// EncodeRegistration emits PoolRegistered and TokensRegistered for a pool.
// The second log takes LogIndex+1.
func EncodeRegistration(id vault.PoolID, tokens []common.Address, pos Position) ([]model.LogRecord, error) {
	parsed, err := VaultABI()
	if err != nil {
		return nil, err
	}

	registered := parsed.Events[EventPoolRegistered]
	data, err := registered.Inputs.NonIndexed().Pack(uint8(id.Specialization()))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", EventPoolRegistered, err)
	}
	first := buildLog(pos, registered, data, id.Hash(), addressTopic(id.Address()))

	listed := parsed.Events[EventTokensRegistered]
	data, err = listed.Inputs.NonIndexed().Pack(tokens, make([]common.Address, len(tokens)))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", EventTokensRegistered, err)
	}
	pos.LogIndex++
	second := buildLog(pos, listed, data, id.Hash())

	return []model.LogRecord{first, second}, nil
}

// EncodeReceipt emits the logs a Vault contract would produce for the receipt.
// Amounts are unscaled to native token units. A swap that paid a protocol fee
// is followed by a PoolBalanceChanged at LogIndex+1 with zero deltas carrying
// that fee, since the Swap event has no field for it.
func EncodeReceipt(receipt vault.Receipt, scaler *scaling.Scaler, pos Position) ([]model.LogRecord, error) {
	parsed, err := VaultABI()
	if err != nil {
		return nil, err
	}
	if scaler == nil {
		scaler = scaling.Identity(len(receipt.Tokens))
	}

	if receipt.Kind != vault.KindSwap {
		log, err := encodeBalanceChanged(parsed, receipt, receipt.Deltas, scaler, pos)
		if err != nil {
			return nil, err
		}
		return []model.LogRecord{log}, nil
	}

	if receipt.Swap == nil {
		return nil, fmt.Errorf("swap receipt without swap leg")
	}
	amountIn, err := unscaleToken(scaler, receipt.Tokens, receipt.Swap.TokenIn, receipt.Swap.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("amount in: %w", err)
	}
	amountOut, err := unscaleToken(scaler, receipt.Tokens, receipt.Swap.TokenOut, receipt.Swap.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("amount out: %w", err)
	}

	event := parsed.Events[EventSwap]
	data, err := event.Inputs.NonIndexed().Pack(amountIn, amountOut)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", EventSwap, err)
	}
	logs := []model.LogRecord{buildLog(pos, event, data,
		receipt.PoolID.Hash(),
		addressTopic(receipt.Swap.TokenIn),
		addressTopic(receipt.Swap.TokenOut),
	)}

	if !anyPositive(receipt.ProtocolFeeAmounts) {
		return logs, nil
	}
	pos.LogIndex++
	fee, err := encodeBalanceChanged(parsed, receipt, make([]*big.Int, len(receipt.Tokens)), scaler, pos)
	if err != nil {
		return nil, fmt.Errorf("swap protocol fee: %w", err)
	}
	return append(logs, fee), nil
}

func encodeBalanceChanged(parsed abi.ABI, receipt vault.Receipt, deltas []*big.Int, scaler *scaling.Scaler, pos Position) (model.LogRecord, error) {
	raw, err := scaler.UnscaleAll(deltas)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("deltas: %w", err)
	}
	fees, err := scaler.UnscaleAll(receipt.ProtocolFeeAmounts)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("protocol fee amounts: %w", err)
	}

	event := parsed.Events[EventPoolBalanceChanged]
	data, err := event.Inputs.NonIndexed().Pack(receipt.Tokens, raw, fees)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("pack %s: %w", EventPoolBalanceChanged, err)
	}
	return buildLog(pos, event, data, receipt.PoolID.Hash(), addressTopic(receipt.Sender)), nil
}

func anyPositive(amounts []*big.Int) bool {
	for _, a := range amounts {
		if a != nil && a.Sign() > 0 {
			return true
		}
	}
	return false
}

func unscaleToken(scaler *scaling.Scaler, tokens []common.Address, token common.Address, amount *big.Int) (*big.Int, error) {
	for i, t := range tokens {
		if t == token {
			return scaler.Unscale(amount, i)
		}
	}
	return nil, fmt.Errorf("%w: %s", vault.ErrUnknownToken, token.Hex())
}

func buildLog(pos Position, event abi.Event, data []byte, indexed ...common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, event.ID.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}
	return model.LogRecord{
		ChainID:     pos.ChainID,
		BlockNumber: pos.BlockNumber,
		TxHash:      pos.TxHash.Hex(),
		LogIndex:    pos.LogIndex,
		Address:     pos.Vault.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   pos.Timestamp,
		IngestedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

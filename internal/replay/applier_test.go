package replay

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liquidityVault/internal/events"
	"liquidityVault/internal/model"
	"liquidityVault/internal/tokens"
	"liquidityVault/internal/vault"
)

var (
	dai       = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc      = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	poolAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	lp        = common.HexToAddress("0x4444444444444444444444444444444444444444")
	swapFee   = big.NewInt(1_000_000_000_000_000)
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type fakeDecimals struct {
	byToken map[common.Address]uint8
	err     error
}

func (f fakeDecimals) Decimals(_ context.Context, list []common.Address) ([]uint8, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]uint8, len(list))
	for i, token := range list {
		out[i] = f.byToken[token]
	}
	return out, nil
}

type memorySink struct {
	receipts   []model.ReceiptRecord
	rejections []model.Rejection
	events     []model.TypedEvent
}

func (m *memorySink) PutEvents(_ context.Context, events []model.TypedEvent) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *memorySink) PutReceipts(_ context.Context, receipts []model.ReceiptRecord) error {
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *memorySink) PutRejections(_ context.Context, rejections []model.Rejection) error {
	m.rejections = append(m.rejections, rejections...)
	return nil
}

// history settles a few operations on a source vault and returns the logs a
// Vault contract would have emitted for them.
type history struct {
	t      *testing.T
	source *vault.Vault
	logs   []model.LogRecord
	block  uint64
}

func newHistory(t *testing.T) *history {
	t.Helper()
	return newHistoryWith(t, vault.Config{})
}

func newHistoryWith(t *testing.T, cfg vault.Config) *history {
	t.Helper()
	source, err := vault.New(cfg, zap.NewNop())
	require.NoError(t, err)
	return &history{t: t, source: source, block: 100}
}

func (h *history) position() events.Position {
	h.block++
	return events.Position{
		ChainID:     1,
		BlockNumber: h.block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(h.block)),
		Vault:       vaultAddr,
		Timestamp:   1_700_000_000 + h.block,
	}
}

func (h *history) register(nonce uint64, announce bool) vault.PoolID {
	h.t.Helper()
	id := vault.NewPoolID(poolAddr, vault.TwoTokenSpecialization, nonce)
	_, err := h.source.RegisterPool(vault.RegisterParams{
		ID:                id,
		PoolAddress:       poolAddr,
		Specialization:    vault.TwoTokenSpecialization,
		Tokens:            tokens.MustSort(usdc, dai),
		Decimals:          []uint8{18, 6},
		SwapFeePercentage: swapFee,
	})
	require.NoError(h.t, err)
	if announce {
		logs, err := events.EncodeRegistration(id, []common.Address{usdc, dai}, h.position())
		require.NoError(h.t, err)
		h.logs = append(h.logs, logs...)
	}
	return id
}

func (h *history) emit(receipt vault.Receipt, err error) {
	h.t.Helper()
	require.NoError(h.t, err)
	scaler, err := h.source.Scaler(receipt.PoolID)
	require.NoError(h.t, err)
	logs, err := events.EncodeReceipt(receipt, scaler, h.position())
	require.NoError(h.t, err)
	h.logs = append(h.logs, logs...)
}

func newTestApplier(t *testing.T, resolver DecimalsResolver, sink *memorySink, metrics *Metrics) (*Applier, *vault.Vault) {
	t.Helper()
	target, err := vault.New(vault.Config{}, zap.NewNop())
	require.NoError(t, err)
	decoder, err := events.NewDecoder(events.DecoderConfig{})
	require.NoError(t, err)
	if resolver == nil {
		resolver = fakeDecimals{byToken: map[common.Address]uint8{dai: 18, usdc: 6}}
	}
	a, err := NewApplier(Config{
		Vault:             target,
		Decoder:           decoder,
		Decimals:          resolver,
		SwapFeePercentage: swapFee,
		Receipts:          sink,
		Rejections:        sink,
		Events:            sink,
		Metrics:           metrics,
	}, zap.NewNop())
	require.NoError(t, err)
	return a, target
}

func TestReplayRebuildsBalances(t *testing.T) {
	h := newHistory(t)
	id := h.register(0, true)

	receipt, err := h.source.JoinPool(id, []*big.Int{e18(5), e18(5)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	receipt.Sender = lp
	h.emit(receipt, err)
	h.emit(h.source.Swap(id, vault.SwapLeg{IndexIn: 0, IndexOut: 1, AmountIn: e18(1), AmountOut: big.NewInt(990_000_000_000_000_000)}))
	receipt, err = h.source.ExitPool(id, []*big.Int{e18(1), e18(1)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	receipt.Sender = lp
	h.emit(receipt, err)

	sink := &memorySink{}
	a, target := newTestApplier(t, nil, sink, nil)
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))

	want, err := h.source.PoolTokens(id)
	require.NoError(t, err)
	got, err := target.PoolTokens(id)
	require.NoError(t, err)
	assert.Equal(t, want.Tokens, got.Tokens)
	assert.Equal(t, want.Balances, got.Balances)
	assert.Equal(t, want.LastChangeBlock, got.LastChangeBlock)

	require.Len(t, sink.receipts, 3)
	assert.Empty(t, sink.rejections)
	assert.Equal(t, "join", sink.receipts[0].Kind)
	assert.Equal(t, lp.Hex(), sink.receipts[0].Sender)
	assert.Equal(t, []string{"5000000000000000000", "5000000"}, sink.receipts[0].RawDeltas)
	assert.Equal(t, "swap", sink.receipts[1].Kind)
	assert.Equal(t, "exit", sink.receipts[2].Kind)
	assert.Equal(t, []string{"-1000000000000000000", "-1000000"}, sink.receipts[2].RawDeltas)
	assert.Equal(t, h.logs[4].BlockNumber, sink.receipts[2].BlockNumber)
	assert.Equal(t, h.logs[4].Key(), sink.receipts[2].RequestID)

	require.Len(t, sink.events, 5)
	assert.Equal(t, events.EventPoolRegistered, sink.events[0].EventName)
	assert.Equal(t, events.EventSwap, sink.events[3].EventName)
}

func TestReplayCarriesSwapProtocolFees(t *testing.T) {
	h := newHistoryWith(t, vault.Config{ProtocolSwapFeePercentage: big.NewInt(500_000_000_000_000_000)})
	id := h.register(0, true)

	receipt, err := h.source.JoinPool(id, []*big.Int{e18(5), e18(5)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	h.emit(receipt, err)
	h.emit(h.source.Swap(id, vault.SwapLeg{IndexIn: 0, IndexOut: 1, AmountIn: e18(1), AmountOut: big.NewInt(990_000_000_000_000_000)}))
	// usdc in: half of a 3e12 swap fee is 1.5 native units.
	h.emit(h.source.Swap(id, vault.SwapLeg{IndexIn: 1, IndexOut: 0, AmountIn: big.NewInt(3_000_000_000_000_000), AmountOut: big.NewInt(2_000_000_000_000_000)}))
	require.Len(t, h.logs, 7, "each swap is followed by its fee log")

	sink := &memorySink{}
	reg := prometheus.NewRegistry()
	a, target := newTestApplier(t, nil, sink, NewMetrics(reg))
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))

	want, err := h.source.PoolTokens(id)
	require.NoError(t, err)
	got, err := target.PoolTokens(id)
	require.NoError(t, err)
	assert.Equal(t, "5999500000000000000", want.Balances[0].String())
	assert.Equal(t, want.Balances, got.Balances)
	assert.Equal(t, want.LastChangeBlock, got.LastChangeBlock)

	assert.Empty(t, sink.rejections)
	require.Len(t, sink.receipts, 3)
	assert.Equal(t, []string{"500000000000000", "0"}, sink.receipts[1].ProtocolFeeAmounts)
	assert.Equal(t, []string{"0", "1"}, sink.receipts[2].RawProtocolFees)
	assert.Len(t, sink.events, 7)
	assert.Equal(t, 3.0, counterValue(t, reg, events.EventPoolBalanceChanged, resultApplied))
}

func TestReplayKeepsJoinAfterSwapInSameTx(t *testing.T) {
	h := newHistory(t)
	id := h.register(0, true)
	scaler, err := h.source.Scaler(id)
	require.NoError(t, err)

	receipt, err := h.source.JoinPool(id, []*big.Int{e18(5), e18(5)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	h.emit(receipt, err)

	// A swap and a join in one tx at consecutive log indexes stay two settlements.
	pos := h.position()
	swap, err := h.source.Swap(id, vault.SwapLeg{IndexIn: 0, IndexOut: 1, AmountIn: e18(1), AmountOut: big.NewInt(990_000_000_000_000_000)})
	require.NoError(t, err)
	logs, err := events.EncodeReceipt(swap, scaler, pos)
	require.NoError(t, err)
	h.logs = append(h.logs, logs...)

	join, err := h.source.JoinPool(id, []*big.Int{e18(1), e18(1)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	require.NoError(t, err)
	pos.LogIndex++
	logs, err = events.EncodeReceipt(join, scaler, pos)
	require.NoError(t, err)
	h.logs = append(h.logs, logs...)

	sink := &memorySink{}
	a, target := newTestApplier(t, nil, sink, nil)
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))

	want, err := h.source.PoolTokens(id)
	require.NoError(t, err)
	got, err := target.PoolTokens(id)
	require.NoError(t, err)
	assert.Equal(t, want.Balances, got.Balances)
	assert.Equal(t, want.LastChangeBlock, got.LastChangeBlock)
	require.Len(t, sink.receipts, 3)
	assert.Equal(t, "join", sink.receipts[2].Kind)
}

func TestReplayRecordsRejections(t *testing.T) {
	h := newHistory(t)
	known := h.register(0, true)
	unknown := h.register(1, false)

	h.emit(h.source.JoinPool(unknown, []*big.Int{e18(1), e18(1)}, []*big.Int{big.NewInt(0), big.NewInt(0)}))
	h.emit(h.source.JoinPool(known, []*big.Int{e18(1), e18(1)}, []*big.Int{big.NewInt(0), big.NewInt(0)}))

	// An exit that the replayed pool cannot cover.
	over, err := h.source.JoinPool(known, []*big.Int{e18(1), e18(1)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	require.NoError(t, err)
	over.Kind = vault.KindExit
	over.Deltas = []*big.Int{e18(-3), big.NewInt(0)}
	h.emit(over, nil)

	sink := &memorySink{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	a, target := newTestApplier(t, nil, sink, metrics)
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))

	require.Len(t, sink.rejections, 2)
	assert.Equal(t, unknown.String(), sink.rejections[0].Pool)
	assert.Contains(t, sink.rejections[0].Error, vault.ErrUnknownPool.Error())
	assert.Contains(t, sink.rejections[1].Error, vault.ErrInsufficientBalance.Error())
	require.Len(t, sink.receipts, 1)

	view, err := target.PoolTokens(known)
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{e18(1), e18(1)}, view.Balances)
	assert.Equal(t, uint64(1), view.LastChangeBlock)

	assert.Equal(t, 2.0, counterValue(t, reg, events.EventPoolBalanceChanged, resultRejected))
	assert.Equal(t, 1.0, counterValue(t, reg, events.EventPoolBalanceChanged, resultApplied))
}

func counterValue(t *testing.T, reg *prometheus.Registry, event, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "replay_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["event"] == event && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestReplaySkipsForeignLogs(t *testing.T) {
	sink := &memorySink{}
	a, _ := newTestApplier(t, nil, sink, nil)
	err := a.HandleLogs(context.Background(), []model.LogRecord{{
		Topics: []string{common.HexToHash("0x01").Hex()},
	}})
	require.NoError(t, err)
	assert.Empty(t, sink.rejections)
	assert.Empty(t, sink.receipts)
}

func TestReplayAbortsOnResolverFailure(t *testing.T) {
	h := newHistory(t)
	h.register(0, true)

	a, target := newTestApplier(t, fakeDecimals{err: errors.New("rpc down")}, &memorySink{}, nil)
	err := a.HandleLogs(context.Background(), h.logs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Empty(t, target.Pools())
}

func TestStateRestore(t *testing.T) {
	h := newHistory(t)
	id := h.register(0, true)
	h.emit(h.source.JoinPool(id, []*big.Int{e18(2), e18(3)}, []*big.Int{big.NewInt(0), big.NewInt(0)}))

	// A registration whose tokens arrive in a later batch.
	pendingID := vault.NewPoolID(common.HexToAddress("0x5555555555555555555555555555555555555555"), vault.GeneralSpecialization, 7)
	logs, err := events.EncodeRegistration(pendingID, []common.Address{dai}, h.position())
	require.NoError(t, err)
	h.logs = append(h.logs, logs[0])

	a, _ := newTestApplier(t, nil, &memorySink{}, nil)
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))
	state, err := a.State()
	require.NoError(t, err)

	restored, target := newTestApplier(t, nil, &memorySink{}, nil)
	require.NoError(t, restored.Restore(state))
	require.NoError(t, restored.Restore(nil))

	view, err := target.PoolTokens(id)
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{e18(2), e18(3)}, view.Balances)
	require.Contains(t, restored.pending, pendingID)
	assert.Equal(t, pendingID.Address(), restored.pending[pendingID].poolAddress)

	// The pending registration completes after the restore.
	require.NoError(t, restored.HandleLogs(context.Background(), logs[1:]))
	info, err := target.PoolTokenInfo(pendingID, dai)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Index)
	assert.NotContains(t, restored.pending, pendingID)
}

type poolTokensCaller struct {
	tokens   []common.Address
	balances []*big.Int
}

func (c poolTokensCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, err := events.VaultABI()
	if err != nil {
		return nil, err
	}
	method := parsed.Methods["getPoolTokens"]
	if msg.To == nil || *msg.To != vaultAddr || string(msg.Data[:4]) != string(method.ID) {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(c.tokens, c.balances, big.NewInt(1))
}

func TestVerify(t *testing.T) {
	h := newHistory(t)
	id := h.register(0, true)
	h.emit(h.source.JoinPool(id, []*big.Int{e18(2), e18(3)}, []*big.Int{big.NewInt(0), big.NewInt(0)}))

	a, target := newTestApplier(t, nil, &memorySink{}, nil)
	require.NoError(t, a.HandleLogs(context.Background(), h.logs))

	caller := poolTokensCaller{
		tokens:   []common.Address{dai, usdc},
		balances: []*big.Int{e18(2), big.NewInt(3_000_000)},
	}
	mismatches, err := Verify(context.Background(), caller, vaultAddr, target, id, nil)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	caller.balances = []*big.Int{e18(2), big.NewInt(3_000_001)}
	mismatches, err = Verify(context.Background(), caller, vaultAddr, target, id, nil)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, usdc, mismatches[0].Token)
	assert.Equal(t, big.NewInt(3_000_000), mismatches[0].Replayed)
}

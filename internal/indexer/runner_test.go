package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"liquidityVault/internal/model"
)

type fakeSource struct {
	logs         []types.Log
	failuresLeft int
	filterCalls  int
}

func (f *fakeSource) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) { return 30, nil }

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.filterCalls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("rpc timeout")
	}
	var out []types.Log
	// newest first to check ordering
	for i := len(f.logs) - 1; i >= 0; i-- {
		if l := f.logs[i]; l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type countingHandler struct {
	seen     []model.LogRecord
	restored json.RawMessage
}

func (h *countingHandler) HandleLogs(_ context.Context, logs []model.LogRecord) error {
	h.seen = append(h.seen, logs...)
	return nil
}

func (h *countingHandler) State() (json.RawMessage, error) {
	return json.Marshal(map[string]int{"handled": len(h.seen)})
}

func (h *countingHandler) Restore(state json.RawMessage) error {
	h.restored = state
	return nil
}

func vaultLog(block uint64, index uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8"),
		Topics:      []common.Hash{{1}},
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

func testConfig() RunConfig {
	return RunConfig{
		FromBlock:    1,
		ToBlock:      20,
		Addresses:    []common.Address{common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")},
		BatchSize:    5,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func TestRunnerOrdersAndCheckpoints(t *testing.T) {
	removed := vaultLog(12, 0)
	removed.Removed = true
	source := &fakeSource{
		logs: []types.Log{vaultLog(3, 0), vaultLog(3, 1), vaultLog(3, 1), vaultLog(7, 4), removed, vaultLog(19, 2)},
	}
	handler := &countingHandler{}
	cpPath := filepath.Join(t.TempDir(), "cp", "checkpoint.json")
	checkpoint := NewFileCheckpointer(cpPath)

	runner := NewRunner(testConfig(), source, handler, checkpoint, NewMetrics(prometheus.NewRegistry()), nil)
	last, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if last != 20 {
		t.Fatalf("expected last block 20, got %d", last)
	}

	if len(handler.seen) != 4 {
		t.Fatalf("expected 4 logs after dedup, got %d", len(handler.seen))
	}
	if handler.seen[0].LogIndex != 0 || handler.seen[1].LogIndex != 1 {
		t.Fatalf("logs not ordered by log index: %+v", handler.seen[:2])
	}
	if handler.seen[0].Timestamp != 1_700_000_003 || handler.seen[0].ChainID != 1 {
		t.Fatalf("unexpected record: %+v", handler.seen[0])
	}
	if len(runner.seen) != 0 {
		t.Fatalf("dedupe set should be empty after the last batch, has %d entries", len(runner.seen))
	}

	cp, ok, err := checkpoint.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 20 {
		t.Fatalf("expected checkpoint at 20, got %d", cp.LastProcessedBlock)
	}
	if string(cp.State) != `{"handled":4}` {
		t.Fatalf("unexpected state: %s", cp.State)
	}

	// resume: nothing left up to block 20, state is restored
	resumed := &countingHandler{}
	last, err = NewRunner(testConfig(), source, resumed, checkpoint, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if last != 20 || len(resumed.seen) != 0 {
		t.Fatalf("expected no new logs, got last=%d seen=%d", last, len(resumed.seen))
	}
	if string(resumed.restored) != `{"handled":4}` {
		t.Fatalf("state not restored: %s", resumed.restored)
	}
}

func TestRunnerRetriesFilterLogs(t *testing.T) {
	source := &fakeSource{logs: []types.Log{vaultLog(2, 0)}, failuresLeft: 2}
	handler := &countingHandler{}

	cfg := testConfig()
	cfg.ToBlock = 4
	if _, err := NewRunner(cfg, source, handler, nil, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if source.filterCalls != 3 {
		t.Fatalf("expected 3 filter calls, got %d", source.filterCalls)
	}
	if len(handler.seen) != 1 {
		t.Fatalf("expected 1 log, got %d", len(handler.seen))
	}
}

func TestRunnerGivesUpAfterMaxRetries(t *testing.T) {
	source := &fakeSource{failuresLeft: 10}
	cfg := testConfig()
	cfg.MaxRetries = 1

	if _, err := NewRunner(cfg, source, &countingHandler{}, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error after retries are exhausted")
	}
	if source.filterCalls != 2 {
		t.Fatalf("expected 2 filter calls, got %d", source.filterCalls)
	}
}

func TestRunnerValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Addresses = nil
	if _, err := NewRunner(cfg, &fakeSource{}, &countingHandler{}, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error without addresses")
	}

	cfg = testConfig()
	cfg.BatchSize = 0
	if _, err := NewRunner(cfg, &fakeSource{}, &countingHandler{}, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestParseAddressesSkipsRepeats(t *testing.T) {
	got, err := ParseAddresses([]string{
		"0xBA12222222228d8Ba445958a75a0704d566BF2C8",
		" ",
		"0xba12222222228d8ba445958a75a0704d566bf2c8",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 address, got %d", len(got))
	}
	if _, err := ParseAddresses([]string{"0x1234"}); err == nil {
		t.Fatalf("expected error for short address")
	}
}

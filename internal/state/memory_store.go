package state

import (
	"context"
	"sync"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
)

// MemoryStore keeps everything in process memory. Used for paper runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	state     *risk.State
	trades    []performance.TradeRecord
	snapshots []performance.PerformanceSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) LoadState(ctx context.Context) (*risk.State, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state == nil {
		return nil, risk.ErrStateNotFound
	}
	st := *ms.state
	return &st, nil
}

func (ms *MemoryStore) SaveState(ctx context.Context, st risk.State) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.state = &st
	return nil
}

func (ms *MemoryStore) AppendTrade(ctx context.Context, trade performance.TradeRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.trades = append(ms.trades, trade)
	return nil
}

func (ms *MemoryStore) LoadTrades(ctx context.Context) ([]performance.TradeRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]performance.TradeRecord, len(ms.trades))
	copy(out, ms.trades)
	return out, nil
}

func (ms *MemoryStore) AppendSnapshot(ctx context.Context, snap performance.PerformanceSnapshot) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.snapshots = append(ms.snapshots, snap)
	return nil
}

func (ms *MemoryStore) Snapshots(ctx context.Context, limit int) ([]performance.PerformanceSnapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	snaps := ms.snapshots
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	out := make([]performance.PerformanceSnapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

func (ms *MemoryStore) Close() error {
	return nil
}

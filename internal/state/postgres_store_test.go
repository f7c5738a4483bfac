package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

func testLimits() config.RiskLimits {
	limits := config.DefaultRiskLimits()
	limits.MaxDrawdownTripPct = 0.2
	limits.CooldownDuration = config.Duration(time.Hour)
	return limits
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_LoadState(t *testing.T) {
	payload, err := json.Marshal(sampleState(7))
	require.NoError(t, err)

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		check     func(t *testing.T, st *risk.State, err error)
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT sequence, payload FROM risk_state WHERE id = \$1`).
					WithArgs(stateRowID).
					WillReturnRows(sqlmock.NewRows([]string{"sequence", "payload"}).AddRow(int64(7), payload))
			},
			check: func(t *testing.T, st *risk.State, err error) {
				require.NoError(t, err)
				assert.Equal(t, uint64(7), st.Sequence)
				assert.True(t, st.EmergencyStop.Active)
			},
		},
		{
			name: "no row is a first run",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT sequence, payload FROM risk_state`).WillReturnError(sql.ErrNoRows)
			},
			check: func(t *testing.T, st *risk.State, err error) {
				assert.Nil(t, st)
				assert.ErrorIs(t, err, risk.ErrStateNotFound)
			},
		},
		{
			name: "query failure",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT sequence, payload FROM risk_state`).WillReturnError(errors.New("connection reset"))
			},
			check: func(t *testing.T, st *risk.State, err error) {
				require.Error(t, err)
				assert.NotErrorIs(t, err, risk.ErrStateNotFound)
			},
		},
		{
			name: "bad payload",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT sequence, payload FROM risk_state`).
					WillReturnRows(sqlmock.NewRows([]string{"sequence", "payload"}).AddRow(int64(12), []byte(`{"version":`)))
			},
			check: func(t *testing.T, st *risk.State, err error) {
				require.Error(t, err)
				var unreadable *risk.UnreadableStateError
				require.True(t, errors.As(err, &unreadable))
				assert.Equal(t, uint64(12), unreadable.Sequence)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockSetup(mock)
			st, err := store.LoadState(context.Background())
			tt.check(t, st, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_SaveState(t *testing.T) {
	store, mock := newMockStore(t)
	st := sampleState(4)

	mock.ExpectExec(`INSERT INTO risk_state .+ ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(stateRowID, int64(4), sqlmock.AnyArg(), savedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveState(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveStateError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO risk_state`).WillReturnError(errors.New("read-only transaction"))

	assert.Error(t, store.SaveState(context.Background(), sampleState(1)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveStateSkippedIsStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO risk_state`).
		WithArgs(stateRowID, int64(3), sqlmock.AnyArg(), savedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sequence FROM risk_state WHERE id = \$1`).
		WithArgs(stateRowID).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(9)))

	err := store.SaveState(context.Background(), sampleState(3))
	require.Error(t, err)
	var stale *risk.StaleStateError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, uint64(3), stale.Attempted)
	assert.Equal(t, uint64(9), stale.Stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// After an unreadable row halts the manager, operator actions must still reach the database.
func TestPostgresStore_ManagerRecoversFromUnreadableRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT sequence, payload FROM risk_state`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "payload"}).AddRow(int64(40), []byte(`not json`)))
	mock.ExpectQuery(`SELECT .+ FROM risk_trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol", "side", "opened_at", "closed_at", "entry_price", "exit_price", "quantity", "fees", "realized_pnl"}))
	mock.ExpectQuery(`SELECT payload FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	m, err := risk.NewManager(context.Background(), risk.Options{Limits: testLimits(), Repository: store})
	require.NoError(t, err)
	require.Error(t, m.LoadError())
	assert.False(t, m.MayTrade())

	mock.ExpectExec(`INSERT INTO risk_state`).
		WithArgs(stateRowID, int64(41), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, m.Resume(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Trades(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	trade := performance.TradeRecord{
		ID: "tr-1", Symbol: "BTCUSDT", Side: safety.SideBuy,
		OpenedAt: savedAt, ClosedAt: savedAt.Add(time.Hour),
		EntryPrice: 100, ExitPrice: 110, Quantity: 2, Fees: 0.5, RealizedPnL: 19.5,
	}

	mock.ExpectExec(`INSERT INTO risk_trades`).
		WithArgs("tr-1", "BTCUSDT", "BUY", trade.OpenedAt, trade.ClosedAt, 100.0, 110.0, 2.0, 0.5, 19.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AppendTrade(ctx, trade))

	rows := sqlmock.NewRows([]string{"id", "symbol", "side", "opened_at", "closed_at", "entry_price", "exit_price", "quantity", "fees", "realized_pnl"}).
		AddRow("tr-1", "BTCUSDT", "BUY", trade.OpenedAt, trade.ClosedAt, 100.0, 110.0, 2.0, 0.5, 19.5)
	mock.ExpectQuery(`SELECT .+ FROM risk_trades ORDER BY closed_at, id`).WillReturnRows(rows)

	trades, err := store.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade, trades[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Snapshots(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	snap := performance.PerformanceSnapshot{TakenAt: savedAt, TradeCount: 3, WinRate: 2.0 / 3.0, ProfitFactor: 1.5, SharpeRatio: 0.8, SharpeDefined: true}

	mock.ExpectExec(`INSERT INTO risk_snapshots`).
		WithArgs(savedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.AppendSnapshot(ctx, snap))

	payload, err := json.Marshal(snap)
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT payload FROM \(`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	snaps, err := store.Snapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].TradeCount)
	assert.True(t, snaps[0].SharpeDefined)

	mock.ExpectQuery(`SELECT payload FROM risk_snapshots ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	snaps, err = store.Snapshots(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, snaps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS risk_state`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

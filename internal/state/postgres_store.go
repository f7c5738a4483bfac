package state

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const schema = `
CREATE TABLE IF NOT EXISTS risk_state (
	id         SMALLINT PRIMARY KEY,
	sequence   BIGINT NOT NULL,
	payload    JSONB NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS risk_trades (
	id           TEXT PRIMARY KEY,
	symbol       TEXT NOT NULL DEFAULT '',
	side         TEXT NOT NULL,
	opened_at    TIMESTAMPTZ NOT NULL,
	closed_at    TIMESTAMPTZ NOT NULL,
	entry_price  DOUBLE PRECISION NOT NULL,
	exit_price   DOUBLE PRECISION NOT NULL,
	quantity     DOUBLE PRECISION NOT NULL,
	fees         DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS risk_snapshots (
	id       BIGSERIAL PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL,
	payload  JSONB NOT NULL
);`

// stateRowID pins the single risk_state row; one engine owns one database.
const stateRowID = 1

// PostgresStore persists risk state in PostgreSQL via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables when missing.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate risk schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) LoadState(ctx context.Context) (*risk.State, error) {
	var (
		seq     int64
		payload []byte
	)
	err := ps.db.QueryRowContext(ctx, `SELECT sequence, payload FROM risk_state WHERE id = $1`, stateRowID).Scan(&seq, &payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, risk.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query risk state: %w", err)
	}

	var st risk.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, &risk.UnreadableStateError{Sequence: uint64(seq), Err: fmt.Errorf("failed to parse risk state: %w", err)}
	}
	if err := validateState(&st); err != nil {
		return nil, &risk.UnreadableStateError{Sequence: uint64(seq), Err: err}
	}
	return &st, nil
}

// SaveState upserts the state row. An older sequence never overwrites a newer one;
// that case is reported as a *risk.StaleStateError rather than silently dropped.
func (ps *PostgresStore) SaveState(ctx context.Context, st risk.State) error {
	payload, err := json.Marshal(&st)
	if err != nil {
		return fmt.Errorf("failed to marshal risk state: %w", err)
	}

	res, err := ps.db.ExecContext(ctx, `
		INSERT INTO risk_state (id, sequence, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET sequence = EXCLUDED.sequence, payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at
		WHERE risk_state.sequence < EXCLUDED.sequence`,
		stateRowID, int64(st.Sequence), payload, st.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to save risk state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm risk state save: %w", err)
	}
	if n > 0 {
		return nil
	}

	var stored int64
	if err := ps.db.QueryRowContext(ctx, `SELECT sequence FROM risk_state WHERE id = $1`, stateRowID).Scan(&stored); err != nil {
		return fmt.Errorf("risk state save was skipped and the stored sequence is unknown: %w", err)
	}
	return &risk.StaleStateError{Attempted: st.Sequence, Stored: uint64(stored)}
}

func (ps *PostgresStore) AppendTrade(ctx context.Context, t performance.TradeRecord) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO risk_trades (id, symbol, side, opened_at, closed_at, entry_price, exit_price, quantity, fees, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Symbol, string(t.Side), t.OpenedAt, t.ClosedAt, t.EntryPrice, t.ExitPrice, t.Quantity, t.Fees, t.RealizedPnL)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (ps *PostgresStore) LoadTrades(ctx context.Context) ([]performance.TradeRecord, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, symbol, side, opened_at, closed_at, entry_price, exit_price, quantity, fees, realized_pnl
		FROM risk_trades
		ORDER BY closed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []performance.TradeRecord
	for rows.Next() {
		var t performance.TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.OpenedAt, &t.ClosedAt,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Fees, &t.RealizedPnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = safety.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (ps *PostgresStore) AppendSnapshot(ctx context.Context, snap performance.PerformanceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = ps.db.ExecContext(ctx, `INSERT INTO risk_snapshots (taken_at, payload) VALUES ($1, $2)`, snap.TakenAt, payload)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Snapshots(ctx context.Context, limit int) ([]performance.PerformanceSnapshot, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = ps.db.QueryContext(ctx, `
			SELECT payload FROM (
				SELECT id, payload FROM risk_snapshots ORDER BY id DESC LIMIT $1
			) recent ORDER BY id`, limit)
	} else {
		rows, err = ps.db.QueryContext(ctx, `SELECT payload FROM risk_snapshots ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []performance.PerformanceSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var s performance.PerformanceSnapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

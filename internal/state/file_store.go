package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
)

const (
	stateFileName    = "risk_state.json"
	backupFileName   = "risk_state_backup.json"
	tradesFileName   = "trades.jsonl"
	snapshotFileName = "snapshots.jsonl"
)

// FileStore keeps risk state as a JSON document replaced atomically on every save, and
// trades and snapshots as append-only JSON lines.
type FileStore struct {
	dir string
	log *logger.Logger
	mu  sync.Mutex
}

func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &FileStore{dir: dir, log: log}, nil
}

// LoadState reads the state file. The backup is never read automatically: it may
// predate a trip, and restoring it would be less conservative than halting.
func (fs *FileStore) LoadState(ctx context.Context) (*risk.State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(fs.dir, stateFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, risk.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st risk.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if err := validateState(&st); err != nil {
		return nil, err
	}
	fs.log.Info("risk state loaded from %s (sequence %d)", path, st.Sequence)
	return &st, nil
}

// SaveState backs up the current file, writes a temp file, then renames it over.
func (fs *FileStore) SaveState(ctx context.Context, st risk.State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(fs.dir, stateFileName)
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, filepath.Join(fs.dir, backupFileName)); err != nil {
			fs.log.LogWarning("state backup", "failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}
	return nil
}

func (fs *FileStore) AppendTrade(ctx context.Context, trade performance.TradeRecord) error {
	return fs.appendLine(tradesFileName, trade)
}

func (fs *FileStore) LoadTrades(ctx context.Context) ([]performance.TradeRecord, error) {
	var trades []performance.TradeRecord
	err := fs.readLines(tradesFileName, func(line []byte) error {
		var t performance.TradeRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return err
		}
		trades = append(trades, t)
		return nil
	})
	return trades, err
}

func (fs *FileStore) AppendSnapshot(ctx context.Context, snap performance.PerformanceSnapshot) error {
	return fs.appendLine(snapshotFileName, snap)
}

func (fs *FileStore) Snapshots(ctx context.Context, limit int) ([]performance.PerformanceSnapshot, error) {
	var snaps []performance.PerformanceSnapshot
	err := fs.readLines(snapshotFileName, func(line []byte) error {
		var s performance.PerformanceSnapshot
		if err := json.Unmarshal(line, &s); err != nil {
			return err
		}
		snaps = append(snaps, s)
		if limit > 0 && len(snaps) > limit {
			snaps = snaps[1:]
		}
		return nil
	})
	return snaps, err
}

func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) appendLine(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", name, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(fs.dir, name), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	// a crash mid-append leaves an unterminated tail; never glue the next entry onto it
	torn, err := endsUnterminated(f)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	line := make([]byte, 0, len(data)+2)
	if torn {
		fs.log.LogWarning("append "+name, "previous entry was truncated, starting a new line")
		line = append(line, '\n')
	}
	line = append(append(line, data...), '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return f.Sync()
}

func (fs *FileStore) readLines(name string, fn func([]byte) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(filepath.Join(fs.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			// a torn write loses one entry, not the whole history
			fs.log.LogWarning("read "+name, "skipping unreadable line %d: %v", lineNo, err)
		}
	}
	return scanner.Err()
}

func endsUnterminated(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

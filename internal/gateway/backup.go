package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// backupRecord is one failed write captured on disk.
type backupRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Operation string          `json:"operation"`
	RunID     string          `json:"run_id"`
	Data      json.RawMessage `json:"data"`
}

// BackupStore is a directory of JSON files, one per failed write. Files are
// replayed oldest first and deleted only after the replayed write succeeds.
type BackupStore struct {
	dir string
}

// NewBackupStore creates the backup directory if needed.
func NewBackupStore(dir string) (*BackupStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create backup dir")
	}
	return &BackupStore{dir: dir}, nil
}

// Write captures one failed write. The payload must be JSON-serializable.
func (b *BackupStore) Write(op, runID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal backup payload")
	}
	record, err := json.MarshalIndent(backupRecord{
		Timestamp: time.Now().UTC(),
		Operation: op,
		RunID:     runID,
		Data:      data,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal backup record")
	}

	name := fmt.Sprintf("%s_%d_%s.json", op, time.Now().UnixNano(), runID)
	if err := os.WriteFile(filepath.Join(b.dir, name), record, 0o644); err != nil {
		return errors.Wrap(err, "write backup file")
	}
	return nil
}

// Pending returns the number of captured writes awaiting replay.
func (b *BackupStore) Pending() int {
	files, err := b.files()
	if err != nil {
		return 0
	}
	return len(files)
}

// Replay applies every captured write oldest first. A file is deleted only
// when apply succeeds; failures keep the file for the next replay. It
// returns how many writes were applied.
func (b *BackupStore) Replay(ctx context.Context, apply func(ctx context.Context, op, runID string, data json.RawMessage) error) (int, error) {
	files, err := b.files()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			logs.Warnf("read backup %s: %v", path, err)
			continue
		}
		var record backupRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			logs.Warnf("decode backup %s: %v", path, err)
			continue
		}
		if err := apply(ctx, record.Operation, record.RunID, record.Data); err != nil {
			logs.Warnf("replay backup %s: %v", path, err)
			continue
		}
		if err := os.Remove(path); err != nil {
			logs.Warnf("remove backup %s: %v", path, err)
		}
		replayed++
	}
	return replayed, nil
}

func (b *BackupStore) files() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "list backups")
	}
	sort.Slice(paths, func(i, j int) bool {
		fi, errI := os.Stat(paths[i])
		fj, errJ := os.Stat(paths[j])
		if errI != nil || errJ != nil {
			return paths[i] < paths[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	return paths, nil
}

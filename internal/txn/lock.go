package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockName = "op.lock"

// LockInfo identifies the holder of the advisory operation lock.
type LockInfo struct {
	Op        OpKind    `json:"op"`
	StartedAt time.Time `json:"startedAt"`
	PID       int       `json:"pid"`
}

// LockHeldError indicates that another transaction holds the advisory
// lock.
type LockHeldError struct {
	Info LockInfo
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("another operation is in progress: %v started at %v (pid %v)",
		e.Info.Op, e.Info.StartedAt.Format(time.RFC3339), e.Info.PID)
}

// Lock is a held advisory operation lock. At most one transaction per
// repository holds it at a time; it is released when the transaction
// finishes or suspends on a conflict, so the user's continue command
// can take it again.
type Lock struct {
	path string
}

// acquireLock takes the advisory lock in the state directory.
// Returns [*LockHeldError] if another process holds it.
func acquireLock(stateDir string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	path := filepath.Join(stateDir, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		held := LockHeldError{Path: path}
		if data, rerr := os.ReadFile(path); rerr == nil {
			_ = json.Unmarshal(data, &held.Info)
		}
		return nil, &held
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close lock file: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. Releasing twice is not an error.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

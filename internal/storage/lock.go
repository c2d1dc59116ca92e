package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

// processLock is an exclusive advisory lock on the state directory,
// acquired at session start and held until shutdown, per spec.md §4.4.
// No pack dependency wraps OS-level file locking, so this is a justified
// stdlib (syscall.Flock) use — recorded in DESIGN.md.
type processLock struct {
	file *os.File
	path string
}

// acquireProcessLock opens (creating if needed) lockPath and takes a
// non-blocking exclusive flock. If another process holds it, returns a
// storage_locked error carrying that process's recorded PID.
func acquireProcessLock(stateDir string) (*processLock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lockPath := filepath.Join(stateDir, "lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holderPID := readLockHolder(f)
		f.Close()
		return nil, cieerrors.StorageLocked(stateDir, holderPID)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &processLock{file: f, path: lockPath}, nil
}

func readLockHolder(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(string(buf[:n]))
	if err != nil {
		return 0
	}
	return pid
}

// release unlocks and closes the lock file. Idempotent.
func (l *processLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLocked means another process holds the backup lock.
var ErrLocked = errors.New("backup already running")

// staleLock is the age after which a lock left behind by a crashed process
// is broken.
const staleLock = 2 * time.Hour

// Lock is an advisory lock file created with O_EXCL.
type Lock struct {
	path string
}

// AcquireLock creates the lock file at path or fails with ErrLocked.
func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: path comes from configuration
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			if err := f.Close(); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("lock %s: %w", path, err)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < staleLock {
			return nil, ErrLocked
		}
		_ = os.Remove(path)
	}
	return nil, ErrLocked
}

// Release removes the lock file. Releasing a nil Lock is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Scheduler periodically backs up and prunes one project.
type Scheduler struct {
	Manager  *Manager
	Interval time.Duration
	Policy   Policy
	// LockPath defaults to Manager.Dir/.lock.
	LockPath string
	Logger   *slog.Logger
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) lockPath() string {
	if s.LockPath != "" {
		return s.LockPath
	}
	return filepath.Join(s.Manager.Dir, ".lock")
}

// RunOnce creates one backup labelled "auto" and prunes old ones. It
// returns ErrLocked without doing anything when another run holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*Backup, error) {
	if err := os.MkdirAll(s.Manager.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	lock, err := AcquireLock(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger().Warn("release backup lock", "err", err)
		}
	}()

	b, err := s.Manager.Create(ctx, "auto")
	if err != nil {
		return nil, err
	}
	if _, err := s.Manager.Prune(s.Policy); err != nil {
		return b, err
	}
	return b, nil
}

// Run calls RunOnce every Interval until ctx is cancelled. Failures are
// logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b, err := s.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrLocked):
				s.logger().Debug("scheduled backup skipped", "reason", err)
			case err != nil:
				s.logger().Error("scheduled backup failed", "err", err)
			default:
				s.logger().Debug("scheduled backup done", "name", b.Name)
			}
		}
	}
}

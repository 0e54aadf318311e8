package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l, err := AcquireLock(path)
	require.NoError(t, err)
	_, err = AcquireLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	l2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
	require.NoError(t, (*Lock)(nil).Release())
}

func TestAcquireLockBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o600))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	l, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestSchedulerRunOnce(t *testing.T) {
	m, c := newManager(t, map[string]string{"a.txt": "a"})
	s := &Scheduler{Manager: m, Policy: Policy{KeepLast: 2}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b, err := s.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, "auto", b.Label)
		c.t = c.t.Add(time.Hour)
	}
	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.NoFileExists(t, filepath.Join(m.Dir, ".lock"))

	lock, err := AcquireLock(filepath.Join(m.Dir, ".lock"))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()
	_, err = s.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	m, _ := newManager(t, map[string]string{"a.txt": "a"})
	s := &Scheduler{Manager: m, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		list, err := m.List()
		return err == nil && len(list) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

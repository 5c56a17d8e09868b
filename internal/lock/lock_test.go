package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	a := New(path, time.Hour)
	b := New(path, time.Hour)
	b.pid = a.pid + 1

	require.NoError(t, a.Acquire())
	err := b.Acquire()
	assert.ErrorIs(t, err, ErrContention)
	assert.False(t, b.Held())

	st, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, a.pid, st.PID)

	require.NoError(t, a.Release())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, b.Acquire())
	require.NoError(t, b.Release())
}

func TestConcurrentAcquireAllowsOneHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	var holders int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := New(path, time.Hour)
			l.pid = 1000 + i
			if l.Acquire() == nil {
				atomic.AddInt32(&holders, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), holders)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	old := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	require.NoError(t, os.WriteFile(path, []byte("4242\n"+old+"\n"), 0o644))

	l := New(path, time.Hour)
	require.NoError(t, l.Acquire())
	st, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, l.pid, st.PID)
}

func TestFreshLockIsNotReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Now().UTC().Format(time.RFC3339Nano)
	require.NoError(t, os.WriteFile(path, []byte("4242\n"+now+"\n"), 0o644))

	l := New(path, time.Hour)
	assert.ErrorIs(t, l.Acquire(), ErrContention)
}

func TestGarbageLockIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("not a lock"), 0o644))
	l := New(path, time.Hour)
	require.NoError(t, l.Acquire())
}

func TestReleaseDoesNotRemoveForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	l := New(path, time.Millisecond)
	require.NoError(t, l.Acquire())

	other := New(path, time.Millisecond)
	other.pid = l.pid + 1
	other.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, other.Acquire())

	require.NoError(t, l.Release())
	st, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, other.pid, st.PID)
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "run.lock"), time.Hour)
	assert.NoError(t, l.Release())
}

func TestConcurrentStaleReclaimKeepsSingleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	old := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	require.NoError(t, os.WriteFile(path, []byte("4242\n"+old+"\n"), 0o644))

	a := New(path, time.Hour)
	b := New(path, time.Hour)
	b.pid = a.pid + 1
	// b has read the stale lock; a reclaims it before b gets to remove it.
	b.beforeReclaim = func() {
		require.NoError(t, a.Acquire())
	}

	err := b.Acquire()
	assert.ErrorIs(t, err, ErrContention)
	assert.False(t, b.Held())
	assert.True(t, a.Held())

	st, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, a.pid, st.PID, "a's fresh lock survives b's reclaim attempt")

	require.NoError(t, a.Release())
	assert.NoFileExists(t, path)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".run.lock*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

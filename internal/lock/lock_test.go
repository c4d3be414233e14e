package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_SerializesSameKey(t *testing.T) {
	m := NewMutexMap()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("exec:task_1")
			counter++
			m.Unlock("exec:task_1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Zero(t, m.Len(), "released keys should be dropped")
}

func TestMutexMap_IndependentKeys(t *testing.T) {
	m := NewMutexMap()
	m.Lock("exec:task_1")
	defer m.Unlock("exec:task_1")

	done := make(chan struct{})
	go func() {
		m.Lock("exec:task_2")
		m.Unlock("exec:task_2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task_2 blocked behind task_1")
	}
}

func TestMutexMap_WaiterKeepsEntry(t *testing.T) {
	m := NewMutexMap()
	m.Lock("draft:p1")

	acquired := make(chan struct{})
	go func() {
		m.Lock("draft:p1")
		close(acquired)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.entries["draft:p1"] != nil && m.entries["draft:p1"].refs == 2
	}, time.Second, time.Millisecond)

	m.Unlock("draft:p1")
	<-acquired
	assert.Equal(t, 1, m.Len())
	m.Unlock("draft:p1")
	assert.Zero(t, m.Len())
}

func TestMutexMap_With(t *testing.T) {
	m := NewMutexMap()
	want := errors.New("boom")
	err := m.With("k", func() error {
		assert.Equal(t, 1, m.Len())
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Zero(t, m.Len())
}

func TestMutexMap_UnlockUnknownPanics(t *testing.T) {
	assert.Panics(t, func() { NewMutexMap().Unlock("never") })
}

func TestFileLock_SecondHolderRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())
	defer first.Unlock()

	pid, err := HolderPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, Held(path))

	second := NewFileLock(path)
	err = second.TryLock()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "pid=")
}

func TestFileLock_UnlockAllowsRelock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())
	require.NoError(t, first.Unlock())
	assert.False(t, Held(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "lock file should be removed")

	second := NewFileLock(path)
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
	require.NoError(t, second.Unlock(), "double unlock should be safe")
}

func TestHeld_StaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0600))

	assert.False(t, Held(path), "a leftover file without a flock is not held")
	pid, err := HolderPID(path)
	require.NoError(t, err)
	assert.Equal(t, 999999, pid)
}

func TestDaemonLockPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", "locks", "daemon.lock"), DaemonLockPath("/ws"))
}

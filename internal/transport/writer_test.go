package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingWriter struct {
	mu      sync.Mutex
	unblock chan struct{}
	written []byte
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.unblock
	b.mu.Lock()
	b.written = append(b.written, p...)
	b.mu.Unlock()
	return len(p), nil
}

func TestWatermarkedOrdering(t *testing.T) {
	bw := &blockingWriter{unblock: make(chan struct{})}
	close(bw.unblock) // never actually blocks; just verifies order

	w := NewWatermarked(bw, 16, 64)
	_, err := w.Write([]byte("one "))
	require.NoError(t, err)
	_, err = w.Write([]byte("two "))
	require.NoError(t, err)
	_, err = w.Write([]byte("three"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		bw.mu.Lock()
		defer bw.mu.Unlock()
		return string(bw.written) == "one two three"
	}, time.Second, time.Millisecond)
}

func TestWatermarkedPausesAndResumes(t *testing.T) {
	bw := &blockingWriter{unblock: make(chan struct{})}
	w := NewWatermarked(bw, 4, 8)

	_, err := w.Write(make([]byte, 20))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.Paused() }, time.Second, time.Millisecond)

	close(bw.unblock)

	require.Eventually(t, func() bool { return !w.Paused() }, time.Second, time.Millisecond)
	assert.NoError(t, w.Drain())
}

func TestWatermarkedCloseFlushesQueuedWrites(t *testing.T) {
	bw := &blockingWriter{unblock: make(chan struct{})}
	w := NewWatermarked(bw, 16, 64)

	_, err := w.Write([]byte("queued before close"))
	require.NoError(t, err)

	closeDone := make(chan error, 1)
	go func() { closeDone <- w.Close() }()

	select {
	case <-closeDone:
		t.Fatal("Close returned before the blocked write drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(bw.unblock)
	require.NoError(t, <-closeDone)

	bw.mu.Lock()
	defer bw.mu.Unlock()
	assert.Equal(t, "queued before close", string(bw.written))
}

func TestLatchStartsOpen(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.IsPaused())
	assert.NoError(t, l.Wait())
}

func TestLatchPauseResume(t *testing.T) {
	l := NewLatch()
	l.Pause()
	assert.True(t, l.IsPaused())

	done := make(chan struct{})
	go func() {
		_ = l.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Resume")
	case <-time.After(20 * time.Millisecond):
	}

	l.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}
}

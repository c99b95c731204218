package transport

import (
	"errors"
	"io"
	"sync"
)

// ErrWriterClosed is returned by Write once the Watermarked writer has been
// closed.
var ErrWriterClosed = errors.New("transport: writer closed")

// Watermarked queues writes to an underlying io.Writer on a background
// goroutine, exposing a Latch that opens and closes as the queued byte
// count crosses low/high watermarks, in the manner of asyncio's
// pause_writing/resume_writing callbacks: Write never blocks the caller,
// but Paused()/Drain() let a bridge's send path cooperate with a slow
// peer instead of growing the queue without bound.
type Watermarked struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       [][]byte
	queuedBytes int
	low, high   int
	closed      bool
	writeErr    error
	latch       *Latch
	loopDone    chan struct{}

	w io.Writer
}

// NewWatermarked starts the background write loop over w.
func NewWatermarked(w io.Writer, low, high int) *Watermarked {
	wm := &Watermarked{
		w:        w,
		low:      low,
		high:     high,
		latch:    NewLatch(),
		loopDone: make(chan struct{}),
	}
	wm.cond = sync.NewCond(&wm.mu)
	go wm.loop()
	return wm
}

// Write enqueues p (copied) for the background goroutine to send and
// returns immediately. It returns an error instead if the writer has
// already failed or closed.
func (w *Watermarked) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.writeErr != nil {
		err := w.writeErr
		w.mu.Unlock()
		return 0, err
	}
	if w.closed {
		w.mu.Unlock()
		return 0, ErrWriterClosed
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	w.queue = append(w.queue, cp)
	w.queuedBytes += len(cp)
	if w.queuedBytes > w.high {
		w.latch.Pause()
	}
	w.mu.Unlock()
	w.cond.Signal()
	return len(p), nil
}

// Paused reports whether writes are paused: set once queued bytes exceed
// the high watermark, cleared once they fall back to the low watermark.
func (w *Watermarked) Paused() bool {
	return w.latch.IsPaused()
}

// Drain blocks until queued bytes have fallen back to the low watermark.
func (w *Watermarked) Drain() error {
	return w.latch.Wait()
}

// Close stops accepting new writes and blocks until the background
// goroutine has flushed everything already queued, so a caller that closes
// the underlying connection right after Close returns cannot truncate a
// response still in flight.
func (w *Watermarked) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Signal()
	<-w.loopDone
	w.mu.Lock()
	err := w.writeErr
	w.mu.Unlock()
	return err
}

func (w *Watermarked) loop() {
	defer close(w.loopDone)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		chunk := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		_, err := w.w.Write(chunk)

		w.mu.Lock()
		w.queuedBytes -= len(chunk)
		if err != nil && w.writeErr == nil {
			w.writeErr = err
		}
		if w.queuedBytes <= w.low {
			w.latch.Resume()
		}
		w.mu.Unlock()
	}
}

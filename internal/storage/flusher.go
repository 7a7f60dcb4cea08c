package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default flusher tuning. Batching keeps bursts of commands (loops,
// scripts) from hammering the database with tiny transactions.
const (
	// DefaultFlushInterval is how often buffered deltas are written out.
	DefaultFlushInterval = 250 * time.Millisecond

	// DefaultQueueSize is the delta channel buffer size.
	DefaultQueueSize = 512
)

// FlusherOptions configures a Flusher.
type FlusherOptions struct {
	Logger        *slog.Logger
	FlushInterval time.Duration
	QueueSize     int
}

// Flusher buffers learning deltas and writes them to the store in the
// background. Enqueue never blocks the caller; when the queue is full
// the delta is dropped and counted. A failed write keeps the batch
// buffered and retries on the next flush.
type Flusher struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	deltaCh  chan *Delta
	flushCh  chan chan error
	doneCh   chan struct{}
	stopped  chan struct{}

	mu             sync.Mutex
	deltasDropped  int64
	flushesWritten int64
	writeErrors    int64
	lastWriteError error

	stopOnce sync.Once
	stopErr  error
}

// NewFlusher creates a flusher writing to store. Call Start to begin
// the background loop.
func NewFlusher(store Store, opts FlusherOptions) *Flusher {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Flusher{
		store:    store,
		logger:   opts.Logger,
		interval: opts.FlushInterval,
		deltaCh:  make(chan *Delta, opts.QueueSize),
		flushCh:  make(chan chan error, 1),
		doneCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the flush loop. Returns immediately.
func (f *Flusher) Start() {
	go f.flushLoop(f.interval)
}

// Enqueue buffers a delta for the next flush. Non-blocking; returns
// false if the queue was full and the delta dropped.
func (f *Flusher) Enqueue(d *Delta) bool {
	if d.Empty() {
		return true
	}
	select {
	case f.deltaCh <- d:
		return true
	default:
		f.mu.Lock()
		f.deltasDropped++
		dropped := f.deltasDropped
		f.mu.Unlock()
		f.logger.Warn("delta queue full, dropping delta", "total_dropped", dropped)
		return false
	}
}

// Flush writes everything buffered so far and waits for the result.
func (f *Flusher) Flush() error {
	reply := make(chan error, 1)
	select {
	case f.flushCh <- reply:
		select {
		case err := <-reply:
			return err
		case <-f.stopped:
			return nil
		}
	case <-f.stopped:
		return nil
	}
}

// Close drains the queue, performs a final flush, and stops the loop.
// Safe to call repeatedly.
func (f *Flusher) Close() error {
	f.stopOnce.Do(func() {
		close(f.doneCh)
		<-f.stopped
		f.mu.Lock()
		f.stopErr = f.lastWriteError
		f.mu.Unlock()
	})
	return f.stopErr
}

func (f *Flusher) flushLoop(interval time.Duration) {
	defer close(f.stopped)

	pending := &Delta{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() error {
		if pending.Empty() {
			return nil
		}
		err := f.store.ApplyDelta(context.Background(), pending)
		f.mu.Lock()
		if err != nil {
			f.writeErrors++
			f.lastWriteError = err
		} else {
			f.flushesWritten++
			f.lastWriteError = nil
		}
		f.mu.Unlock()
		if err != nil {
			// Keep the batch and retry on the next tick.
			f.logger.Warn("delta flush failed, will retry", "error", err)
			return err
		}
		pending = &Delta{}
		return nil
	}

	drain := func() {
		for {
			select {
			case d := <-f.deltaCh:
				pending.merge(d)
			default:
				return
			}
		}
	}

	for {
		select {
		case d := <-f.deltaCh:
			pending.merge(d)

		case <-ticker.C:
			drain()
			_ = flush()

		case reply := <-f.flushCh:
			drain()
			reply <- flush()

		case <-f.doneCh:
			drain()
			if err := flush(); err != nil {
				f.logger.Error("final delta flush failed", "error", err)
			}
			return
		}
	}
}

// FlusherStats is a point-in-time view of flusher counters.
type FlusherStats struct {
	DeltasDropped  int64
	FlushesWritten int64
	WriteErrors    int64
	QueueLength    int
}

// Stats returns current flusher counters.
func (f *Flusher) Stats() FlusherStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlusherStats{
		DeltasDropped:  f.deltasDropped,
		FlushesWritten: f.flushesWritten,
		WriteErrors:    f.writeErrors,
		QueueLength:    len(f.deltaCh),
	}
}

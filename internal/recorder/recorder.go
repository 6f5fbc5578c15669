// Package recorder keeps a write-only log of relay activity for after-action
// review. Nothing in it is read back by the relay.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/livemap/internal/queue"
)

// Backend persists batches of events.
type Backend interface {
	Init() error
	Write(events []Event) error
	Close() error
}

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("recorder closed")

// Options tunes the flush loop.
type Options struct {
	// FlushInterval bounds how long an event waits in the queue. Default 2s.
	FlushInterval time.Duration
	// BatchSize caps one backend write, and a full batch triggers an early
	// flush. Default 500.
	BatchSize int
	// QueueLimit caps buffered events; beyond it new events are dropped.
	// Default 100000.
	QueueLimit int
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 100000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Recorder buffers events from the relay and writes them to a Backend in
// batches from a single goroutine.
type Recorder struct {
	backend Backend
	opts    Options
	queue   *queue.Queue[Event]
	logger  *slog.Logger

	writeMu sync.Mutex
	written atomic.Uint64
	failed  atomic.Uint64
	closed  atomic.Bool
}

// New initializes the backend and returns a recorder for it. Call Run to
// start the flush loop.
func New(b Backend, opts Options) (*Recorder, error) {
	opts = opts.withDefaults()
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("init recorder backend: %w", err)
	}
	return &Recorder{
		backend: b,
		opts:    opts,
		queue:   queue.New[Event](opts.QueueLimit),
		logger:  opts.Logger.With("component", "recorder"),
	}, nil
}

// Record queues an event without blocking. Events recorded after Close are
// discarded.
func (r *Recorder) Record(e Event) {
	if r.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if r.queue.Push(e) == 0 {
		r.logger.Debug("Recorder queue full, event dropped", "kind", e.Kind)
	}
}

// Run flushes on every interval tick and whenever a full batch is waiting,
// until ctx is done. It then flushes what is left and returns.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil && !errors.Is(err, ErrClosed) {
				r.logger.Error("Final recorder flush failed", "error", err)
			}
			return nil
		case <-ticker.C:
		case <-r.queue.Ready():
			if r.queue.Len() < r.opts.BatchSize {
				continue
			}
		}
		if err := r.Flush(); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Error("Recorder flush failed", "error", err)
		}
	}
}

// Flush writes all queued events to the backend in batches. A failed batch
// is dropped and counted; later batches are still attempted.
func (r *Recorder) Flush() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed.Load() && r.queue.Len() == 0 {
		return ErrClosed
	}
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	var errs []error
	for {
		batch := r.queue.Take(r.opts.BatchSize)
		if len(batch) == 0 {
			break
		}
		start := time.Now()
		if err := r.backend.Write(batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			errs = append(errs, err)
			continue
		}
		r.written.Add(uint64(len(batch)))
		r.logger.Debug("Recorder batch written", "events", len(batch), "duration", time.Since(start))
	}
	return errors.Join(errs...)
}

// Close stops accepting events, flushes the queue and closes the backend.
func (r *Recorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	flushErr := r.flushLocked()
	if err := r.backend.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close recorder backend: %w", err))
	}
	return flushErr
}

// Stats reports queue depth and write counters.
type Stats struct {
	Pending uint64 `json:"pending"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (r *Recorder) Stats() Stats {
	return Stats{
		Pending: uint64(r.queue.Len()),
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.queue.Dropped(),
	}
}

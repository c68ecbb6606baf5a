// Package usage records last-seen telemetry for credentials off the request
// path. Touches are fire-and-forget: admission latency never waits on the
// store, and a full queue drops rather than blocks.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatewarden/gatewarden/internal/store"
)

const (
	defaultQueueSize = 1024
	touchTimeout     = 3 * time.Second
	dropLogEvery     = 100
)

// KeyToucher is the single store operation the recorder needs.
type KeyToucher interface {
	TouchKeyUsage(ctx context.Context, id string) error
}

// Recorder batches usage touches through a background worker.
type Recorder struct {
	store   KeyToucher
	logger  *slog.Logger
	queue   chan string
	dropped atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRecorder(st KeyToucher, logger *slog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		store:  st,
		logger: logger,
		queue:  make(chan string, queueSize),
	}
}

// Touch enqueues a usage update for the key. It never blocks: when the
// queue is full the touch is dropped and counted.
func (r *Recorder) Touch(keyID string) {
	if r == nil || keyID == "" {
		return
	}
	select {
	case r.queue <- keyID:
	default:
		n := r.dropped.Add(1)
		if n%dropLogEvery == 1 {
			r.logger.Warn("usage queue full, dropping touches", "dropped_total", n)
		}
	}
}

// Dropped reports how many touches were discarded due to a full queue.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Start launches the background worker. Non-blocking.
func (r *Recorder) Start() {
	if r == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case id := <-r.queue:
				r.touch(id)
			case <-ctx.Done():
				r.drain()
				return
			}
		}
	}()
}

// Shutdown stops the worker after it drains whatever is queued.
func (r *Recorder) Shutdown() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) drain() {
	for {
		select {
		case id := <-r.queue:
			r.touch(id)
		default:
			return
		}
	}
}

func (r *Recorder) touch(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()

	err := r.store.TouchKeyUsage(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// NotFound means the key was deleted after admission; not worth noise.
		r.logger.Warn("usage touch failed", "key_id", id, "error", err)
	}
}

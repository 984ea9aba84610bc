// Package buffer batches routed events and flushes them when the batch is
// large enough or old enough.
package buffer

import (
	"context"
	"sync"
	"time"

	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/models"
	"salesforce-router/internal/routing"
)

const (
	// DefaultSizeLimit is the batch size in bytes that triggers a flush
	DefaultSizeLimit = 1024 * 1024
	// DefaultTimeLimit is the batch age that triggers a flush
	DefaultTimeLimit = time.Second

	minTick = 10 * time.Millisecond
)

// BufferedEvent is an accepted event waiting for delivery
type BufferedEvent struct {
	Event models.Event
	Sink  routing.Sink
	Size  int
}

// FlushFunc delivers one drained batch in arrival order
type FlushFunc func(ctx context.Context, batch []BufferedEvent) error

// Config configures a Buffer
type Config struct {
	SizeLimit int
	TimeLimit time.Duration

	// OnFlush receives every drained batch. Required.
	OnFlush FlushFunc

	// OnError receives failures of time-triggered flushes, which have no
	// caller to return them to.
	OnError func(err error)

	Logger logging.Logger
}

// Buffer accumulates events until a size or time trigger fires.
//
// mu guards membership; flushMu serializes flushes. A flush drains the batch
// under mu and delivers it holding only flushMu, so events added during a
// flush start the next batch.
type Buffer struct {
	sizeLimit int
	timeLimit time.Duration
	onFlush   FlushFunc
	onError   func(error)
	logger    logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	items     []BufferedEvent
	size      int
	startedAt time.Time

	flushMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a buffer. Zero limits fall back to the defaults.
func New(cfg Config) *Buffer {
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = DefaultSizeLimit
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	if cfg.OnFlush == nil {
		cfg.OnFlush = func(context.Context, []BufferedEvent) error { return nil }
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}

	return &Buffer{
		sizeLimit: cfg.SizeLimit,
		timeLimit: cfg.TimeLimit,
		onFlush:   cfg.OnFlush,
		onError:   cfg.OnError,
		logger:    cfg.Logger.WithFields(logging.String("component", "buffer")),
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Add appends an event. When the batch reaches the size limit, Add flushes
// synchronously and returns the flush error.
func (b *Buffer) Add(ctx context.Context, item BufferedEvent) error {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.startedAt = b.now()
	}
	b.items = append(b.items, item)
	b.size += item.Size
	full := b.size >= b.sizeLimit
	size := b.size
	b.mu.Unlock()

	if full {
		b.logger.Debug("Size limit reached, flushing",
			logging.Int("bytes", size),
			logging.Int("limit", b.sizeLimit),
		)
		return b.Flush(ctx)
	}
	return nil
}

// Flush drains the current batch and hands it to the flush func. Flushing an
// empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	batch, size := b.drain()
	if len(batch) == 0 {
		return nil
	}

	b.logger.Debug("Flushing batch",
		logging.Int("events", len(batch)),
		logging.Int("bytes", size),
	)
	return b.onFlush(ctx, batch)
}

func (b *Buffer) drain() ([]BufferedEvent, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, size := b.items, b.size
	b.items = nil
	b.size = 0
	b.startedAt = time.Time{}
	return batch, size
}

// Len returns the number of buffered events
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Size returns the cumulative size of buffered events in bytes
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Start runs the time trigger until ctx is done or Close is called. Calling
// Start more than once has no effect.
func (b *Buffer) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.run(ctx)
	})
}

func (b *Buffer) run(ctx context.Context) {
	defer close(b.done)

	tick := b.timeLimit / 4
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
			if !b.due() {
				continue
			}
			if err := b.Flush(ctx); err != nil {
				b.logger.Error("Timed flush failed", err)
				b.onError(err)
			}
		}
	}
}

func (b *Buffer) due() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) > 0 && b.now().Sub(b.startedAt) >= b.timeLimit
}

// Close stops the time trigger and flushes whatever is left
func (b *Buffer) Close(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	started := true
	b.startOnce.Do(func() {
		started = false
		close(b.done)
	})
	if started {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return b.Flush(ctx)
}

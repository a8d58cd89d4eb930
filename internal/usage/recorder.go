package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	usageChanSize   = 1000
	usageBatchSize  = 100
	usageFlushEvery = 5 * time.Second
	usageDrainTime  = 30 * time.Second
	errorBufCap     = 250
)

// Recorder buffers TraceEntry and ErrorEntry records and batch-flushes them
// to a Store. Success records use a bounded channel, same as the teacher's
// usage worker; error records use a mutex-guarded ring buffer instead, since
// on overflow the spec requires dropping the *oldest* error record rather
// than the incoming one -- a plain channel can only drop the incoming value.
// A full error ring never blocks or drops a success record: the two paths
// share no capacity.
type Recorder struct {
	ch    chan TraceEntry
	store Store

	mu     sync.Mutex
	errBuf []ErrorEntry
}

// New builds a Recorder backed by store.
func New(store Store) *Recorder {
	return &Recorder{
		ch:    make(chan TraceEntry, usageChanSize),
		store: store,
	}
}

// Name identifies this worker in the runner group.
func (r *Recorder) Name() string { return "usage_recorder" }

// RecordSuccess enqueues a TraceEntry. Never blocks; drops (with a warning)
// if the channel is full, matching the teacher's back-pressure policy.
func (r *Recorder) RecordSuccess(e TraceEntry) {
	select {
	case r.ch <- e:
	default:
		slog.Warn("usage trace dropped, channel full")
	}
}

// RecordError enqueues an ErrorEntry, ring-rolling the oldest buffered
// error out on overflow.
func (r *Recorder) RecordError(e ErrorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errBuf) >= errorBufCap {
		r.errBuf = r.errBuf[1:]
	}
	r.errBuf = append(r.errBuf, e)
}

// Run processes records until ctx is cancelled, then drains what remains.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(usageFlushEvery)
	defer ticker.Stop()

	buf := make([]TraceEntry, 0, usageBatchSize)

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				r.flushUsage(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				r.flushUsage(ctx, buf)
				buf = buf[:0]
			}
			r.flushErrors(ctx)

		case <-ctx.Done():
			r.drain(buf)
			return nil
		}
	}
}

func (r *Recorder) drain(buf []TraceEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), usageDrainTime)
	defer cancel()

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				r.flushUsage(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				r.flushUsage(ctx, buf)
			}
			r.flushErrors(ctx)
			return
		}
	}
}

func (r *Recorder) flushUsage(ctx context.Context, buf []TraceEntry) {
	batch := make([]TraceEntry, len(buf))
	copy(batch, buf)
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}
	if err := r.store.InsertUsage(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage flush failed",
			slog.Int("count", len(batch)), slog.String("error", err.Error()))
	}
}

func (r *Recorder) flushErrors(ctx context.Context) {
	r.mu.Lock()
	if len(r.errBuf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.errBuf
	r.errBuf = nil
	r.mu.Unlock()

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}
	if err := r.store.InsertErrors(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "error flush failed",
			slog.Int("count", len(batch)), slog.String("error", err.Error()))
	}
}


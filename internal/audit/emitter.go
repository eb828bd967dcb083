package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/ids"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("audit emitter closed")

const defaultQueueSize = 1024

type item struct {
	event   Event
	flushed chan struct{}
}

// Emitter fans events out to its sinks from a single writer goroutine.
// Record never blocks: when the queue is full the event is dropped and
// counted.
type Emitter struct {
	sinks  []Sink
	queue  chan item
	done   chan struct{}
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ Recorder = (*Emitter)(nil)

// NewEmitter starts the writer goroutine. Call Close to drain it.
func NewEmitter(logger zerolog.Logger, queueSize int, sinks ...Sink) *Emitter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	e := &Emitter{
		sinks:  sinks,
		queue:  make(chan item, queueSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	go e.run()
	return e
}

// Record enqueues an event, stamping its ID and timestamp when unset.
func (e *Emitter) Record(event Event) {
	if event.ID == "" {
		event.ID = ids.MustULID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(event, "closed")
		return
	}
	select {
	case e.queue <- item{event: event}:
	default:
		e.drop(event, "queue full")
	}
}

// Dropped reports how many events were discarded.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Flush waits until every event recorded before the call has reached the
// sinks, or ctx ends.
func (e *Emitter) Flush(ctx context.Context) error {
	marker := item{flushed: make(chan struct{})}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	select {
	case e.queue <- marker:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits, bounded by ctx, for the queue to
// drain. Sinks that implement io.Closer are closed once drained.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, sink := range e.sinks {
		if closer, ok := sink.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Emitter) run() {
	defer close(e.done)
	for it := range e.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		e.write(it.event)
	}
}

func (e *Emitter) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Write(ctx, event); err != nil {
			metrics.AuditEvents.WithLabelValues(sink.Name(), "error").Inc()
			e.logger.Error().Err(err).Str("sink", sink.Name()).Str("action", event.Action).Msg("audit sink write failed")
			continue
		}
		metrics.AuditEvents.WithLabelValues(sink.Name(), "written").Inc()
	}
}

func (e *Emitter) drop(event Event, reason string) {
	e.dropped.Add(1)
	metrics.AuditEvents.WithLabelValues("queue", "dropped").Inc()
	e.logger.Warn().Str("action", event.Action).Str("reason", reason).Msg("audit event dropped")
}

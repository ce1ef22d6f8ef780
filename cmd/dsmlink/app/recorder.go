package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/link"
	"github.com/anytx/dsmlink/internal/storage"
	"github.com/anytx/dsmlink/internal/telemetry"
)

const flushInterval = time.Second

// Sink receives the telemetry and faults of a run besides the store.
type Sink interface {
	PublishTelemetry(t *telemetry.Telemetry) error
	PublishFault(f link.Fault) error
}

// WithMaxBatchSize sets the maximum number of hops stored within a single
// database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithSink forwards telemetry and faults to s.
func WithSink(s Sink) func(*Recorder) {
	return func(r *Recorder) {
		r.sink = s
	}
}

// Recorder drains runner events into the store. Hops are buffered and
// written in batches; telemetry and faults are written as they arrive.
type Recorder struct {
	store     storage.Store
	sessionID int64
	sink      Sink
	logger    *slog.Logger

	maxBatchSize int
	hops         []dsm.Hop
}

// NewRecorder creates a recorder for an existing session. A nil store only
// forwards to the sink.
func NewRecorder(store storage.Store, sessionID int64, logger *slog.Logger, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:        store,
		sessionID:    sessionID,
		logger:       logger,
		maxBatchSize: defaultMaxBatchSize,
	}

	for _, option := range options {
		option(&r)
	}

	r.hops = make([]dsm.Hop, 0, r.maxBatchSize)
	return &r
}

// Consume handles events until the channel is closed. Storage errors are
// logged and do not stop the link. Cancelling ctx does not abort writes; the
// runner closes events once it has stopped.
func (r *Recorder) Consume(ctx context.Context, events <-chan link.Event) error {
	ctx = context.WithoutCancel(ctx)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.flush(ctx)
				return nil
			}
			r.handle(ctx, ev)

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev link.Event) {
	switch ev.Kind {
	case link.EventHop:
		if r.store == nil {
			return
		}
		r.hops = append(r.hops, ev.Hop)
		if len(r.hops) >= r.maxBatchSize {
			r.flush(ctx)
		}

	case link.EventTelemetry:
		if r.store != nil {
			if _, err := r.store.StoreTelemetry(ctx, r.sessionID, ev.Telemetry); err != nil {
				r.logger.Error("storing telemetry", slog.String("error", err.Error()))
			}
		}
		if r.sink != nil {
			if err := r.sink.PublishTelemetry(ev.Telemetry); err != nil {
				r.logger.Warn("publishing telemetry", slog.String("error", err.Error()))
			}
		}

	case link.EventFault:
		r.logger.Warn("link fault",
			slog.String("phase", ev.Fault.Phase.String()),
			slog.String("error", ev.Fault.Err.Error()))

		if r.store != nil {
			if err := r.store.StoreFault(ctx, r.sessionID, ev.Fault.Time, ev.Fault.Phase.String(), ev.Fault.Err.Error()); err != nil {
				r.logger.Error("storing fault", slog.String("error", err.Error()))
			}
		}
		if r.sink != nil {
			if err := r.sink.PublishFault(ev.Fault); err != nil {
				r.logger.Warn("publishing fault", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	if len(r.hops) == 0 || r.store == nil {
		return
	}

	if err := r.store.BatchInsertHops(ctx, r.sessionID, r.hops); err != nil {
		r.logger.Error("storing hops",
			slog.Int("count", len(r.hops)),
			slog.String("error", err.Error()))
	}
	r.hops = r.hops[:0]
}

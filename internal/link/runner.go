// Package link drives a dsm.Session in real time and reports what happens on
// the air as a stream of events.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/telemetry"
)

const (
	// FaultThreshold is the default number of consecutive faults tolerated
	// before Run gives up.
	FaultThreshold = 50

	// maxLag is how far the schedule may fall behind before it is re-anchored
	// to the current time.
	maxLag = 50 * time.Millisecond
)

var (
	// ErrTooManyFaults is returned when the session keeps failing.
	ErrTooManyFaults = errors.New("too many consecutive link faults")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("runner is already running")
)

// EventKind tells which field of an Event is set.
type EventKind uint8

const (
	EventHop EventKind = iota + 1
	EventTelemetry
	EventFault
)

func (k EventKind) String() string {
	switch k {
	case EventHop:
		return "hop"
	case EventTelemetry:
		return "telemetry"
	case EventFault:
		return "fault"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Fault is a step that ended in a runtime error.
type Fault struct {
	Time  time.Time
	Phase dsm.Phase
	Err   error
}

// Event is one observation made while the link runs.
type Event struct {
	Kind      EventKind
	Hop       dsm.Hop
	Telemetry *telemetry.Telemetry
	Fault     Fault
}

// Stats is a snapshot of the runner counters.
type Stats struct {
	Steps     uint64
	Hops      uint64
	Telemetry uint64
	Faults    uint64
	Dropped   uint64
	Overruns  uint64
}

// Clock schedules steps. Wait blocks until deadline or until ctx is done.
type Clock interface {
	Now() time.Time
	Wait(ctx context.Context, deadline time.Time) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Wait(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithLogger sets the logger for the runner
func WithLogger(logger *slog.Logger) func(*Runner) {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock replaces the wall clock used to schedule steps.
func WithClock(c Clock) func(*Runner) {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithDuration stops the runner after d of link time. Zero runs until the
// context is cancelled.
func WithDuration(d time.Duration) func(*Runner) {
	return func(r *Runner) {
		r.duration = d
	}
}

// WithFaultThreshold sets the number of consecutive faults tolerated.
func WithFaultThreshold(n int) func(*Runner) {
	return func(r *Runner) {
		r.faultThreshold = n
	}
}

// WithSessionOptions passes extra options to dsm.NewSession.
func WithSessionOptions(options ...func(*dsm.Session)) func(*Runner) {
	return func(r *Runner) {
		r.sessionOptions = append(r.sessionOptions, options...)
	}
}

// Runner owns a session and calls Step on an absolute schedule so that delay
// errors do not accumulate across hops.
type Runner struct {
	session *dsm.Session
	clock   Clock

	duration       time.Duration
	faultThreshold int
	sessionOptions []func(*dsm.Session)

	events    chan<- Event
	telemetry *telemetry.Aggregator
	isRunning atomic.Bool

	steps    atomic.Uint64
	hops     atomic.Uint64
	frames   atomic.Uint64
	faults   atomic.Uint64
	dropped  atomic.Uint64
	overruns atomic.Uint64

	logger *slog.Logger
}

// New creates the session for cfg on tx and a runner around it.
func New(cfg dsm.Config, tx dsm.Transceiver, src dsm.ChannelSource, options ...func(*Runner)) (*Runner, error) {
	r := Runner{
		clock:          realClock{},
		faultThreshold: FaultThreshold,
		telemetry:      telemetry.NewAggregator(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	sessionOptions := append([]func(*dsm.Session){
		dsm.WithLogger(r.logger),
		dsm.WithClock(r.clock.Now),
		dsm.WithHopHandler(r.onHop),
		dsm.WithTelemetryHandler(r.onTelemetry),
	}, r.sessionOptions...)

	session, err := dsm.NewSession(cfg, tx, src, sessionOptions...)
	if err != nil {
		return nil, err
	}
	r.session = session

	return &r, nil
}

// Session returns the session driven by the runner.
func (r *Runner) Session() *dsm.Session {
	return r.session
}

// Get returns the merged telemetry snapshot, or nil before the first
// frame. It implements telemetry.Provider.
func (r *Runner) Get() *telemetry.Telemetry {
	return r.telemetry.Get()
}

// Stats returns the current counters. It is safe to call while Run is active.
func (r *Runner) Stats() Stats {
	return Stats{
		Steps:     r.steps.Load(),
		Hops:      r.hops.Load(),
		Telemetry: r.frames.Load(),
		Faults:    r.faults.Load(),
		Dropped:   r.dropped.Load(),
		Overruns:  r.overruns.Load(),
	}
}

// IsRunning reports whether Run is active.
func (r *Runner) IsRunning() bool {
	return r.isRunning.Load()
}

// Run steps the session until ctx is done, the configured duration elapses or
// too many consecutive faults occur. Events are sent to events without
// blocking; when the receiver falls behind they are dropped and counted.
// Run closes events before returning. A nil events channel disables events.
func (r *Runner) Run(ctx context.Context, events chan<- Event) error {
	if !r.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.isRunning.Store(false)

	r.events = events
	defer func() {
		if r.events != nil {
			close(r.events)
			r.events = nil
		}
	}()

	start := r.clock.Now()
	next := start

	var end time.Time
	if r.duration > 0 {
		end = start.Add(r.duration)
	}

	r.logger.Info("link started", slog.String("state", r.session.State().String()))

	consecutive := 0
	for {
		phase := r.session.State().Phase
		delay, err := r.session.Step()
		r.steps.Add(1)

		switch {
		case err != nil:
			consecutive++
			r.fault(err)
			if r.faultThreshold > 0 && consecutive >= r.faultThreshold {
				r.logger.Error("giving up on link", slog.Int("faults", consecutive))
				return fmt.Errorf("%w: %w", ErrTooManyFaults, err)
			}
		case phase == dsm.PhaseCheck1 || phase == dsm.PhaseCheck2 || phase == dsm.PhaseBind:
			// a confirmed transmission ends a fault streak
			consecutive = 0
		}

		next = next.Add(delay)
		if now := r.clock.Now(); now.Sub(next) > maxLag {
			r.overruns.Add(1)
			r.logger.Debug("schedule overrun, re-anchoring",
				slog.Duration("lag", now.Sub(next)))
			next = now
		}

		if !end.IsZero() && !next.Before(end) {
			r.logger.Info("link duration elapsed", slog.Duration("duration", r.duration))
			return nil
		}

		if err = r.clock.Wait(ctx, next); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("link stopped")
				return nil
			}
			return fmt.Errorf("waiting for next step: %w", err)
		}
	}
}

func (r *Runner) fault(err error) {
	r.faults.Add(1)

	f := Fault{Time: r.clock.Now(), Err: err}
	var rerr *dsm.RuntimeError
	if errors.As(err, &rerr) {
		f.Phase = rerr.Phase
	}

	r.emit(Event{Kind: EventFault, Fault: f})
}

func (r *Runner) onHop(h dsm.Hop) {
	r.hops.Add(1)
	r.emit(Event{Kind: EventHop, Hop: h})
}

func (r *Runner) onTelemetry(t *telemetry.Telemetry) {
	r.frames.Add(1)
	r.telemetry.Update(t)
	r.emit(Event{Kind: EventTelemetry, Telemetry: t})
}

func (r *Runner) emit(ev Event) {
	if r.events == nil {
		return
	}

	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

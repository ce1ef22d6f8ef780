package link

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/radio/sim"
	"github.com/anytx/dsmlink/internal/telemetry"
)

// fakeClock jumps straight to every deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Time
	advance time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Wait(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, deadline)
	if deadline.After(c.now) {
		c.now = deadline
	}
	c.now = c.now.Add(c.advance)
	return nil
}

func collect(events <-chan Event) func() []Event {
	var (
		out  []Event
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		for ev := range events {
			out = append(out, ev)
		}
	}()
	return func() []Event {
		<-done
		return out
	}
}

func TestRunner_Duration(t *testing.T) {
	clock := newFakeClock()
	radio := sim.New(sim.WithMfgID([6]byte{1, 2, 3, 4, 5, 6}))

	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 9, SkipBind: true}, radio,
		NewStatic(), WithClock(clock), WithDuration(time.Second))
	if err != nil {
		t.Fatal(err)
	}

	events := make(chan Event, 1024)
	wait := collect(events)

	if err = r.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := wait()

	if len(clock.waits) == 0 {
		t.Fatal("no waits recorded")
	}
	start := clock.waits[0].Add(-10 * time.Millisecond)
	if last := clock.waits[len(clock.waits)-1]; last.Sub(start) >= time.Second {
		t.Errorf("ran past duration: %v", last.Sub(start))
	}

	stats := r.Stats()
	if stats.Faults != 0 || stats.Dropped != 0 || stats.Overruns != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	// 990ms of 11ms frames at two hops per frame
	if stats.Hops < 170 || stats.Hops > 182 {
		t.Errorf("hops = %d", stats.Hops)
	}
	if uint64(len(got)) != stats.Hops {
		t.Errorf("events = %d, hops = %d", len(got), stats.Hops)
	}
	if uint64(len(radio.Frames())) < stats.Hops-2 {
		t.Errorf("frames on air = %d", len(radio.Frames()))
	}

	for i, ev := range got {
		if ev.Kind != EventHop || ev.Hop.Seq != uint64(i) {
			t.Fatalf("event %d = %s seq %d", i, ev.Kind, ev.Hop.Seq)
		}
	}
	if r.IsRunning() {
		t.Error("runner still marked running")
	}
}

func TestRunner_AbsoluteSchedule(t *testing.T) {
	clock := newFakeClock()
	clock.advance = 300 * time.Microsecond

	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSM2, NumChannels: 7, SkipBind: true}, sim.New(),
		NewStatic(), WithClock(clock), WithDuration(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err = r.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	// Jitter after each wait must not push later deadlines out.
	want := []time.Duration{10000, 1550, 2460, 1550, 16440, 1550, 2460}
	at := clock.waits[0].Add(-10 * time.Millisecond)
	for i, d := range want {
		at = at.Add(d * time.Microsecond)
		if !clock.waits[i].Equal(at) {
			t.Fatalf("wait %d at %v, want %v", i, clock.waits[i], at)
		}
	}
}

func TestRunner_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 7, SkipBind: true}, sim.New(),
		NewStatic(), WithClock(newFakeClock()))
	if err != nil {
		t.Fatal(err)
	}

	events := make(chan Event)
	done := make(chan error)
	go func() { done <- r.Run(ctx, events) }()

	<-events
	cancel()
	for range events {
	}

	if err = <-done; err != nil {
		t.Errorf("Run after cancel: %v", err)
	}
	if err = r.Run(ctx, nil); err != nil {
		t.Errorf("second Run on cancelled context: %v", err)
	}
}

func TestRunner_TooManyFaults(t *testing.T) {
	radio := sim.New()

	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 7, SkipBind: true, PollLimit: 3}, radio,
		NewStatic(), WithClock(newFakeClock()), WithFaultThreshold(4))
	if err != nil {
		t.Fatal(err)
	}
	radio.StallTx(-1)

	events := make(chan Event, 64)
	wait := collect(events)

	err = r.Run(context.Background(), events)
	if !errors.Is(err, ErrTooManyFaults) || !errors.Is(err, dsm.ErrTransmitTimeout) {
		t.Fatalf("expected ErrTooManyFaults wrapping a timeout, got %v", err)
	}

	var faults []Fault
	for _, ev := range wait() {
		if ev.Kind == EventFault {
			faults = append(faults, ev.Fault)
		}
	}
	if len(faults) != 4 || r.Stats().Faults != 4 {
		t.Fatalf("faults = %d", len(faults))
	}
	for _, f := range faults {
		if f.Phase != dsm.PhaseCheck1 {
			t.Errorf("fault in %s, want check-1", f.Phase)
		}
	}
}

func TestRunner_RecoversFromFault(t *testing.T) {
	radio := sim.New()
	clock := newFakeClock()

	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 7, SkipBind: true, PollLimit: 3}, radio,
		NewStatic(), WithClock(clock), WithDuration(500*time.Millisecond), WithFaultThreshold(2))
	if err != nil {
		t.Fatal(err)
	}
	radio.StallTx(3)

	if err = r.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats := r.Stats(); stats.Faults != 1 || stats.Hops < 10 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunner_DropsWhenConsumerIsSlow(t *testing.T) {
	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 7, SkipBind: true}, sim.New(),
		NewStatic(), WithClock(newFakeClock()), WithDuration(100*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	events := make(chan Event, 2)
	if err = r.Run(context.Background(), events); err != nil {
		t.Fatal(err)
	}

	n := 0
	for range events {
		n++
	}
	stats := r.Stats()
	if n != 2 || stats.Dropped != stats.Hops-2 {
		t.Errorf("received %d, stats %+v", n, stats)
	}
}

func TestRunner_Telemetry(t *testing.T) {
	radio := sim.New()
	r, err := New(dsm.Config{Protocol: dsm.ProtocolDSMX, NumChannels: 7, SkipBind: true, Telemetry: true}, radio,
		NewStatic(), WithClock(newFakeClock()), WithDuration(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if r.Get() != nil {
		t.Fatal("expected no telemetry before run")
	}

	radio.InjectFrame([]byte{0x12, 0x00, 0x00, 0x64})
	radio.InjectFrame([]byte{0x16, 0, 0, 0, 0, 0, 0, 0x45, 0, 0, 0, 0x10, 0, 0, 0, 0x03})

	events := make(chan Event, 256)
	wait := collect(events)
	if err = r.Run(context.Background(), events); err != nil {
		t.Fatal(err)
	}

	var frames int
	for _, ev := range wait() {
		if ev.Kind == EventTelemetry {
			frames++
		}
	}
	if frames != 2 || r.Stats().Telemetry != 2 {
		t.Fatalf("telemetry events = %d", frames)
	}

	var p telemetry.Provider = r
	snap := p.Get()
	if snap == nil || !snap.HasFix() || snap.Altitude == nil || *snap.Altitude != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(100, -200)
	if s.ChannelValue(0) != 100 || s.ChannelValue(1) != -200 || s.ChannelValue(5) != 0 || s.ChannelValue(-1) != 0 {
		t.Error("unexpected static values")
	}
	s.Set(4, 700)
	if s.ChannelValue(4) != 700 || s.ChannelValue(3) != 0 {
		t.Error("Set did not grow the table")
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSweep(time.Second, dsm.DefaultChannelMax, func() time.Time { return now })

	if v := s.ChannelValue(0); v != 0 {
		t.Errorf("start value = %d", v)
	}

	now = now.Add(250 * time.Millisecond)
	if v := s.ChannelValue(0); v != dsm.DefaultChannelMax {
		t.Errorf("quarter period = %d", v)
	}

	now = now.Add(500 * time.Millisecond)
	if v := s.ChannelValue(0); v != -dsm.DefaultChannelMax {
		t.Errorf("three quarters = %d", v)
	}

	for ch := 0; ch < 12; ch++ {
		if v := s.ChannelValue(ch); v > dsm.DefaultChannelMax || v < -dsm.DefaultChannelMax {
			t.Errorf("channel %d out of range: %d", ch, v)
		}
	}

	want := int32(math.Round(float64(dsm.DefaultChannelMax) * math.Sin(3*math.Pi/2+math.Pi/6)))
	if v := s.ChannelValue(1); v != want {
		t.Errorf("channel 1 = %d, want %d", v, want)
	}
}

package dsm

import (
	"errors"
	"testing"
	"time"

	"github.com/anytx/dsmlink/internal/radio/cyrf6936"
	"github.com/anytx/dsmlink/internal/radio/sim"
	"github.com/anytx/dsmlink/internal/telemetry"
)

func newTestSession(t *testing.T, cfg Config, options ...func(*Session)) (*Session, *sim.Transceiver) {
	t.Helper()

	radio := sim.New(sim.WithMfgID(scenarioID))
	s, err := NewSession(cfg, radio, ChannelFunc(func(int) int32 { return 0 }), options...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, radio
}

func steps(t *testing.T, s *Session, n int) []time.Duration {
	t.Helper()

	delays := make([]time.Duration, n)
	for i := range delays {
		d, err := s.Step()
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, s.State(), err)
		}
		delays[i] = d
	}
	return delays
}

func us(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, x := range v {
		out[i] = time.Duration(x) * time.Microsecond
	}
	return out
}

func equalDelays(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSession_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown protocol", Config{Protocol: "dsm3", NumChannels: 7}},
		{"empty protocol", Config{NumChannels: 7}},
		{"too few channels", Config{Protocol: ProtocolDSMX, NumChannels: 5}},
		{"too many channels", Config{Protocol: ProtocolDSMX, NumChannels: 13}},
		{"tx power", Config{Protocol: ProtocolDSM2, NumChannels: 7, TxPower: 8}},
		{"negative bind count", Config{Protocol: ProtocolDSM2, NumChannels: 7, BindCount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := sim.New()
			_, err := NewSession(tt.cfg, radio, ChannelFunc(func(int) int32 { return 0 }))

			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if radio.Resets() != 0 {
				t.Error("transceiver touched for an invalid configuration")
			}
		})
	}

	_, err := NewSession(Config{Protocol: "x", NumChannels: 7}, sim.New(), ChannelFunc(func(int) int32 { return 0 }))
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestNewSession_Initialize(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSM2, NumChannels: 7, FixedID: 0x00000100})

	if radio.Resets() != 1 {
		t.Errorf("resets = %d, want 1", radio.Resets())
	}

	writes := radio.Writes()
	if len(writes) != len(initRegisters) {
		t.Fatalf("register writes = %d, want %d", len(writes), len(initRegisters))
	}
	for i, w := range writes {
		if w.Reg != initRegisters[i].reg || w.Value != initRegisters[i].val {
			t.Errorf("write %d = 0x%02X:0x%02X", i, byte(w.Reg), w.Value)
		}
	}
	if radio.Preamble() != 0x333304 {
		t.Errorf("preamble = 0x%06X", radio.Preamble())
	}

	wantID := Identity{0x01, 0x03, 0x03, 0x04, 0x05, 0x06}
	if s.Identity() != wantID {
		t.Errorf("identity = % X, want % X", s.Identity(), wantID)
	}
	if s.State().Phase != PhaseBind {
		t.Errorf("state = %s, want bind", s.State())
	}

	ch, seed, sop, code, txMode := radio.Config()
	if ch != BindChannel || seed != wantID.CRCSeed() || !txMode {
		t.Errorf("bind radio config: channel %d seed 0x%04X tx %t", ch, seed, txMode)
	}
	sopCol, dataCol := wantID.Columns()
	row := PNRow(ProtocolDSM2, BindChannel)
	if sop != SOPCode(row, sopCol) {
		t.Errorf("bind sop code = % X", sop)
	}
	if want := BindDataCode(row, dataCol); string(code) != string(want[:]) {
		t.Errorf("bind data code = % X", code)
	}

	pkt := s.Packet()
	if !VerifyBindChecksums(&pkt) {
		t.Error("initial bind packet does not verify")
	}
	if got := s.Channels(); len(got) != DSM2ChannelCount {
		t.Errorf("channels = %v", got)
	}
}

func TestNewSession_KeepsChannelCount(t *testing.T) {
	s, _ := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 12})

	pkt := s.Packet()
	if pkt[11] != 12 {
		t.Errorf("bind packet channel count = %d, want 12", pkt[11])
	}
	if got := s.Channels(); len(got) != DSMXChannelCount {
		t.Errorf("channels = %d, want %d", len(got), DSMXChannelCount)
	}
}

func TestStep_BindCountdown(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 7, BindCount: 2})

	delays := steps(t, s, 2)
	if !equalDelays(delays, us(8500, 1500)) {
		t.Errorf("bind delays = %v", delays)
	}
	if s.State().Phase != PhaseChannelSelect {
		t.Fatalf("state = %s, want channel-select", s.State())
	}

	frames := radio.Frames()
	if len(frames) != 1 {
		t.Fatalf("bind frames = %d, want 1", len(frames))
	}
	if frames[0].Payload != [16]byte(s.Packet()) || frames[0].Channel != BindChannel {
		t.Errorf("unexpected bind frame: %+v", frames[0])
	}
}

func TestStep_BindAlternates(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSM2, NumChannels: 6, BindCount: 10})

	delays := steps(t, s, 10)
	for i, d := range delays {
		want := 1500 * time.Microsecond
		if i%2 == 0 {
			want = 8500 * time.Microsecond
		}
		if d != want {
			t.Errorf("bind step %d = %v, want %v", i, d, want)
		}
	}
	if len(radio.Frames()) != 5 {
		t.Errorf("bind frames = %d, want 5", len(radio.Frames()))
	}
	if s.State().Phase != PhaseChannelSelect {
		t.Errorf("state = %s, want channel-select", s.State())
	}
}

func TestStep_SkipBind(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true})
	if s.State().Phase != PhaseChannelSelect {
		t.Fatalf("state = %s, want channel-select", s.State())
	}

	d, err := s.Step()
	if err != nil || d != 10*time.Millisecond {
		t.Fatalf("channel select = %v, %v", d, err)
	}
	if want := (State{Phase: PhaseWrite1, SubLink: SubLinkA}); s.State() != want {
		t.Errorf("state = %s, want %s", s.State(), want)
	}
	if radio.Register(cyrf6936.RegFramingCfg) != 0xEA {
		t.Error("data mode registers not applied")
	}
	if c := s.Cursor(); c.Index != 1 || c.Polarity != 1 {
		t.Errorf("cursor = %+v", c)
	}
}

func TestStep_FrameTiming(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		want     []time.Duration
		subLinks []SubLink
	}{
		{
			name:     "7 channels fold the B half",
			channels: 7,
			want:     us(10000, 1550, 2460, 1550, 16440, 1550, 2460, 1550, 16440),
			subLinks: []SubLink{SubLinkA, SubLinkA},
		},
		{
			name:     "8 channels use both halves",
			channels: 8,
			want:     us(10000, 1550, 2460, 1550, 5440, 1550, 2460, 1550, 5440),
			subLinks: []SubLink{SubLinkB, SubLinkA},
		},
		{
			name:     "9 channels use both halves",
			channels: 9,
			want:     us(10000, 1550, 2460, 1550, 5440, 1550, 2460, 1550, 5440),
			subLinks: []SubLink{SubLinkB, SubLinkA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: tt.channels, SkipBind: true})

			delays := steps(t, s, 5)
			if s.State().SubLink != tt.subLinks[0] {
				t.Errorf("after first pair: sub-link %s, want %s", s.State().SubLink, tt.subLinks[0])
			}
			delays = append(delays, steps(t, s, 4)...)
			if s.State().SubLink != tt.subLinks[1] {
				t.Errorf("after second pair: sub-link %s, want %s", s.State().SubLink, tt.subLinks[1])
			}

			if !equalDelays(delays, tt.want) {
				t.Errorf("delays\n got %v\nwant %v", delays, tt.want)
			}
		})
	}
}

func TestStep_HopSequenceOnAir(t *testing.T) {
	for _, p := range []Protocol{ProtocolDSM2, ProtocolDSMX} {
		t.Run(p.String(), func(t *testing.T) {
			s, radio := newTestSession(t, Config{Protocol: p, NumChannels: 10, SkipBind: true})
			steps(t, s, 1+4*60)

			channels := s.Channels()
			sopCol, dataCol := s.Columns()
			frames := radio.Frames()
			if len(frames) != 120 {
				t.Fatalf("frames = %d, want 120", len(frames))
			}

			for k, f := range frames {
				wantCh := channels[k%len(channels)]
				wantSeed := s.CRCSeed()
				if k%2 == 1 {
					wantSeed = ^wantSeed
				}

				if f.Channel != wantCh || f.Seed != wantSeed {
					t.Fatalf("frame %d on channel %d seed 0x%04X, want %d 0x%04X", k, f.Channel, f.Seed, wantCh, wantSeed)
				}
				if !f.Valid(wantSeed) || f.Valid(^wantSeed) {
					t.Fatalf("frame %d: crc does not match seed polarity", k)
				}

				row := PNRow(p, wantCh)
				if f.SOPCode != SOPCode(row, sopCol) {
					t.Fatalf("frame %d: sop code % X", k, f.SOPCode)
				}
				if want := DataCode(row, dataCol); string(f.DataCode) != string(want[:]) {
					t.Fatalf("frame %d: data code % X", k, f.DataCode)
				}
			}
		})
	}
}

func TestSetSOPDataCRC_Cursor(t *testing.T) {
	s, _ := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 7})

	for n := 1; n <= 100; n++ {
		s.setSOPDataCRC(SubLinkA)
		c := s.Cursor()
		if c.Polarity != uint8(n%2) || c.Index != n%DSMXChannelCount {
			t.Fatalf("after %d hops: cursor %+v", n, c)
		}
	}
	if s.Hops() != 100 {
		t.Errorf("hops = %d", s.Hops())
	}
}

func TestStep_HopHandler(t *testing.T) {
	var hops []Hop
	s, _ := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 9, SkipBind: true},
		WithHopHandler(func(h Hop) { hops = append(hops, h) }))

	steps(t, s, 9)

	if len(hops) != 5 {
		t.Fatalf("hops = %d, want 5", len(hops))
	}
	wantSub := []SubLink{SubLinkA, SubLinkA, SubLinkB, SubLinkB, SubLinkA}
	channels := s.Channels()
	for i, h := range hops {
		if h.Seq != uint64(i) || h.Index != i || h.Channel != channels[i] || h.Polarity != uint8(i%2) {
			t.Errorf("hop %d = %+v", i, h)
		}
		if h.SubLink != wantSub[i] {
			t.Errorf("hop %d sub-link = %s, want %s", i, h.SubLink, wantSub[i])
		}
	}
}

func TestStep_TxPowerResync(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSM2, NumChannels: 7, TxPower: 3, SkipBind: true})

	steps(t, s, 4)
	if got := radio.Register(cyrf6936.RegTxCfg); got != 0x2F {
		t.Fatalf("tx cfg before check = 0x%02X, want 0x2F", got)
	}
	steps(t, s, 1)
	if got := radio.Register(cyrf6936.RegTxCfg); got != 0x2B {
		t.Errorf("tx cfg after check = 0x%02X, want 0x2B", got)
	}
}

func TestStep_TransmitTimeout(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true, PollLimit: 10})

	steps(t, s, 2)
	radio.StallTx(-1)

	d, err := s.Step()
	if !errors.Is(err, ErrTransmitTimeout) {
		t.Fatalf("expected ErrTransmitTimeout, got %v", err)
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Phase != PhaseCheck1 {
		t.Errorf("expected RuntimeError in check-1, got %v", err)
	}
	if d != RecoveryDelay {
		t.Errorf("delay = %v, want %v", d, RecoveryDelay)
	}
	if s.State().Phase != PhaseChannelSelect {
		t.Errorf("state = %s, want channel-select", s.State())
	}
	if s.Faults() != 1 {
		t.Errorf("faults = %d", s.Faults())
	}

	radio.Recover()
	delays := steps(t, s, 5)
	if !equalDelays(delays, us(10000, 1550, 2460, 1550, 16440)) {
		t.Errorf("delays after recovery = %v", delays)
	}
}

func TestStep_TransientStall(t *testing.T) {
	s, radio := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true, PollLimit: 10})

	steps(t, s, 2)
	radio.StallTx(5)
	if d, err := s.Step(); err != nil || d != 2460*time.Microsecond {
		t.Errorf("check after short stall = %v, %v", d, err)
	}
}

func TestStep_TelemetryRead(t *testing.T) {
	var got []*telemetry.Telemetry
	s, radio := newTestSession(t,
		Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true, Telemetry: true},
		WithTelemetryHandler(func(t *telemetry.Telemetry) { got = append(got, t) }))

	gps := make([]byte, 16)
	gps[0], gps[7], gps[11], gps[15] = 0x16, 0x45, 0x10, 0x03
	radio.InjectFrame(gps)

	delays := steps(t, s, 5)
	if delays[4] != 5040*time.Microsecond {
		t.Errorf("check-2 with telemetry = %v, want 5.04ms", delays[4])
	}
	if want := (State{Phase: PhaseRead, SubLink: SubLinkA}); s.State() != want {
		t.Fatalf("state = %s, want %s", s.State(), want)
	}
	if radio.Register(cyrf6936.RegRxCtrl) != 0x87 {
		t.Error("receiver not armed")
	}

	delays = steps(t, s, 2)
	if !equalDelays(delays, us(11000, 400)) {
		t.Errorf("read delays = %v", delays)
	}
	if len(got) != 1 || got[0].Sensor != telemetry.SensorGPSPos {
		t.Fatalf("telemetry = %+v", got)
	}
	if *got[0].Latitude != 45 {
		t.Errorf("latitude = %f", *got[0].Latitude)
	}
	if want := (State{Phase: PhaseWrite1, SubLink: SubLinkA}); s.State() != want {
		t.Errorf("state = %s, want %s", s.State(), want)
	}
	if _, _, _, _, tx := radio.Config(); !tx {
		t.Error("expected transmit mode after read")
	}
}

func TestStep_TelemetryUnfolded(t *testing.T) {
	s, _ := newTestSession(t, Config{Protocol: ProtocolDSMX, NumChannels: 10, SkipBind: true, Telemetry: true})

	delays := steps(t, s, 6)
	if !equalDelays(delays, us(10000, 1550, 2460, 1550, 5040, 400)) {
		t.Errorf("delays = %v", delays)
	}
	if want := (State{Phase: PhaseWrite1, SubLink: SubLinkB}); s.State() != want {
		t.Errorf("state = %s, want %s", s.State(), want)
	}
}

// flakyRadio fails every RF channel change while down is set.
type flakyRadio struct {
	*sim.Transceiver
	down bool
}

func (r *flakyRadio) SetRFChannel(ch uint8) error {
	if r.down {
		return errors.New("spi: bus error")
	}
	return r.Transceiver.SetRFChannel(ch)
}

func TestStep_HopNotCountedOnRadioError(t *testing.T) {
	radio := &flakyRadio{Transceiver: sim.New(sim.WithMfgID(scenarioID))}

	var hops []Hop
	s, err := NewSession(Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true}, radio,
		ChannelFunc(func(int) int32 { return 0 }),
		WithHopHandler(func(h Hop) { hops = append(hops, h) }))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	radio.down = true
	if _, err = s.Step(); err == nil {
		t.Fatal("expected a fault while the radio is down")
	}
	if s.Hops() != 0 || len(hops) != 0 {
		t.Fatalf("hops = %d, handler calls = %d, want none", s.Hops(), len(hops))
	}

	radio.down = false
	steps(t, s, 9)

	if s.Hops() != uint64(len(hops)) {
		t.Errorf("Hops() = %d, handler saw %d", s.Hops(), len(hops))
	}
	for i, h := range hops {
		if h.Seq != uint64(i) {
			t.Errorf("hop %d has seq %d", i, h.Seq)
		}
	}
}

func TestStep_LongRunKeepsSimulatorLogsBounded(t *testing.T) {
	radio := sim.New(sim.WithMfgID(scenarioID), sim.WithFrameLimit(64))
	s, err := NewSession(Config{Protocol: ProtocolDSMX, NumChannels: 7, SkipBind: true}, radio,
		ChannelFunc(func(int) int32 { return 0 }))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	for _, n := range []int{1_000, 10_000, 50_000} {
		steps(t, s, n)
		if w, f := len(radio.Writes()), len(radio.Frames()); w > 64 || f > 64 {
			t.Fatalf("after %d more steps the simulator holds %d writes and %d frames, want at most 64", n, w, f)
		}
	}
	if radio.Sent() == 0 {
		t.Error("no frames were sent")
	}
}

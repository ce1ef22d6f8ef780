package dsm

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/anytx/dsmlink/internal/telemetry"
)

// ChannelSource supplies the application channel values encoded into data
// packets. Values are in [-ChannelMax, ChannelMax].
type ChannelSource interface {
	ChannelValue(ch int) int32
}

// ChannelFunc adapts a function to a ChannelSource.
type ChannelFunc func(ch int) int32

func (f ChannelFunc) ChannelValue(ch int) int32 { return f(ch) }

// Cursor is the position in the hop sequence and the CRC seed polarity used
// for the next hop.
type Cursor struct {
	Index    int
	Polarity uint8
}

// Hop describes one reconfiguration of the transceiver.
type Hop struct {
	Seq      uint64
	Time     time.Time
	Index    int
	Channel  uint8
	Polarity uint8
	Row      int
	SubLink  SubLink
}

// WithLogger sets the logger for the session
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithHopHandler registers a function called on every hop reconfiguration.
// It runs inside Step and must not block.
func WithHopHandler(fn func(Hop)) func(*Session) {
	return func(s *Session) {
		s.onHop = fn
	}
}

// WithTelemetryHandler registers a function called with every decoded
// telemetry frame. It runs inside Step and must not block.
func WithTelemetryHandler(fn func(*telemetry.Telemetry)) func(*Session) {
	return func(s *Session) {
		s.onTelemetry = fn
	}
}

// WithClock overrides the time source used to stamp hops and telemetry.
func WithClock(now func() time.Time) func(*Session) {
	return func(s *Session) {
		s.now = now
	}
}

// Session is one transmitter link. It is not safe for concurrent use: Step
// must be called from a single timer path.
type Session struct {
	cfg   Config
	radio radio
	src   ChannelSource

	identity    Identity
	channels    []uint8
	crc         uint16
	sopCol      int
	dataCol     int
	numChannels int
	chmap       []byte

	bindCount  int
	pollLimit  int
	channelMax int32

	packet Packet
	cursor Cursor
	state  State
	hops   uint64
	faults uint64

	onHop       func(Hop)
	onTelemetry func(*telemetry.Telemetry)
	now         func() time.Time
	logger      *slog.Logger
}

// NewSession validates cfg, initializes the transceiver and prepares the bind
// phase (or channel-select when binding is skipped).
func NewSession(cfg Config, tx Transceiver, src ChannelSource, options ...func(*Session)) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, NewConfigError("dsm.NewSession: transceiver is required")
	}
	if src == nil {
		return nil, NewConfigError("dsm.NewSession: channel source is required")
	}

	s := Session{
		cfg:         cfg,
		radio:       radio{tx: tx},
		src:         src,
		numChannels: cfg.NumChannels,
		chmap:       ChannelMap(cfg.NumChannels),
		bindCount:   cfg.bindCount(),
		pollLimit:   cfg.pollLimit(),
		channelMax:  cfg.channelMax(),
		now:         time.Now,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	return &s, nil
}

func (s *Session) initialize() error {
	s.radio.reset()
	if err := s.radio.takeErr(); err != nil {
		return err
	}

	mfg, err := s.radio.tx.MfgID()
	if err != nil {
		return fmt.Errorf("reading manufacturer id: %w", err)
	}
	s.identity = Identity(mfg).WithFixedID(s.cfg.FixedID)

	s.radio.writeRegisters(initRegisters)
	s.radio.setPreamble(preamble)
	s.radio.setRFChannel(initialChannel)

	if s.cfg.Protocol == ProtocolDSMX {
		ch := DSMXChannels(s.identity)
		s.channels = ch[:]
	} else {
		ch := LegacyChannels(s.identity, s.cfg.FixedID)
		s.channels = ch[:]
	}

	s.crc = s.identity.CRCSeed()
	s.sopCol, s.dataCol = s.identity.Columns()

	s.radio.setTxMode(true)
	if s.cfg.SkipBind {
		s.state = State{Phase: PhaseChannelSelect}
	} else {
		s.state = State{Phase: PhaseBind}
		s.initializeBind()
	}

	if err = s.radio.takeErr(); err != nil {
		return err
	}

	s.logger.Info("session initialized",
		slog.String("protocol", s.cfg.Protocol.String()),
		slog.String("identity", s.identity.String()),
		slog.String("crcSeed", fmt.Sprintf("0x%04X", s.crc)),
		slog.Int("sopCol", s.sopCol),
		slog.Int("dataCol", s.dataCol),
		slog.Int("numChannels", s.numChannels),
		slog.String("channels", fmt.Sprint(s.channels)),
		slog.String("state", s.state.String()))

	return nil
}

func (s *Session) initializeBind() {
	row := PNRow(s.cfg.Protocol, BindChannel)
	sop := SOPCode(row, s.sopCol)
	code := BindDataCode(row, s.dataCol)

	s.radio.setRFChannel(BindChannel)
	s.radio.setCRCSeed(s.crc)
	s.radio.setSOPCode(sop[:])
	s.radio.setDataCode(code[:])

	BuildBindPacket(&s.packet, s.cfg.Protocol, s.identity, s.cfg.Model, s.numChannels)
}

// setSOPDataCRC programs the transceiver for the hop at the cursor and then
// advances the cursor. sub is the half the hop will carry.
func (s *Session) setSOPDataCRC(sub SubLink) {
	ch := s.channels[s.cursor.Index]
	row := PNRow(s.cfg.Protocol, ch)

	seed := s.crc
	if s.cursor.Polarity == 1 {
		seed = ^s.crc
	}
	sop := SOPCode(row, s.sopCol)
	data := DataCode(row, s.dataCol)

	s.radio.setRFChannel(ch)
	s.radio.setCRCSeed(seed)
	s.radio.setSOPCode(sop[:])
	s.radio.setDataCode(data[:])

	// a hop counts only once the radio has taken it
	if s.radio.err == nil {
		if s.onHop != nil {
			s.onHop(Hop{
				Seq:      s.hops,
				Time:     s.now(),
				Index:    s.cursor.Index,
				Channel:  ch,
				Polarity: s.cursor.Polarity,
				Row:      row,
				SubLink:  sub,
			})
		}
		s.hops++
	}

	s.cursor.Index = (s.cursor.Index + 1) % len(s.channels)
	s.cursor.Polarity ^= 1
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Identity returns the manufacturer identity after the fixed ID override.
func (s *Session) Identity() Identity { return s.identity }

// Channels returns a copy of the hop sequence.
func (s *Session) Channels() []uint8 {
	out := make([]uint8, len(s.channels))
	copy(out, s.channels)
	return out
}

// CRCSeed returns the session CRC seed before polarity is applied.
func (s *Session) CRCSeed() uint16 { return s.crc }

// Columns returns the start-of-packet and data code columns.
func (s *Session) Columns() (sop, data int) { return s.sopCol, s.dataCol }

// Packet returns the last frame built by the session.
func (s *Session) Packet() Packet { return s.packet }

// Cursor returns the hop cursor for the next reconfiguration.
func (s *Session) Cursor() Cursor { return s.cursor }

// Hops returns the number of hop reconfigurations performed.
func (s *Session) Hops() uint64 { return s.hops }

// Faults returns the number of steps that ended in a RuntimeError.
func (s *Session) Faults() uint64 { return s.faults }

// Config returns the configuration the session was created with.
func (s *Session) Config() Config { return s.cfg }

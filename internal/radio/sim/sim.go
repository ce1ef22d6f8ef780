// Package sim provides a software CYRF6936 used to run a DSM session without
// hardware. It keeps a log of every frame put on the air together with the
// radio configuration it was sent with.
package sim

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sigurn/crc16"

	"github.com/anytx/dsmlink/internal/radio/cyrf6936"
)

// ErrNotReset is returned for radio operations issued before Reset.
var ErrNotReset = errors.New("sim: transceiver not reset")

// Frame is one packet as transmitted by the simulator.
type Frame struct {
	Time     time.Time
	Channel  uint8
	Seed     uint16
	SOPCode  [8]byte
	DataCode []byte
	Payload  [cyrf6936.PacketSize]byte
	CRC      uint16
}

// Valid reports whether the frame CRC matches seed.
func (f Frame) Valid(seed uint16) bool {
	return crc16.Checksum(f.Payload[:], crcTable(seed)) == f.CRC
}

var (
	tablesMu sync.Mutex
	tables   = make(map[uint16]*crc16.Table)
)

// crcTable returns the CCITT table initialised with seed. A session only uses
// a seed and its complement so the cache stays small.
func crcTable(seed uint16) *crc16.Table {
	tablesMu.Lock()
	defer tablesMu.Unlock()

	if t, ok := tables[seed]; ok {
		return t
	}
	t := crc16.MakeTable(crc16.Params{
		Poly: 0x1021,
		Init: seed,
		Name: "CYRF-SEEDED",
	})
	tables[seed] = t
	return t
}

// WithMfgID sets the manufacturer ID returned by MfgID.
func WithMfgID(id [6]byte) func(*Transceiver) {
	return func(t *Transceiver) {
		t.mfgID = id
	}
}

// WithLogger sets the logger for the transceiver
func WithLogger(logger *slog.Logger) func(*Transceiver) {
	return func(t *Transceiver) {
		t.logger = logger.With(slog.String("device", "sim"))
	}
}

// WithClock overrides the time source used to stamp frames.
func WithClock(now func() time.Time) func(*Transceiver) {
	return func(t *Transceiver) {
		t.now = now
	}
}

// WithFrameLimit bounds the number of frames kept in the air log and of
// entries kept in the register write log. Older entries are dropped first.
// Zero keeps everything.
func WithFrameLimit(n int) func(*Transceiver) {
	return func(t *Transceiver) {
		t.frameLimit = n
	}
}

// Transceiver is a simulated CYRF6936. It is safe for concurrent use so tests
// and tools can inspect it while a session drives it.
type Transceiver struct {
	mu sync.Mutex

	mfgID     [6]byte
	resets    int
	registers map[cyrf6936.Register]byte
	writes    []RegisterWrite

	txMode   bool
	channel  uint8
	seed     uint16
	sop      [8]byte
	dataCode []byte
	preamble uint32

	txPending  bool
	txStall    int
	rxArmed    bool
	rxQueue    [][cyrf6936.PacketSize]byte
	frames     []Frame
	frameLimit int
	sent       uint64

	now    func() time.Time
	logger *slog.Logger
}

// RegisterWrite is one logged register write.
type RegisterWrite struct {
	Reg   cyrf6936.Register
	Value byte
}

// New creates a simulated transceiver.
func New(options ...func(*Transceiver)) *Transceiver {
	t := Transceiver{
		registers: make(map[cyrf6936.Register]byte),
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

func (t *Transceiver) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resets++
	clear(t.registers)
	t.writes = t.writes[:0]
	t.txPending = false
	t.rxArmed = false
	t.logger.Debug("reset")
	return nil
}

func (t *Transceiver) MfgID() ([6]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resets == 0 {
		return [6]byte{}, ErrNotReset
	}
	return t.mfgID, nil
}

func (t *Transceiver) WriteRegister(reg cyrf6936.Register, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.registers[reg] = value
	t.writes = trim(append(t.writes, RegisterWrite{Reg: reg, Value: value}), t.frameLimit)

	switch reg {
	case cyrf6936.RegRxCtrl:
		t.rxArmed = value&0x80 != 0 && !t.txMode
	case cyrf6936.RegChannel:
		t.channel = value
	}
	return nil
}

func (t *Transceiver) ReadRegister(reg cyrf6936.Register) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch reg {
	case cyrf6936.RegTxIRQStatus:
		if !t.txPending {
			return 0, nil
		}
		if t.txStall != 0 {
			if t.txStall > 0 {
				t.txStall--
			}
			return 0, nil
		}
		t.txPending = false
		return cyrf6936.TxComplete, nil

	case cyrf6936.RegRxIRQStatus:
		if t.rxArmed && len(t.rxQueue) > 0 {
			return cyrf6936.RxComplete, nil
		}
		return 0, nil
	}

	return t.registers[reg], nil
}

func (t *Transceiver) SetTxMode(tx bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.txMode = tx
	if tx {
		t.rxArmed = false
	}
	return nil
}

func (t *Transceiver) SetRFChannel(ch uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.channel = ch
	t.registers[cyrf6936.RegChannel] = ch
	return nil
}

func (t *Transceiver) SetCRCSeed(seed uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seed = seed
	t.registers[cyrf6936.RegCRCSeedLSB] = byte(seed)
	t.registers[cyrf6936.RegCRCSeedMSB] = byte(seed >> 8)
	return nil
}

func (t *Transceiver) SetSOPCode(code []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy(t.sop[:], code)
	return nil
}

func (t *Transceiver) SetDataCode(code []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dataCode = append(t.dataCode[:0], code...)
	return nil
}

func (t *Transceiver) SetPreamble(preamble uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.preamble = preamble
	return nil
}

func (t *Transceiver) WritePacket(pkt []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resets == 0 {
		return ErrNotReset
	}

	f := Frame{
		Time:     t.now(),
		Channel:  t.channel,
		Seed:     t.seed,
		SOPCode:  t.sop,
		DataCode: append([]byte(nil), t.dataCode...),
	}
	copy(f.Payload[:], pkt)
	f.CRC = crc16.Checksum(f.Payload[:], crcTable(t.seed))

	t.frames = trim(append(t.frames, f), t.frameLimit)
	t.sent++
	t.txPending = true
	return nil
}

func (t *Transceiver) ReadPacket(pkt []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rxQueue) == 0 {
		return errors.New("sim: receive buffer empty")
	}
	copy(pkt, t.rxQueue[0][:])
	t.rxQueue = t.rxQueue[1:]
	return nil
}

// InjectFrame queues a frame that is delivered the next time the transmitter
// listens.
func (t *Transceiver) InjectFrame(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var f [cyrf6936.PacketSize]byte
	copy(f[:], frame)
	t.rxQueue = append(t.rxQueue, f)
}

// StallTx holds the transmit-complete bit low for the next n status reads. A
// negative n stalls until Recover is called.
func (t *Transceiver) StallTx(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txStall = n
}

// Recover clears a transmit stall.
func (t *Transceiver) Recover() {
	t.StallTx(0)
}

// Frames returns a copy of the air log.
func (t *Transceiver) Frames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Frame, len(t.frames))
	copy(out, t.frames)
	return out
}

// Sent returns the total number of transmitted frames.
func (t *Transceiver) Sent() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// Writes returns the register writes since the last reset.
func (t *Transceiver) Writes() []RegisterWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RegisterWrite, len(t.writes))
	copy(out, t.writes)
	return out
}

// Register returns the last value written to reg.
func (t *Transceiver) Register(reg cyrf6936.Register) byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registers[reg]
}

// Resets returns how many times the transceiver was reset.
func (t *Transceiver) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Config returns the current radio configuration.
func (t *Transceiver) Config() (channel uint8, seed uint16, sop [8]byte, dataCode []byte, txMode bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel, t.seed, t.sop, append([]byte(nil), t.dataCode...), t.txMode
}

// Preamble returns the configured preamble.
func (t *Transceiver) Preamble() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preamble
}

// trim keeps the newest limit entries of log. The survivors are moved to the
// front so the backing array is reused instead of growing.
func trim[T any](log []T, limit int) []T {
	if limit <= 0 || len(log) <= limit {
		return log
	}
	n := copy(log, log[len(log)-limit:])
	return log[:n]
}

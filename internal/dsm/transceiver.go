package dsm

import (
	"fmt"

	"github.com/anytx/dsmlink/internal/radio/cyrf6936"
)

// Transceiver is the register level radio a Session drives. A session owns its
// transceiver exclusively for its lifetime.
type Transceiver interface {
	Reset() error
	MfgID() ([6]byte, error)
	WriteRegister(reg cyrf6936.Register, value byte) error
	ReadRegister(reg cyrf6936.Register) (byte, error)

	// SetTxMode switches between transmit (true) and receive (false).
	SetTxMode(tx bool) error
	SetRFChannel(ch uint8) error
	SetCRCSeed(seed uint16) error
	SetSOPCode(code []byte) error
	SetDataCode(code []byte) error
	SetPreamble(preamble uint32) error

	// WritePacket loads a frame and starts transmitting it.
	WritePacket(pkt []byte) error
	ReadPacket(pkt []byte) error
}

type regValue struct {
	reg cyrf6936.Register
	val byte
}

// initRegisters is pushed once after reset.
var initRegisters = []regValue{
	{cyrf6936.RegModeOverride, 0x01},
	{cyrf6936.RegClkEn, 0x02},
	{cyrf6936.RegAutoCalTime, 0x3C},
	{cyrf6936.RegAutoCalOffset, 0x14},
	{cyrf6936.RegIOCfg, 0x04},
	{cyrf6936.RegGPIOCtrl, 0x20},
	{cyrf6936.RegRxCfg, 0x48},
	{cyrf6936.RegTxOffsetLSB, 0x55},
	{cyrf6936.RegTxOffsetMSB, 0x05},
	{cyrf6936.RegXactCfg, 0x24},
	{cyrf6936.RegTxCfg, 0x38 | MaxTxPower},
	{cyrf6936.RegData64Thold, 0x0A},
	{cyrf6936.RegXtalCtrl, 0xC0},
	{cyrf6936.RegXactCfg, 0x04},
	{cyrf6936.RegAnalogCtrl, 0x01},
	{cyrf6936.RegXactCfg, 0x24},
	{cyrf6936.RegRxAbort, 0x00},
	{cyrf6936.RegData64Thold, 0x0A},
	{cyrf6936.RegFramingCfg, 0x4A},
	{cyrf6936.RegRxAbort, 0x0F},
	{cyrf6936.RegTxCfg, 0x38 | MaxTxPower},
	{cyrf6936.RegFramingCfg, 0x4A},
	{cyrf6936.RegTxOverride, 0x04},
	{cyrf6936.RegRxOverride, 0x14},
	{cyrf6936.RegEOPCtrl, 0x02},
	{cyrf6936.RegTxLength, 0x10},
}

// dataRegisters switch the radio from bind to data mode.
var dataRegisters = []regValue{
	{cyrf6936.RegRxCtrl, 0x83},
	{cyrf6936.RegRxAbort, 0x20},
	{cyrf6936.RegXactCfg, 0x24},
	{cyrf6936.RegRxAbort, 0x00},
	{cyrf6936.RegTxCfg, 0x08 | MaxTxPower},
	{cyrf6936.RegFramingCfg, 0xEA},
	{cyrf6936.RegTxOverride, 0x00},
	{cyrf6936.RegRxOverride, 0x00},
	{cyrf6936.RegTxCfg, 0x28 | MaxTxPower},
	{cyrf6936.RegData64Thold, 0x3F},
	{cyrf6936.RegFramingCfg, 0xFF},
	{cyrf6936.RegXactCfg, 0x24},
	{cyrf6936.RegRxAbort, 0x00},
	{cyrf6936.RegData64Thold, 0x0A},
	{cyrf6936.RegFramingCfg, 0xEA},
}

const (
	preamble       uint32 = 0x333304
	initialChannel uint8  = 0x61

	txPowerBase byte = 0x28
	rxArm       byte = 0x80
	rxStart     byte = 0x87
)

// radio wraps a Transceiver and keeps the first error so a step can issue a
// sequence of commands and check once at the end.
type radio struct {
	tx  Transceiver
	err error
}

func (r *radio) fail(op string, err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", op, err)
	}
}

func (r *radio) reset() {
	if r.err == nil {
		r.fail("reset", r.tx.Reset())
	}
}

func (r *radio) writeRegister(reg cyrf6936.Register, v byte) {
	if r.err == nil {
		r.fail(fmt.Sprintf("writing register 0x%02X", byte(reg)), r.tx.WriteRegister(reg, v))
	}
}

func (r *radio) writeRegisters(values []regValue) {
	for _, rv := range values {
		r.writeRegister(rv.reg, rv.val)
	}
}

func (r *radio) readRegister(reg cyrf6936.Register) byte {
	if r.err != nil {
		return 0
	}
	v, err := r.tx.ReadRegister(reg)
	r.fail(fmt.Sprintf("reading register 0x%02X", byte(reg)), err)
	return v
}

func (r *radio) setTxMode(tx bool) {
	if r.err == nil {
		r.fail("setting tx mode", r.tx.SetTxMode(tx))
	}
}

func (r *radio) setRFChannel(ch uint8) {
	if r.err == nil {
		r.fail("setting rf channel", r.tx.SetRFChannel(ch))
	}
}

func (r *radio) setCRCSeed(seed uint16) {
	if r.err == nil {
		r.fail("setting crc seed", r.tx.SetCRCSeed(seed))
	}
}

func (r *radio) setSOPCode(code []byte) {
	if r.err == nil {
		r.fail("setting sop code", r.tx.SetSOPCode(code))
	}
}

func (r *radio) setDataCode(code []byte) {
	if r.err == nil {
		r.fail("setting data code", r.tx.SetDataCode(code))
	}
}

func (r *radio) setPreamble(p uint32) {
	if r.err == nil {
		r.fail("setting preamble", r.tx.SetPreamble(p))
	}
}

func (r *radio) writePacket(pkt []byte) {
	if r.err == nil {
		r.fail("writing packet", r.tx.WritePacket(pkt))
	}
}

func (r *radio) readPacket(pkt []byte) {
	if r.err == nil {
		r.fail("reading packet", r.tx.ReadPacket(pkt))
	}
}

// takeErr returns the pending error and clears it.
func (r *radio) takeErr() error {
	err := r.err
	r.err = nil
	return err
}

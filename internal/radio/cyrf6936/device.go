// Package cyrf6936 drives a Cypress CYRF6936 2.4 GHz transceiver over SPI.
package cyrf6936

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"tinygo.org/x/drivers"
)

const (
	resetPulse  = 100 * time.Microsecond
	resetSettle = 200 * time.Microsecond

	modeOverrideReset byte = 0x01

	txStart byte = 0x40
	txClear byte = 0xBF

	mfgIDEnable  byte = 0xFF
	mfgIDDisable byte = 0x00
)

// Pin is a digital output, such as machine.Pin on a microcontroller.
type Pin interface {
	High()
	Low()
}

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(*Device) {
	return func(d *Device) {
		d.logger = logger.With(slog.String("device", "cyrf6936"))
	}
}

// WithResetPin wires the hardware reset line. Without it Reset falls back to
// the soft reset bit of the mode override register.
func WithResetPin(pin Pin) func(*Device) {
	return func(d *Device) {
		d.reset = pin
	}
}

// Device is a CYRF6936 on an SPI bus. Chip select is driven around every
// register access.
type Device struct {
	bus   drivers.SPI
	cs    Pin
	reset Pin

	buf    [1 + 2*PacketSize]byte
	sleep  func(time.Duration)
	logger *slog.Logger
}

// New creates a device on bus using cs as chip select.
func New(bus drivers.SPI, cs Pin, options ...func(*Device)) *Device {
	d := Device{
		bus:    bus,
		cs:     cs,
		sleep:  time.Sleep,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&d)
	}

	d.cs.High()
	return &d
}

func (d *Device) tx(w, r []byte) error {
	d.cs.Low()
	err := d.bus.Tx(w, r)
	d.cs.High()
	return err
}

func (d *Device) Reset() error {
	if d.reset != nil {
		d.reset.High()
		d.sleep(resetPulse)
		d.reset.Low()
		d.sleep(resetPulse)
		d.logger.Debug("hardware reset")
		return nil
	}

	if err := d.WriteRegister(RegModeOverride, modeOverrideReset); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	d.sleep(resetSettle)
	d.logger.Debug("soft reset")
	return nil
}

func (d *Device) WriteRegister(reg Register, value byte) error {
	d.buf[0] = reg.WriteAddr()
	d.buf[1] = value
	return d.tx(d.buf[:2], nil)
}

func (d *Device) writeBurst(reg Register, data []byte) error {
	if len(data) > len(d.buf)-1 {
		return fmt.Errorf("burst write of %d bytes to 0x%02X exceeds buffer", len(data), byte(reg))
	}
	d.buf[0] = reg.WriteAddr()
	n := copy(d.buf[1:], data)
	return d.tx(d.buf[:1+n], nil)
}

func (d *Device) ReadRegister(reg Register) (byte, error) {
	var r [2]byte
	w := [2]byte{reg.ReadAddr(), 0}
	if err := d.tx(w[:], r[:]); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Device) readBurst(reg Register, data []byte) error {
	if len(data) > len(d.buf)-1 {
		return fmt.Errorf("burst read of %d bytes from 0x%02X exceeds buffer", len(data), byte(reg))
	}
	w := d.buf[:1+len(data)]
	clear(w)
	w[0] = reg.ReadAddr()

	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return err
	}
	copy(data, r[1:])
	return nil
}

// MfgID reads the six byte factory identifier.
func (d *Device) MfgID() ([6]byte, error) {
	var id [6]byte
	if err := d.WriteRegister(RegMfgID, mfgIDEnable); err != nil {
		return id, err
	}
	if err := d.readBurst(RegMfgID, id[:]); err != nil {
		return id, err
	}
	if err := d.WriteRegister(RegMfgID, mfgIDDisable); err != nil {
		return id, err
	}
	d.logger.Debug("manufacturer id", slog.String("id", fmt.Sprintf("% X", id[:])))
	return id, nil
}

// SetTxMode routes the power amplifier and selects the end state of a
// transaction.
func (d *Device) SetTxMode(tx bool) error {
	gpio, xact := byte(0x20), byte(0x28)
	if tx {
		gpio, xact = 0x80, 0x2C
	}
	if err := d.WriteRegister(RegGPIOCtrl, gpio); err != nil {
		return err
	}
	return d.WriteRegister(RegXactCfg, xact)
}

func (d *Device) SetRFChannel(ch uint8) error {
	return d.WriteRegister(RegChannel, ch)
}

func (d *Device) SetCRCSeed(seed uint16) error {
	if err := d.WriteRegister(RegCRCSeedLSB, byte(seed)); err != nil {
		return err
	}
	return d.WriteRegister(RegCRCSeedMSB, byte(seed>>8))
}

func (d *Device) SetSOPCode(code []byte) error {
	return d.writeBurst(RegSOPCode, code)
}

func (d *Device) SetDataCode(code []byte) error {
	return d.writeBurst(RegDataCode, code)
}

// SetPreamble writes the 24 bit preamble, least significant byte first.
func (d *Device) SetPreamble(preamble uint32) error {
	return d.writeBurst(RegPreamble, []byte{byte(preamble), byte(preamble >> 8), byte(preamble >> 16)})
}

// WritePacket loads pkt into the transmit buffer and starts the transmission.
func (d *Device) WritePacket(pkt []byte) error {
	if err := d.WriteRegister(RegTxLength, byte(len(pkt))); err != nil {
		return err
	}
	if err := d.WriteRegister(RegTxCtrl, txStart); err != nil {
		return err
	}
	if err := d.writeBurst(RegTxBuffer, pkt); err != nil {
		return err
	}
	return d.WriteRegister(RegTxCtrl, txClear)
}

// ReadPacket copies the receive buffer into pkt.
func (d *Device) ReadPacket(pkt []byte) error {
	return d.readBurst(RegRxBuffer, pkt)
}

package cyrf6936

// Register is a CYRF6936 register address.
type Register uint8

const (
	RegChannel       Register = 0x00
	RegTxLength      Register = 0x01
	RegTxCtrl        Register = 0x02
	RegTxCfg         Register = 0x03
	RegTxIRQStatus   Register = 0x04
	RegRxCtrl        Register = 0x05
	RegRxCfg         Register = 0x06
	RegRxIRQStatus   Register = 0x07
	RegRxStatus      Register = 0x08
	RegRxCount       Register = 0x09
	RegRxLength      Register = 0x0A
	RegPwrCtrl       Register = 0x0B
	RegXtalCtrl      Register = 0x0C
	RegIOCfg         Register = 0x0D
	RegGPIOCtrl      Register = 0x0E
	RegXactCfg       Register = 0x0F
	RegFramingCfg    Register = 0x10
	RegData32Thold   Register = 0x11
	RegData64Thold   Register = 0x12
	RegRSSI          Register = 0x13
	RegEOPCtrl       Register = 0x14
	RegCRCSeedLSB    Register = 0x15
	RegCRCSeedMSB    Register = 0x16
	RegTxCRCLSB      Register = 0x17
	RegTxCRCMSB      Register = 0x18
	RegRxCRCLSB      Register = 0x19
	RegRxCRCMSB      Register = 0x1A
	RegTxOffsetLSB   Register = 0x1B
	RegTxOffsetMSB   Register = 0x1C
	RegModeOverride  Register = 0x1D
	RegRxOverride    Register = 0x1E
	RegTxOverride    Register = 0x1F
	RegTxBuffer      Register = 0x20
	RegRxBuffer      Register = 0x21
	RegSOPCode       Register = 0x22
	RegDataCode      Register = 0x23
	RegPreamble      Register = 0x24
	RegMfgID         Register = 0x25
	RegXtalCfg       Register = 0x26
	RegClkOffset     Register = 0x27
	RegClkEn         Register = 0x28
	RegRxAbort       Register = 0x29
	RegAutoCalTime   Register = 0x32
	RegAutoCalOffset Register = 0x35
	RegAnalogCtrl    Register = 0x39
)

const (
	// TxComplete is the transmit-done bit of RegTxIRQStatus.
	TxComplete byte = 0x02

	// RxComplete is the receive-done bit of RegRxIRQStatus.
	RxComplete byte = 0x02

	// writeFlag is OR-ed into the address byte of every SPI write.
	writeFlag byte = 0x80

	// PacketSize is the fixed frame length used by the DSM link.
	PacketSize = 16
)

// WriteAddr returns the SPI address byte for a write to r.
func (r Register) WriteAddr() byte { return writeFlag | byte(r) }

// ReadAddr returns the SPI address byte for a read of r.
func (r Register) ReadAddr() byte { return byte(r) }

package telemetry

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FrameSize is the length of a telemetry frame.
const FrameSize = 16

const (
	tagFlightLog     = 0x7F
	tagFlightLogTM11 = 0xFF
	tagTM1000        = 0x7E
	tagTM1100        = 0xFE
	tagCurrent       = 0x03
	tagPowerbox      = 0x0A
	tagAirspeed      = 0x11
	tagAltimeter     = 0x12
	tagGForce        = 0x14
	tagJetCat        = 0x15
	tagGPSPosition   = 0x16
	tagGPSStatus     = 0x17

	// milliarcseconds per degree
	masPerDegree = 3_600_000
)

// Decode parses a telemetry frame by its leading tag. It returns false for
// short frames and unknown tags.
func Decode(frame []byte, ts time.Time) (*Telemetry, bool) {
	if len(frame) < FrameSize {
		return nil, false
	}

	t := Telemetry{Timestamp: ts, Tag: frame[0]}

	switch frame[0] {
	case tagFlightLog, tagFlightLogTM11:
		decodeFlightLog(&t, frame)
	case tagTM1000, tagTM1100:
		decodeTM(&t, frame)
	case tagCurrent:
		t.Sensor = SensorCurrent
		t.Current = ptr(float64(int64(u16(frame, 2))*1967/1000) / 10)
	case tagPowerbox:
		decodePowerbox(&t, frame)
	case tagAirspeed:
		t.Sensor = SensorAirspeed
		t.Airspeed = ptr(float64(u16(frame, 2)))
	case tagAltimeter:
		t.Sensor = SensorAltimeter
		t.Altitude = ptr(float64(s16(frame, 2)) / 10)
	case tagGForce:
		decodeGForce(&t, frame)
	case tagJetCat:
		decodeJetCat(&t, frame)
	case tagGPSPosition:
		decodeGPSPosition(&t, frame)
	case tagGPSStatus:
		decodeGPSStatus(&t, frame)
	default:
		return nil, false
	}

	return &t, true
}

func decodeFlightLog(t *Telemetry, p []byte) {
	t.Sensor = SensorFlightLog
	t.FadesA = ptr(int64(u16(p, 2)))
	t.FadesB = ptr(int64(u16(p, 4)))
	t.FadesL = ptr(int64(u16(p, 6)))
	t.FadesR = ptr(int64(u16(p, 8)))
	t.FrameLoss = ptr(int64(u16(p, 10)))
	t.Holds = ptr(int64(u16(p, 12)))
	t.RxVoltage = ptr(decivolts(u16(p, 14)))
}

func decodeTM(t *Telemetry, p []byte) {
	t.Sensor = SensorTM

	var rpm int64
	if raw := u16(p, 2); raw != 0xFFFF && raw >= 200 {
		rpm = 120_000_000 / 2 / int64(raw)
	}
	t.RPM = ptr(rpm)
	t.Voltage = ptr(decivolts(u16(p, 4)))

	temp := (int64(u16(p, 6)) - 32) * 5 / 9
	if temp > 500 || temp < -100 {
		temp = 0
	}
	t.Temperature = ptr(float64(temp))
}

func decodePowerbox(t *Telemetry, p []byte) {
	t.Sensor = SensorPowerbox
	t.PowerboxVoltage1 = ptr(decivolts(u16(p, 2)))
	t.PowerboxVoltage2 = ptr(decivolts(u16(p, 4)))
	t.PowerboxCapacity1 = ptr(int64(u16(p, 6)))
	t.PowerboxCapacity2 = ptr(int64(u16(p, 8)))
	t.PowerboxAlarms = ptr(p[15] & 0x0F)
}

func decodeGForce(t *Telemetry, p []byte) {
	t.Sensor = SensorGForce
	g := func(off int) *float64 { return ptr(float64(s16(p, off)) / 100) }
	t.AccelX = g(2)
	t.AccelY = g(4)
	t.AccelZ = g(6)
	t.AccelXMax = g(8)
	t.AccelYMax = g(10)
	t.AccelZMax = g(12)
	t.AccelZMin = g(14)
}

func decodeJetCat(t *Telemetry, p []byte) {
	t.Sensor = SensorJetCat
	t.JetStatus = ptr(p[2])
	t.JetThrottle = ptr(int64(p[3]>>4)*10 + int64(p[3]&0x0F))
	t.JetPackVoltage = ptr(float64(bcd(p[4])*100+bcd(p[5])) / 100)
	t.JetPumpVoltage = ptr(float64(bcd(p[6])*100+bcd(p[7])) / 100)
	t.JetRPM = ptr(bcd(p[10])*10000 + bcd(p[9])*100 + bcd(p[8]))
	t.JetEGT = ptr(int64(p[13]&0x0F)*100 + bcd(p[12]))
	t.JetOffCondition = ptr(p[14])
}

func decodeGPSPosition(t *Telemetry, p []byte) {
	t.Sensor = SensorGPSPos

	t.GPSAltitude = ptr(float64(bcd(p[3])*100+bcd(p[2])) / 10)

	lat := bcd(p[7])*3_600_000 + bcd(p[6])*60_000 + bcd(p[5])*600 + bcd(p[4])*6
	if p[15]&0x01 == 0 {
		lat = -lat
	}

	lon := bcd(p[11])*3_600_000 + bcd(p[10])*60_000 + bcd(p[9])*600 + bcd(p[8])*6
	if p[15]&0x04 != 0 {
		lon += 100 * masPerDegree
	}
	if p[15]&0x02 == 0 {
		lon = -lon
	}

	t.Latitude = ptr(float64(lat) / masPerDegree)
	t.Longitude = ptr(float64(lon) / masPerDegree)
	t.GroundCourse = ptr(float64(bcd(p[13])*100+bcd(p[12])) / 10)
}

func decodeGPSStatus(t *Telemetry, p []byte) {
	t.Sensor = SensorGPSStat

	// knots in 0.1 units to mm/s
	mms := (bcd(p[3])*100 + bcd(p[2])) * 5556 / 108
	t.GroundSpeed = ptr(float64(mms) / 1000)
	t.GPSTime = ptr(fmt.Sprintf("%02d:%02d:%02d", bcd(p[7]), bcd(p[6]), bcd(p[5])))
	t.Satellites = ptr(bcd(p[8]))
}

func u16(p []byte, off int) uint16 {
	return binary.BigEndian.Uint16(p[off:])
}

func s16(p []byte, off int) int16 {
	return int16(binary.BigEndian.Uint16(p[off:]))
}

// bcd decodes a packed two digit BCD byte.
func bcd(b byte) int64 {
	return int64(b>>4)*10 + int64(b&0x0F)
}

// decivolts converts a 0.01 V reading into volts rounded to 0.1 V.
func decivolts(raw uint16) float64 {
	return float64((int64(raw)+5)/10) / 10
}

func ptr[T any](v T) *T {
	return &v
}

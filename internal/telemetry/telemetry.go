package telemetry

import (
	"time"
)

// Sensor identifies the telemetry module a frame came from.
type Sensor string

const (
	SensorFlightLog Sensor = "flightlog"
	SensorTM        Sensor = "tm"
	SensorCurrent   Sensor = "current"
	SensorPowerbox  Sensor = "powerbox"
	SensorAirspeed  Sensor = "airspeed"
	SensorAltimeter Sensor = "altimeter"
	SensorGForce    Sensor = "gforce"
	SensorJetCat    Sensor = "jetcat"
	SensorGPSPos    Sensor = "gps"
	SensorGPSStat   Sensor = "gpsstat"
)

// Telemetry is the data decoded from one receiver telemetry frame. Only the
// fields carried by the frame's sensor are set.
type Telemetry struct {
	Timestamp time.Time `json:"timestamp"` // Time the frame was read
	Tag       uint8     `json:"tag"`       // Leading frame byte
	Sensor    Sensor    `json:"sensor"`

	// Flight log
	FadesA      *int64   `json:"fadesA,omitempty"`
	FadesB      *int64   `json:"fadesB,omitempty"`
	FadesL      *int64   `json:"fadesL,omitempty"`
	FadesR      *int64   `json:"fadesR,omitempty"`
	FrameLoss   *int64   `json:"frameLoss,omitempty"`
	Holds       *int64   `json:"holds,omitempty"`
	RxVoltage   *float64 `json:"rxVoltage,omitempty"`   // Receiver supply in volts
	RPM         *int64   `json:"rpm,omitempty"`         // Motor speed, two pole
	Voltage     *float64 `json:"voltage,omitempty"`     // Flight pack in volts
	Temperature *float64 `json:"temperature,omitempty"` // Degrees Celsius
	Current     *float64 `json:"current,omitempty"`     // Amps

	// Powerbox
	PowerboxVoltage1  *float64 `json:"powerboxVoltage1,omitempty"`
	PowerboxVoltage2  *float64 `json:"powerboxVoltage2,omitempty"`
	PowerboxCapacity1 *int64   `json:"powerboxCapacity1,omitempty"` // mAh
	PowerboxCapacity2 *int64   `json:"powerboxCapacity2,omitempty"` // mAh
	PowerboxAlarms    *uint8   `json:"powerboxAlarms,omitempty"`    // V1, V2, C1, C2 from bit 0

	Airspeed *float64 `json:"airspeed,omitempty"` // km/h
	Altitude *float64 `json:"altitude,omitempty"` // Barometric altitude in meters

	// G-force in g
	AccelX    *float64 `json:"accelX,omitempty"`
	AccelY    *float64 `json:"accelY,omitempty"`
	AccelZ    *float64 `json:"accelZ,omitempty"`
	AccelXMax *float64 `json:"accelXMax,omitempty"`
	AccelYMax *float64 `json:"accelYMax,omitempty"`
	AccelZMax *float64 `json:"accelZMax,omitempty"`
	AccelZMin *float64 `json:"accelZMin,omitempty"`

	// JetCat turbine
	JetStatus       *uint8   `json:"jetStatus,omitempty"`
	JetThrottle     *int64   `json:"jetThrottle,omitempty"` // Percent
	JetPackVoltage  *float64 `json:"jetPackVoltage,omitempty"`
	JetPumpVoltage  *float64 `json:"jetPumpVoltage,omitempty"`
	JetRPM          *int64   `json:"jetRPM,omitempty"`
	JetEGT          *int64   `json:"jetEGT,omitempty"` // Exhaust gas temperature, Celsius
	JetOffCondition *uint8   `json:"jetOffCondition,omitempty"`

	// GPS
	Latitude     *float64 `json:"latitude,omitempty"`     // GPS latitude in degrees
	Longitude    *float64 `json:"longitude,omitempty"`    // GPS longitude in degrees
	GPSAltitude  *float64 `json:"gpsAltitude,omitempty"`  // Meters
	GroundCourse *float64 `json:"groundCourse,omitempty"` // Ground course (heading) in degrees
	GroundSpeed  *float64 `json:"groundSpeed,omitempty"`  // Ground speed in m/s
	GPSTime      *string  `json:"gpsTime,omitempty"`      // UTC time of day, hh:mm:ss
	Satellites   *int64   `json:"satellites,omitempty"`
}

// HasFix reports whether the frame carries a position.
func (t *Telemetry) HasFix() bool {
	return t.Latitude != nil && t.Longitude != nil
}

package telemetry

import (
	"sync"
)

type Provider interface {
	Get() *Telemetry
}

// Aggregator merges decoded frames into one snapshot. Each sensor frame only
// carries some fields, so the snapshot keeps the last value of every field.
type Aggregator struct {
	mu      sync.RWMutex
	current Telemetry
	frames  int
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Update merges t into the snapshot.
func (a *Aggregator) Update(t *Telemetry) {
	if t == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := &a.current
	c.Timestamp = t.Timestamp
	c.Tag = t.Tag
	c.Sensor = t.Sensor

	merge(&c.FadesA, t.FadesA)
	merge(&c.FadesB, t.FadesB)
	merge(&c.FadesL, t.FadesL)
	merge(&c.FadesR, t.FadesR)
	merge(&c.FrameLoss, t.FrameLoss)
	merge(&c.Holds, t.Holds)
	merge(&c.RxVoltage, t.RxVoltage)
	merge(&c.RPM, t.RPM)
	merge(&c.Voltage, t.Voltage)
	merge(&c.Temperature, t.Temperature)
	merge(&c.Current, t.Current)
	merge(&c.PowerboxVoltage1, t.PowerboxVoltage1)
	merge(&c.PowerboxVoltage2, t.PowerboxVoltage2)
	merge(&c.PowerboxCapacity1, t.PowerboxCapacity1)
	merge(&c.PowerboxCapacity2, t.PowerboxCapacity2)
	merge(&c.PowerboxAlarms, t.PowerboxAlarms)
	merge(&c.Airspeed, t.Airspeed)
	merge(&c.Altitude, t.Altitude)
	merge(&c.AccelX, t.AccelX)
	merge(&c.AccelY, t.AccelY)
	merge(&c.AccelZ, t.AccelZ)
	merge(&c.AccelXMax, t.AccelXMax)
	merge(&c.AccelYMax, t.AccelYMax)
	merge(&c.AccelZMax, t.AccelZMax)
	merge(&c.AccelZMin, t.AccelZMin)
	merge(&c.JetStatus, t.JetStatus)
	merge(&c.JetThrottle, t.JetThrottle)
	merge(&c.JetPackVoltage, t.JetPackVoltage)
	merge(&c.JetPumpVoltage, t.JetPumpVoltage)
	merge(&c.JetRPM, t.JetRPM)
	merge(&c.JetEGT, t.JetEGT)
	merge(&c.JetOffCondition, t.JetOffCondition)
	merge(&c.Latitude, t.Latitude)
	merge(&c.Longitude, t.Longitude)
	merge(&c.GPSAltitude, t.GPSAltitude)
	merge(&c.GroundCourse, t.GroundCourse)
	merge(&c.GroundSpeed, t.GroundSpeed)
	merge(&c.GPSTime, t.GPSTime)
	merge(&c.Satellites, t.Satellites)

	a.frames++
}

// Get returns a copy of the snapshot, or nil before the first frame.
func (a *Aggregator) Get() *Telemetry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.frames == 0 {
		return nil
	}
	t := a.current
	return &t
}

// Frames returns the number of frames merged so far.
func (a *Aggregator) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

func merge[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

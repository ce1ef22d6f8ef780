package app

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/anytx/dsmlink/internal/telemetry"
)

const (
	homeLatitude  = 45.5017
	homeLongitude = -73.5673
	orbitRadius   = 0.0015 // degrees
	orbitPeriod   = 90 * time.Second
)

// FrameInjector is implemented by the simulated transceiver.
type FrameInjector interface {
	InjectFrame(frame []byte)
}

// Feeder plays a model flying circles over a fixed home point by injecting
// altimeter and GPS frames into a simulated receiver.
type Feeder struct {
	rx       FrameInjector
	interval time.Duration
	now      func() time.Time
	start    time.Time
}

func NewFeeder(rx FrameInjector, interval time.Duration, now func() time.Time) *Feeder {
	return &Feeder{rx: rx, interval: interval, now: now, start: now()}
}

// Run injects one set of frames per interval until ctx is done.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, frame := range f.Frames(f.now()) {
				f.rx.InjectFrame(frame)
			}
		}
	}
}

// Frames returns the altimeter, GPS position and GPS status frames for t.
func (f *Feeder) Frames(t time.Time) [][]byte {
	elapsed := t.Sub(f.start)
	angle := 2 * math.Pi * float64(elapsed%orbitPeriod) / float64(orbitPeriod)

	lat := homeLatitude + orbitRadius*math.Sin(angle)
	lon := homeLongitude + orbitRadius*math.Cos(angle)
	alt := 60 + 20*math.Sin(angle*2)

	// circumference over period, in knots
	speed := 2 * math.Pi * orbitRadius * 111_320 / orbitPeriod.Seconds() / 0.514444

	return [][]byte{
		altimeterFrame(alt),
		gpsPositionFrame(lat, lon, alt, math.Mod(360-angle*180/math.Pi, 360)),
		gpsStatusFrame(speed, t.UTC(), 11),
	}
}

func altimeterFrame(alt float64) []byte {
	p := make([]byte, telemetry.FrameSize)
	p[0] = 0x12
	binary.BigEndian.PutUint16(p[2:], uint16(int16(math.Round(alt*10))))
	return p
}

func gpsPositionFrame(lat, lon, alt, course float64) []byte {
	p := make([]byte, telemetry.FrameSize)
	p[0] = 0x16

	a := int(math.Round(alt*10)) % 10000
	p[2], p[3] = toBCD(a%100), toBCD(a/100)

	putDegrees(p[4:8], math.Abs(lat))
	lonAbs := math.Abs(lon)
	if lonAbs >= 100 {
		p[15] |= 0x04
		lonAbs -= 100
	}
	putDegrees(p[8:12], lonAbs)

	if lat >= 0 {
		p[15] |= 0x01
	}
	if lon >= 0 {
		p[15] |= 0x02
	}

	c := int(math.Round(course*10)) % 3600
	p[12], p[13] = toBCD(c%100), toBCD(c/100)
	return p
}

func gpsStatusFrame(knots float64, t time.Time, satellites int) []byte {
	p := make([]byte, telemetry.FrameSize)
	p[0] = 0x17

	s := int(math.Round(knots*10)) % 10000
	p[2], p[3] = toBCD(s%100), toBCD(s/100)
	p[5], p[6], p[7] = toBCD(t.Second()), toBCD(t.Minute()), toBCD(t.Hour())
	p[8] = toBCD(satellites)
	return p
}

// putDegrees writes degrees, minutes and 1/10000 minutes as BCD, lowest
// digits first.
func putDegrees(p []byte, deg float64) {
	d := int(deg)
	m := int(math.Round((deg - float64(d)) * 60 * 10_000))
	if m >= 60*10_000 {
		d, m = d+1, m-60*10_000
	}
	p[0] = toBCD(m % 100)
	p[1] = toBCD(m / 100 % 100)
	p[2] = toBCD(m / 10_000)
	p[3] = toBCD(d)
}

func toBCD(v int) byte {
	return byte(v/10%10)<<4 | byte(v%10)
}

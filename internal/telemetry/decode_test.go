package telemetry

import (
	"math"
	"testing"
	"time"
)

func frame(tag byte, body map[int]byte) []byte {
	p := make([]byte, FrameSize)
	p[0] = tag
	for i, b := range body {
		p[i] = b
	}
	return p
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecode_UnknownTagIgnored(t *testing.T) {
	for _, tag := range []byte{0x00, 0x01, 0x42, 0x80} {
		if tel, ok := Decode(frame(tag, nil), time.Now()); ok || tel != nil {
			t.Errorf("tag 0x%02X: expected frame to be ignored", tag)
		}
	}
}

func TestDecode_ShortFrame(t *testing.T) {
	if _, ok := Decode([]byte{tagGPSPosition, 0x00}, time.Now()); ok {
		t.Fatal("expected short frame to be rejected")
	}
}

func TestDecode_GPSPosition(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := frame(tagGPSPosition, map[int]byte{
		2: 0x34, 3: 0x12, // 123.4 m
		4: 0x34, 5: 0x12, 6: 0x45, 7: 0x37, // 37° 45.1234'
		8: 0x00, 9: 0x00, 10: 0x30, 11: 0x22, // 22° 30' (+100°)
		12: 0x34, 13: 0x12, // 123.4°
		15: 0x05, // north, west, +100° longitude
	})

	tel, ok := Decode(p, ts)
	if !ok {
		t.Fatal("expected GPS frame to decode")
	}
	if tel.Sensor != SensorGPSPos || !tel.Timestamp.Equal(ts) {
		t.Errorf("unexpected header: %s %v", tel.Sensor, tel.Timestamp)
	}
	if !tel.HasFix() {
		t.Fatal("expected a fix")
	}

	wantLat := float64(37*3_600_000+45*60_000+12*600+34*6) / 3_600_000
	if !near(*tel.Latitude, wantLat) {
		t.Errorf("latitude = %f, want %f", *tel.Latitude, wantLat)
	}
	if !near(*tel.Longitude, -122.5) {
		t.Errorf("longitude = %f, want -122.5", *tel.Longitude)
	}
	if !near(*tel.GPSAltitude, 123.4) {
		t.Errorf("altitude = %f, want 123.4", *tel.GPSAltitude)
	}
	if !near(*tel.GroundCourse, 123.4) {
		t.Errorf("course = %f, want 123.4", *tel.GroundCourse)
	}
}

func TestDecode_GPSHemispheres(t *testing.T) {
	tests := []struct {
		name    string
		flags   byte
		latSign float64
		lonSign float64
	}{
		{"south west", 0x00, -1, -1},
		{"north west", 0x01, 1, -1},
		{"south east", 0x02, -1, 1},
		{"north east", 0x03, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, ok := Decode(frame(tagGPSPosition, map[int]byte{7: 0x10, 11: 0x20, 15: tt.flags}), time.Now())
			if !ok {
				t.Fatal("expected GPS frame to decode")
			}
			if !near(*tel.Latitude, 10*tt.latSign) {
				t.Errorf("latitude = %f", *tel.Latitude)
			}
			if !near(*tel.Longitude, 20*tt.lonSign) {
				t.Errorf("longitude = %f", *tel.Longitude)
			}
		})
	}
}

func TestDecode_GPSStatus(t *testing.T) {
	tel, ok := Decode(frame(tagGPSStatus, map[int]byte{
		2: 0x00, 3: 0x01, // 10.0 knots
		5: 0x09, 6: 0x30, 7: 0x14,
		8: 0x11,
	}), time.Now())
	if !ok {
		t.Fatal("expected GPS status frame to decode")
	}
	if *tel.GPSTime != "14:30:09" {
		t.Errorf("time = %s", *tel.GPSTime)
	}
	if *tel.Satellites != 11 {
		t.Errorf("satellites = %d", *tel.Satellites)
	}
	if want := float64(100*5556/108) / 1000; !near(*tel.GroundSpeed, want) {
		t.Errorf("speed = %f, want %f", *tel.GroundSpeed, want)
	}
}

func TestDecode_TM1000(t *testing.T) {
	tests := []struct {
		name    string
		rpmRaw  [2]byte
		tempRaw [2]byte
		rpm     int64
		temp    float64
	}{
		{"running", [2]byte{0x03, 0xE8}, [2]byte{0x00, 0x68}, 60000, 40},
		{"no sensor", [2]byte{0xFF, 0xFF}, [2]byte{0x00, 0x20}, 0, 0},
		{"below threshold", [2]byte{0x00, 0xC7}, [2]byte{0x04, 0x00}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, ok := Decode(frame(tagTM1000, map[int]byte{
				2: tt.rpmRaw[0], 3: tt.rpmRaw[1],
				4: 0x04, 5: 0xB0, // 12.00 V
				6: tt.tempRaw[0], 7: tt.tempRaw[1],
			}), time.Now())
			if !ok {
				t.Fatal("expected frame to decode")
			}
			if *tel.RPM != tt.rpm {
				t.Errorf("rpm = %d, want %d", *tel.RPM, tt.rpm)
			}
			if !near(*tel.Temperature, tt.temp) {
				t.Errorf("temperature = %f, want %f", *tel.Temperature, tt.temp)
			}
			if !near(*tel.Voltage, 12.0) {
				t.Errorf("voltage = %f, want 12.0", *tel.Voltage)
			}
		})
	}
}

func TestDecode_FlightLog(t *testing.T) {
	for _, tag := range []byte{tagFlightLog, tagFlightLogTM11} {
		tel, ok := Decode(frame(tag, map[int]byte{3: 7, 11: 3, 14: 0x01, 15: 0xF9}), time.Now())
		if !ok {
			t.Fatalf("tag 0x%02X: expected frame to decode", tag)
		}
		if *tel.FadesA != 7 || *tel.FrameLoss != 3 {
			t.Errorf("tag 0x%02X: fades %d, frame loss %d", tag, *tel.FadesA, *tel.FrameLoss)
		}
		if !near(*tel.RxVoltage, 5.1) {
			t.Errorf("tag 0x%02X: rx voltage = %f", tag, *tel.RxVoltage)
		}
	}
}

func TestDecode_SignedSensors(t *testing.T) {
	tel, ok := Decode(frame(tagAltimeter, map[int]byte{2: 0xFF, 3: 0x9C}), time.Now())
	if !ok || !near(*tel.Altitude, -10) {
		t.Errorf("altimeter: %+v", tel)
	}

	tel, ok = Decode(frame(tagGForce, map[int]byte{2: 0x00, 3: 0x64, 6: 0xFF, 7: 0x38}), time.Now())
	if !ok || !near(*tel.AccelX, 1) || !near(*tel.AccelZ, -2) {
		t.Errorf("gforce: %+v", tel)
	}

	tel, ok = Decode(frame(tagCurrent, map[int]byte{2: 0x03, 3: 0xE8}), time.Now())
	if !ok || !near(*tel.Current, 196.7) {
		t.Errorf("current: %v", *tel.Current)
	}
}

func TestAggregator_Merge(t *testing.T) {
	agg := NewAggregator()
	if agg.Get() != nil {
		t.Fatal("expected nil snapshot before first frame")
	}

	pos, _ := Decode(frame(tagGPSPosition, map[int]byte{7: 0x10, 11: 0x20, 15: 0x03}), time.Now())
	alt, _ := Decode(frame(tagAltimeter, map[int]byte{3: 0x64}), time.Now())
	agg.Update(pos)
	agg.Update(alt)

	snap := agg.Get()
	if snap.Sensor != SensorAltimeter {
		t.Errorf("sensor = %s", snap.Sensor)
	}
	if !snap.HasFix() || !near(*snap.Latitude, 10) {
		t.Error("expected position to survive altimeter frame")
	}
	if !near(*snap.Altitude, 10) {
		t.Errorf("altitude = %f", *snap.Altitude)
	}
	if agg.Frames() != 2 {
		t.Errorf("frames = %d", agg.Frames())
	}
}

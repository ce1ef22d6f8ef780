package app

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anytx/dsmlink/internal/spectrum"
	"github.com/anytx/dsmlink/internal/storage"
	"github.com/anytx/dsmlink/internal/telemetry"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"kml", []string{"-db", "run.sqlite", "-o", "track"}, "track.kml", false},
		{"kmz", []string{"-db", "run.sqlite", "-o", "track.kml", "-kmz"}, "track.kmz", false},
		{"no db", []string{"-o", "track"}, "", true},
		{"no output", []string{"-db", "run.sqlite"}, "", true},
		{"bad session", []string{"-db", "run.sqlite", "-o", "track", "-s", "-1"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("gpstrack", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			c, err := parseFlags(fs, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.OutputFile != tt.want {
				t.Errorf("OutputFile = %q, want %q", c.OutputFile, tt.want)
			}
		})
	}
}

func TestNearestFix(t *testing.T) {
	track := []spectrum.TrackPoint{
		{Timestamp: start},
		{Timestamp: start.Add(time.Second)},
		{Timestamp: start.Add(2 * time.Second)},
	}

	tests := []struct {
		at   time.Time
		want int
	}{
		{start.Add(-time.Second), 0},
		{start, 0},
		{start.Add(1500 * time.Millisecond), 1},
		{start.Add(2 * time.Second), 2},
		{start.Add(time.Minute), 2},
	}
	for _, tt := range tests {
		if got := nearestFix(track, tt.at); got != tt.want {
			t.Errorf("nearestFix(%s) = %d, want %d", tt.at.Format(time.TimeOnly), got, tt.want)
		}
	}
}

func TestBuildDocument_NoFixes(t *testing.T) {
	if _, err := buildDocument(&spectrum.LinkSession{ID: 1}, nil, nil, false); err == nil {
		t.Error("buildDocument() expected error without fixes")
	}
}

func TestBuildDocument_AltitudeMode(t *testing.T) {
	tests := []struct {
		name     string
		altitude *float64
		want     string
	}{
		{"ground", nil, "<altitudeMode>clampToGround</altitudeMode>"},
		{"relative", ptr(80.0), "<altitudeMode>relativeToGround</altitudeMode>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := []spectrum.TrackPoint{
				{Timestamp: start, Latitude: 45.5, Longitude: -73.25, Altitude: tt.altitude},
				{Timestamp: start.Add(time.Second), Latitude: 45.501, Longitude: -73.25, Altitude: tt.altitude},
			}
			faults := []spectrum.FaultRecord{{Timestamp: start.Add(time.Second), Phase: "check-2", Message: "transmit timeout"}}

			doc, err := buildDocument(&spectrum.LinkSession{ID: 1, Protocol: "dsmx"}, track, faults, true)
			if err != nil {
				t.Fatalf("buildDocument() error = %v", err)
			}

			var buf bytes.Buffer
			if err = encode(&buf, false, doc); err != nil {
				t.Fatalf("encode() error = %v", err)
			}
			// path, two fixes and one fault
			if n := strings.Count(buf.String(), tt.want); n != 4 {
				t.Errorf("found %q %d times, want 4", tt.want, n)
			}
		})
	}
}

func newRecordedSession(t *testing.T) (string, int64) {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "run.sqlite")
	store := storage.NewSqliteStore(dbPath)
	defer store.Close()

	id, _, err := store.CreateSession(ctx, "dsmx", "sim", "01:02:03:04:05:06", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for i := range 3 {
		_, err = store.StoreTelemetry(ctx, id, &telemetry.Telemetry{
			Timestamp:   start.Add(time.Duration(i) * time.Second),
			Tag:         0x16,
			Sensor:      telemetry.SensorGPSPos,
			Latitude:    ptr(45.5 + float64(i)*0.001),
			Longitude:   ptr(-73.25),
			GPSAltitude: ptr(100.0),
		})
		if err != nil {
			t.Fatalf("StoreTelemetry() error = %v", err)
		}
	}

	if err = store.StoreFault(ctx, id, start.Add(1500*time.Millisecond), "check-1", "transmit timeout"); err != nil {
		t.Fatalf("StoreFault() error = %v", err)
	}
	return dbPath, id
}

func TestRun(t *testing.T) {
	dbPath, id := newRecordedSession(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := &Config{
		DBPath:     dbPath,
		SessionID:  id,
		OutputFile: filepath.Join(t.TempDir(), "track.kml"),
		Points:     true,
	}
	if err := Run(context.Background(), config, logger); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	body, err := os.ReadFile(config.OutputFile)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(body)

	for _, want := range []string{
		"<LineString>",
		"<altitudeMode>relativeToGround</altitudeMode>",
		"Flight path",
		"<name>check-1</name>",
		"transmit timeout",
		"#" + fixStyle,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("KML does not contain %q", want)
		}
	}
	if n := strings.Count(doc, "<Placemark>"); n != 5 {
		t.Errorf("KML has %d placemarks, want 5", n)
	}

	config.OutputFile = filepath.Join(t.TempDir(), "track.kmz")
	config.Compress = true
	if err = Run(context.Background(), config, logger); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	body, err = os.ReadFile(config.OutputFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(body, []byte("PK")) {
		t.Error("KMZ output is not a zip archive")
	}
}

func TestRun_MissingDatabase(t *testing.T) {
	config := &Config{DBPath: filepath.Join(t.TempDir(), "missing.sqlite"), SessionID: 1, OutputFile: "x.kml"}
	if err := Run(context.Background(), config, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("Run() expected error for a missing database")
	}
}

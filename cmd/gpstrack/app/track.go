package app

import (
	"fmt"
	"image/color"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/twpayne/go-kml"

	"github.com/anytx/dsmlink/internal/spectrum"
)

const (
	trackStyle = "styleTrack"
	fixStyle   = "styleFix"
	faultStyle = "styleFault"

	// knots per metre per second
	msToKnots = 1.943844
)

var (
	trackColor = color.RGBA{R: 0x00, G: 0xa0, B: 0xff, A: 0xc0}
	fixColor   = color.RGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xa0}
	faultColor = color.RGBA{R: 0xff, G: 0x20, B: 0x20, A: 0xff}
)

// buildDocument turns a recorded session into a KML folder with the flight
// path, optional fix markers and a marker for every link fault.
func buildDocument(session *spectrum.LinkSession, track []spectrum.TrackPoint, faults []spectrum.FaultRecord, points bool) (*kml.CompoundElement, error) {
	if len(track) == 0 {
		return nil, fmt.Errorf("session %d has no GPS fixes", session.ID)
	}

	altMode := kml.AltitudeModeClampToGround
	coords := make([]kml.Coordinate, 0, len(track))
	for _, p := range track {
		c := kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
		if p.Altitude != nil {
			c.Alt = *p.Altitude
			altMode = kml.AltitudeModeRelativeToGround
		}
		coords = append(coords, c)
	}

	first, last := track[0].Timestamp, track[len(track)-1].Timestamp

	d := kml.Folder(kml.Name(fmt.Sprintf("%s link %s", session.Protocol, session.Identity))).Add(kml.Open(true))
	d.Add(kml.ExtendedData(
		kml.Data(kml.Name("Session"), kml.Value(fmt.Sprintf("%d / %s", session.ID, session.RunID))),
		kml.Data(kml.Name("Protocol"), kml.Value(session.Protocol)),
		kml.Data(kml.Name("Transceiver"), kml.Value(session.Transceiver)),
		kml.Data(kml.Name("Started"), kml.Value(session.StartTime.UTC().Format(time.DateTime))),
		kml.Data(kml.Name("Fixes"), kml.Value(humanize.Comma(int64(len(track))))),
		kml.Data(kml.Name("Faults"), kml.Value(humanize.Comma(int64(len(faults))))),
	))
	d.Add(kml.TimeSpan(kml.Begin(first), kml.End(last)))
	d.Add(sharedStyles()...)

	d.Add(kml.Placemark(
		kml.Name("Flight path"),
		kml.StyleURL("#"+trackStyle),
		kml.LineString(
			kml.AltitudeMode(altMode),
			kml.Extrude(false),
			kml.Tessellate(false),
			kml.Coordinates(coords...),
		),
	))

	if points {
		f := kml.Folder(kml.Name("Fixes")).Add(kml.Visibility(false))
		for i, p := range track {
			f.Add(kml.Placemark(
				kml.Description(describeFix(p)),
				kml.TimeStamp(kml.When(p.Timestamp)),
				kml.StyleURL("#"+fixStyle),
				kml.Point(
					kml.AltitudeMode(altMode),
					kml.Coordinates(coords[i]),
				),
			))
		}
		d.Add(f)
	}

	if len(faults) > 0 {
		f := kml.Folder(kml.Name("Link faults"))
		for _, fault := range faults {
			i := nearestFix(track, fault.Timestamp)
			f.Add(kml.Placemark(
				kml.Name(fault.Phase),
				kml.Description(fmt.Sprintf("%s: %s", fault.Timestamp.UTC().Format(time.TimeOnly), fault.Message)),
				kml.TimeStamp(kml.When(fault.Timestamp)),
				kml.StyleURL("#"+faultStyle),
				kml.Point(
					kml.AltitudeMode(altMode),
					kml.Coordinates(coords[i]),
				),
			))
		}
		d.Add(f)
	}

	return d, nil
}

func sharedStyles() []kml.Element {
	return []kml.Element{
		kml.SharedStyle(
			trackStyle,
			kml.LineStyle(
				kml.Color(trackColor),
				kml.Width(3),
			),
		),
		kml.SharedStyle(
			fixStyle,
			kml.IconStyle(
				kml.Scale(0.4),
				kml.Color(fixColor),
			),
		),
		kml.SharedStyle(
			faultStyle,
			kml.IconStyle(
				kml.Scale(0.8),
				kml.Color(faultColor),
			),
		),
	}
}

func describeFix(p spectrum.TrackPoint) string {
	s := fmt.Sprintf("%s %.6f %.6f", p.Timestamp.UTC().Format(time.TimeOnly), p.Latitude, p.Longitude)
	if p.Altitude != nil {
		s += fmt.Sprintf(" alt %.1fm", *p.Altitude)
	}
	if p.GroundSpeed != nil {
		s += fmt.Sprintf(" speed %.1fm/s (%.0fkt)", *p.GroundSpeed, *p.GroundSpeed*msToKnots)
	}
	if p.Satellites != nil {
		s += fmt.Sprintf(" sats %d", *p.Satellites)
	}
	return s
}

// nearestFix returns the index of the last fix at or before t, or the first
// fix when t precedes the track. track must be in time order.
func nearestFix(track []spectrum.TrackPoint, t time.Time) int {
	i := sort.Search(len(track), func(i int) bool {
		return track[i].Timestamp.After(t)
	})
	return max(i-1, 0)
}

package app

import (
	"time"

	"github.com/anytx/dsmlink/internal/spectrum"
)

// HopMap accumulates occupancy spans into image rows. Every row holds one
// point per RF channel of the band.
type HopMap struct {
	Width, Height                int
	TimestampStart, TimestampEnd time.Time
	Span                         time.Duration

	Rows        [][]spectrum.ChannelPoint
	ChannelHops [spectrum.NumChannels]int

	Hops, HopsA, HopsB, Inverted int

	// MaxCellHops is the largest hop count of a single cell.
	MaxCellHops int
}

func NewHopMap(span time.Duration) *HopMap {
	return &HopMap{
		Width: spectrum.NumChannels,
		Span:  span,
		Rows:  make([][]spectrum.ChannelPoint, 0),
	}
}

// Update appends span as the next row.
func (m *HopMap) Update(span *spectrum.OccupancySpan) {
	row := make([]spectrum.ChannelPoint, spectrum.NumChannels)
	for ch := range row {
		row[ch] = spectrum.ChannelPoint{
			Channel:   uint8(ch),
			Frequency: spectrum.ChannelFrequency(uint8(ch)),
		}
	}

	for _, p := range span.Points {
		if int(p.Channel) >= spectrum.NumChannels {
			continue
		}
		row[p.Channel] = p

		m.ChannelHops[p.Channel] += p.Hops
		m.Hops += p.Hops
		m.HopsA += p.SubLinkA
		m.HopsB += p.SubLinkB
		m.Inverted += p.Inverted
		m.MaxCellHops = max(m.MaxCellHops, p.Hops)
	}

	if m.TimestampStart.IsZero() || m.TimestampStart.After(span.Timestamp) {
		m.TimestampStart = span.Timestamp
	}
	if end := span.Timestamp.Add(span.Duration); m.TimestampEnd.IsZero() || m.TimestampEnd.Before(end) {
		m.TimestampEnd = end
	}

	m.Rows = append(m.Rows, row)
	m.Height++
}

// UsedChannels returns the number of distinct RF channels that carried hops.
func (m *HopMap) UsedChannels() int {
	var n int
	for _, h := range m.ChannelHops {
		if h > 0 {
			n++
		}
	}
	return n
}

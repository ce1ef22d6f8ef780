package spectrum

import (
	"time"
)

const (
	// BaseFrequency is the frequency of RF channel 0 in Hz.
	BaseFrequency = 2_400_000_000

	// ChannelWidth is the spacing between RF channels in Hz.
	ChannelWidth = 1_000_000

	// NumChannels is the number of RF channels the transceiver can tune.
	NumChannels = 80
)

// ChannelFrequency returns the centre frequency of RF channel ch in Hz.
func ChannelFrequency(ch uint8) float64 {
	return BaseFrequency + float64(ch)*ChannelWidth
}

// LinkSession represents a single recorded link run.
// Each session captures metadata about how the transmitter was configured.
type LinkSession struct {
	ID          int64     `json:"ID"`                      // Unique identifier for the session
	RunID       string    `json:"runID"`                   // Globally unique run identifier
	StartTime   time.Time `json:"startTime"`               // When the link was started
	Protocol    string    `json:"protocol"`                // "dsm2" or "dsmx"
	Transceiver string    `json:"transceiver"`             // Radio the link ran on (e.g., "sim", "cyrf6936")
	Identity    string    `json:"identity"`                // Manufacturer identity in hex
	Config      *string   `json:"config,string,omitempty"` // Optional link configuration in JSON format
}

// HopPoint is one recorded hop.
type HopPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
	Index     int       `json:"index"`    // Position in the hop sequence
	Channel   uint8     `json:"channel"`  // RF channel
	Polarity  uint8     `json:"polarity"` // 1 when the CRC seed was inverted
	Row       int       `json:"row"`      // Spreading code row
	SubLink   string    `json:"subLink"`  // "A" or "B"
}

// ChannelPoint is the activity on one RF channel within a span.
type ChannelPoint struct {
	Channel   uint8   `json:"channel"`
	Frequency float64 `json:"frequency"` // Centre frequency in Hz
	Hops      int     `json:"hops"`      // Hops that landed on the channel
	SubLinkA  int     `json:"subLinkA"`  // Hops carrying the lower half of the channel map
	SubLinkB  int     `json:"subLinkB"`  // Hops carrying the upper half of the channel map
	Inverted  int     `json:"inverted"`  // Hops sent with the inverted CRC seed
}

// OccupancySpan is the channel activity during one time slice. Points holds
// one entry per channel in [ChannelStart, ChannelEnd], including idle ones.
type OccupancySpan struct {
	Timestamp    time.Time      `json:"timestamp"`
	Duration     time.Duration  `json:"duration"`
	ChannelStart uint8          `json:"channelStart"`
	ChannelEnd   uint8          `json:"channelEnd"`
	Points       []ChannelPoint `json:"points,omitempty"`
}

// Hops returns the number of hops in the span.
func (s *OccupancySpan) Hops() int {
	var n int
	for _, p := range s.Points {
		n += p.Hops
	}
	return n
}

// TrackPoint is a GPS fix reported by the receiver.
type TrackPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    *float64  `json:"altitude,omitempty"`
	GroundSpeed *float64  `json:"groundSpeed,omitempty"`
	Satellites  *int64    `json:"satellites,omitempty"`
}

// FaultRecord is a link fault as stored.
type FaultRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
}

package link

import (
	"math"
	"sync"
	"time"
)

// Static holds fixed channel values. Channels past the end read as centre.
type Static struct {
	mu     sync.RWMutex
	values []int32
}

func NewStatic(values ...int32) *Static {
	return &Static{values: append([]int32(nil), values...)}
}

func (s *Static) ChannelValue(ch int) int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ch < 0 || ch >= len(s.values) {
		return 0
	}
	return s.values[ch]
}

// Set updates one channel, growing the table when needed.
func (s *Static) Set(ch int, v int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch >= len(s.values) {
		s.values = append(s.values, make([]int32, ch+1-len(s.values))...)
	}
	s.values[ch] = v
}

// Sweep moves every channel through a full-scale sine. Each channel is phase
// shifted so neighbouring slots never carry the same value.
type Sweep struct {
	Period time.Duration
	Max    int32

	start time.Time
	now   func() time.Time
}

// NewSweep returns a sweep over [-max, max] that repeats every period.
func NewSweep(period time.Duration, max int32, now func() time.Time) *Sweep {
	if now == nil {
		now = time.Now
	}
	return &Sweep{Period: period, Max: max, start: now(), now: now}
}

func (s *Sweep) ChannelValue(ch int) int32 {
	if s.Period <= 0 {
		return 0
	}
	elapsed := s.now().Sub(s.start)
	phase := 2*math.Pi*float64(elapsed%s.Period)/float64(s.Period) + float64(ch)*math.Pi/6
	return int32(math.Round(float64(s.Max) * math.Sin(phase)))
}

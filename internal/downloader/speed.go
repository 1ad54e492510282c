package downloader

import (
	"sync"
	"time"
)

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedCalculator averages transfer speed over a sliding window of seconds.
type SpeedCalculator struct {
	mu      sync.Mutex
	window  time.Duration
	samples []speedSample
	now     func() time.Time
}

// NewSpeedCalculator creates a calculator averaging over windowSeconds.
func NewSpeedCalculator(windowSeconds int) *SpeedCalculator {
	if windowSeconds <= 0 {
		windowSeconds = 5
	}

	return &SpeedCalculator{
		window: time.Duration(windowSeconds) * time.Second,
		now:    time.Now,
	}
}

// AddBytes records n transferred bytes.
func (s *SpeedCalculator) AddBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.samples = append(s.samples, speedSample{at: now, bytes: n})
	s.trim(now)
}

// GetSpeed returns the average speed in bytes per second.
func (s *SpeedCalculator) GetSpeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.trim(now)
	if len(s.samples) == 0 {
		return 0
	}

	var total int64
	for _, sample := range s.samples {
		total += sample.bytes
	}

	elapsed := now.Sub(s.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}

	return int64(float64(total) / elapsed.Seconds())
}

// Reset drops all samples.
func (s *SpeedCalculator) Reset() {
	s.mu.Lock()
	s.samples = nil
	s.mu.Unlock()
}

func (s *SpeedCalculator) trim(now time.Time) {
	cut := 0
	for cut < len(s.samples) && now.Sub(s.samples[cut].at) > s.window {
		cut++
	}
	s.samples = s.samples[cut:]
}

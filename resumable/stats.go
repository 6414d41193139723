package resumable

import (
	"sync"
	"time"
)

// Stats tracks chunk send timings of a session.
type Stats struct {
	sum        time.Duration
	bytes      int64
	sentChunks int64
	mu         sync.Mutex
}

// Update records a chunk PUT that got a Complete or InProgress answer.
func (s *Stats) Update(d time.Duration, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += int64(size)
	s.sentChunks++
}

// Average returns the average duration of a chunk PUT.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sentChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.sentChunks)
}

// SentCount returns the number of chunk PUTs answered by the server.
func (s *Stats) SentCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentChunks
}

// Throughput returns the wire throughput in bytes per second.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sum <= 0 {
		return 0
	}
	return float64(s.bytes) / s.sum.Seconds()
}

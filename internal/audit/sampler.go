package audit

import (
	"math/rand"
	"sync"
)

// Sampler thins operations-category traffic on the stream side. The hash
// chain itself always receives every entry; sampling only affects what is
// mirrored to the publisher.
type Sampler struct {
	mu          sync.RWMutex
	defaultRate float64
	rateByEvent map[EventType]float64
}

// NewSampler creates a sampler with the given default keep rate, clamped to
// [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate: clampRate(defaultRate),
		rateByEvent: make(map[EventType]float64),
	}
}

// Keep reports whether an entry of this event type should be published.
func (s *Sampler) Keep(event EventType) bool {
	rate := s.rateFor(event)
	return rand.Float64() < rate //nolint:gosec // sampling does not need crypto rand
}

// SetRate overrides the keep rate for one event type. Use for high-volume
// events like classification_performed.
func (s *Sampler) SetRate(event EventType, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByEvent[event] = clampRate(rate)
}

func (s *Sampler) rateFor(event EventType) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByEvent[event]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}

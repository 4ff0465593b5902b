package session

import (
	"fmt"
	"math"
	"sync"
)

// Sample describes the specimen currently mounted for a test run.
type Sample struct {
	Name            string  `json:"name,omitempty" yaml:"name,omitempty"`
	EffectiveLength float64 `json:"effective_length" yaml:"effective_length"`
	ClampingLength  float64 `json:"clamping_length" yaml:"clamping_length"`
}

func (s Sample) Validate() error {
	for field, v := range map[string]float64{
		"effective_length": s.EffectiveLength,
		"clamping_length":  s.ClampingLength,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a finite, non-negative length", field)
		}
	}
	return nil
}

// Monitor holds the sample state of the running session. Lengths are read
// whenever an approach is calculated, so updates take effect immediately.
type Monitor struct {
	mu     sync.RWMutex
	sample Sample
}

func NewMonitor(initial Sample) *Monitor {
	return &Monitor{sample: initial}
}

func (m *Monitor) EffectiveSampleLength() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample.EffectiveLength
}

func (m *Monitor) ClampingLength() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample.ClampingLength
}

func (m *Monitor) Sample() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample
}

func (m *Monitor) SetSample(s Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sample = s
	m.mu.Unlock()
	return nil
}

// Clear forgets the mounted sample; approaches need a new one afterwards.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.sample = Sample{}
	m.mu.Unlock()
}

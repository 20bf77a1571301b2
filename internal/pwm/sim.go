package pwm

import (
	"sync"
	"time"
)

// Sim is an in-memory compare register. It is the default backend and the
// one used on hosts without PWM hardware.
type Sim struct {
	scale Scale

	mu      sync.Mutex
	running bool
	compare uint32
	writes  uint64
}

func NewSim(scale Scale) *Sim {
	return &Sim{scale: scale}
}

func (s *Sim) Name() string { return BackendSim }

func (s *Sim) StartPWM() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *Sim) SetCompare(ticks uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare = ticks
	s.writes++
}

// Compare reads the register back.
func (s *Sim) Compare() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compare
}

func (s *Sim) Writes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Sim) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PulseWidth is the high time the register would produce on real hardware.
func (s *Sim) PulseWidth() time.Duration {
	return s.scale.PulseWidth(s.Compare())
}

func (s *Sim) Err() error { return nil }

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

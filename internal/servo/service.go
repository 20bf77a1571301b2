package servo

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Output is a Timer backend the service can report on and release.
type Output interface {
	Timer
	Name() string
	// Err returns the most recent I/O failure seen by SetCompare, or nil.
	Err() error
	Close() error
}

type ServiceConfig struct {
	// StartupAngleDeg is applied right after the backend starts.
	StartupAngleDeg float64
	// CenterOnClose steers back to 0 before the backend is released.
	CenterOnClose bool
}

type Snapshot struct {
	Bound   bool   `json:"bound"`
	Backend string `json:"backend,omitempty"`
	Mode    string `json:"mode,omitempty"` // "angle" or "raw"

	RequestedDeg float64 `json:"requested_deg"`
	AngleDeg     float64 `json:"angle_deg"`
	Clamped      bool    `json:"clamped"`
	CompareTicks uint32  `json:"compare_ticks"`
	Commands     uint64  `json:"commands"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Service serializes access to a Converter for concurrent callers (HTTP,
// serial link) and keeps a snapshot for status reporting.
type Service struct {
	cfg ServiceConfig

	mu   sync.Mutex
	conv *Converter
	out  Output
	snap Snapshot

	closeOnce sync.Once
}

var nowFn = time.Now

func NewService(conv *Converter, cfg ServiceConfig) *Service {
	return &Service{cfg: cfg, conv: conv}
}

// Start binds out to the converter and moves to the startup angle.
func (s *Service) Start(out Output) error {
	if s == nil {
		return fmt.Errorf("servo: service is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conv.Init(out); err != nil {
		s.snap.LastError = err.Error()
		s.snap.LastUpdateAt = nowFn().UTC()
		return err
	}
	s.out = out
	s.snap.Bound = true
	s.snap.Backend = out.Name()
	s.applyAngleLocked(s.cfg.StartupAngleDeg)
	log.Printf("servo: %s started at %.2f deg (%d ticks)", out.Name(), s.snap.AngleDeg, s.snap.CompareTicks)
	return nil
}

// SetAngle steers to deg. Commands before Start or after Close are ignored
// and return the current snapshot.
func (s *Service) SetAngle(deg float64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return s.snap
	}
	s.applyAngleLocked(deg)
	return s.snap
}

func (s *Service) SetRaw(ticks uint32) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return s.snap
	}
	s.conv.SetRaw(ticks)
	s.snap.Mode = "raw"
	s.finishLocked()
	return s.snap
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) Table() Table {
	return s.conv.Table()
}

// Close centers the servo when configured and releases the backend.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.out == nil {
			return
		}
		if s.cfg.CenterOnClose {
			s.applyAngleLocked(0)
		}
		err = s.out.Close()
		s.conv.unbind()
		s.out = nil
		s.snap.Bound = false
	})
	return err
}

func (s *Service) applyAngleLocked(deg float64) {
	s.conv.SetAngle(deg)
	clamped := ClampAngle(deg)
	s.snap.Mode = "angle"
	s.snap.Clamped = clamped != deg
	// Snapshots are served as JSON, which has no NaN or Inf.
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		deg = clamped
	}
	s.snap.RequestedDeg = deg
	s.finishLocked()
}

func (s *Service) finishLocked() {
	s.snap.AngleDeg = s.conv.Angle()
	s.snap.CompareTicks = s.conv.Compare()
	s.snap.Commands++
	s.snap.LastUpdateAt = nowFn().UTC()
	s.snap.LastError = ""
	if s.out == nil {
		return
	}
	if err := s.out.Err(); err != nil {
		s.snap.LastError = err.Error()
		log.Printf("servo: %s: %v", s.out.Name(), err)
	}
}

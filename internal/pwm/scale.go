package pwm

import (
	"fmt"
	"time"
)

// Scale relates compare ticks to wall time.
type Scale struct {
	FrequencyHz int
	PeriodTicks uint32
}

// DefaultScale matches the reference STM32 timer: 50 Hz frame, 64000 ticks
// per frame, so 4800 ticks is a 1.5 ms pulse.
var DefaultScale = Scale{FrequencyHz: 50, PeriodTicks: 64000}

func (s Scale) validate() error {
	if s.FrequencyHz <= 0 {
		return fmt.Errorf("pwm: invalid frequency %d", s.FrequencyHz)
	}
	if s.PeriodTicks == 0 {
		return fmt.Errorf("pwm: period ticks must be > 0")
	}
	return nil
}

// PeriodNS is the frame length in nanoseconds.
func (s Scale) PeriodNS() uint64 {
	return uint64(time.Second) / uint64(s.FrequencyHz)
}

// DutyNS converts ticks to a pulse width in nanoseconds, saturating at one
// full frame.
func (s Scale) DutyNS(ticks uint32) uint64 {
	if ticks > s.PeriodTicks {
		ticks = s.PeriodTicks
	}
	return uint64(ticks) * s.PeriodNS() / uint64(s.PeriodTicks)
}

// Counts rescales ticks to a timer with resolution counts per frame,
// rounding to nearest and saturating at resolution-1.
func (s Scale) Counts(ticks uint32, resolution uint32) uint32 {
	n := (uint64(ticks)*uint64(resolution) + uint64(s.PeriodTicks)/2) / uint64(s.PeriodTicks)
	if n >= uint64(resolution) {
		n = uint64(resolution) - 1
	}
	return uint32(n)
}

// PulseWidth is DutyNS as a time.Duration.
func (s Scale) PulseWidth(ticks uint32) time.Duration {
	return time.Duration(s.DutyNS(ticks))
}

package servo

import (
	"fmt"
	"math"
)

// AngleLimit bounds commanded angles to [-AngleLimit, +AngleLimit] degrees.
const AngleLimit = 36.0

// Point is one measured calibration sample: the compare value (timer ticks)
// that put the steering linkage at Angle degrees.
type Point struct {
	Angle float64 `json:"angle_deg"`
	Pulse uint32  `json:"pulse_ticks"`
}

// Table is a calibration curve ordered by strictly increasing angle.
type Table []Point

// DefaultTable holds the bench measurements for the stock steering servo
// (312.5 ns ticks, 50 Hz frame). Negative angles steer left.
var DefaultTable = Table{
	{-36, 3400},
	{-32, 3410},
	{-29, 3420},
	{-26, 3500},
	{-24, 3600},
	{-22, 3750},
	{-20, 3800},
	{-18, 3900},
	{-14, 4000},
	{-13, 4100},
	{-10, 4200},
	{-7, 4300},
	{-6, 4400},
	{-4, 4500},
	{-2, 4600},
	{-1, 4700},
	{0, 4800},
	{1, 4900},
	{1.5, 5000},
	{3, 5100},
	{4.5, 5200},
	{7, 5300},
	{8.5, 5400},
	{10, 5500},
	{12, 5600},
	{13, 5700},
	{14, 5800},
	{15, 5900},
	{16, 6000},
	{17, 6100},
	{20, 6200},
	{21, 6300},
	{22, 6400},
	{23, 6500},
	{24, 6600},
	{25, 6700},
	{25.5, 6700},
	{36, 7350},
}

// Validate checks the ordering the lookup relies on. Adjacent entries must
// not share an angle, otherwise interpolation would divide by zero.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("servo: calibration table is empty")
	}
	for i, p := range t {
		if math.IsNaN(p.Angle) || math.IsInf(p.Angle, 0) {
			return fmt.Errorf("servo: calibration entry %d: angle %v is not finite", i, p.Angle)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if p.Angle <= prev.Angle {
			return fmt.Errorf("servo: calibration entry %d: angle %v not above previous %v", i, p.Angle, prev.Angle)
		}
		if p.Pulse < prev.Pulse {
			return fmt.Errorf("servo: calibration entry %d: pulse %d below previous %d", i, p.Pulse, prev.Pulse)
		}
	}
	return nil
}

// Clone returns a copy that shares no storage with t.
func (t Table) Clone() Table {
	return append(Table(nil), t...)
}

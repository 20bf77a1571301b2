// Package servo turns commanded steering angles into timer compare values
// using a piecewise-linear calibration table.
package servo

import (
	"math"
	"sort"
)

// Timer is the PWM peripheral the converter drives.
//
// StartPWM begins continuous output on the backend's designated channel.
// SetCompare loads the compare register; the new pulse width takes effect on
// the next PWM cycle. SetCompare must not block.
type Timer interface {
	StartPWM() error
	SetCompare(ticks uint32)
}

// Converter maps angles to compare values and writes them to a bound Timer.
//
// Not safe for concurrent use; see Service for a serialized wrapper.
type Converter struct {
	table Table
	tim   Timer

	compare uint32
	angle   float64
}

// New returns a converter owning a private copy of table.
func New(table Table) (*Converter, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Converter{table: table.Clone()}, nil
}

// MustNew is New for tables known to be valid at build time.
func MustNew(table Table) *Converter {
	c, err := New(table)
	if err != nil {
		panic(err)
	}
	return c
}

// Init binds tim and starts PWM generation. If the timer fails to start the
// converter stays unbound and the error is returned as-is.
func (c *Converter) Init(tim Timer) error {
	if err := tim.StartPWM(); err != nil {
		return err
	}
	c.tim = tim
	return nil
}

// Bound reports whether Init has succeeded.
func (c *Converter) Bound() bool { return c.tim != nil }

// unbind detaches the timer once its backend has been released.
func (c *Converter) unbind() { c.tim = nil }

// SetRaw writes ticks straight to the compare register. Writes before Init
// are dropped.
func (c *Converter) SetRaw(ticks uint32) {
	if c.tim == nil {
		return
	}
	c.tim.SetCompare(ticks)
	c.compare = ticks
}

// SetAngle clamps angle, converts it through the calibration table and
// writes the result with SetRaw.
func (c *Converter) SetAngle(angle float64) {
	a := ClampAngle(angle)
	c.SetRaw(c.lookup(a))
	if c.tim != nil {
		c.angle = a
	}
}

// PulseFor returns the compare value SetAngle would write for angle.
func (c *Converter) PulseFor(angle float64) uint32 {
	return c.lookup(ClampAngle(angle))
}

// Compare returns the last value written to the compare register.
func (c *Converter) Compare() uint32 { return c.compare }

// Angle returns the last clamped angle applied with SetAngle.
func (c *Converter) Angle() float64 { return c.angle }

// Table returns a copy of the calibration table.
func (c *Converter) Table() Table { return c.table.Clone() }

// ClampAngle limits angle to [-AngleLimit, AngleLimit]. NaN maps to center.
func ClampAngle(angle float64) float64 {
	switch {
	case math.IsNaN(angle):
		return 0
	case angle < -AngleLimit:
		return -AngleLimit
	case angle > AngleLimit:
		return AngleLimit
	}
	return angle
}

func (c *Converter) lookup(angle float64) uint32 {
	t := c.table
	first, last := t[0], t[len(t)-1]
	if angle <= first.Angle {
		return first.Pulse
	}
	if angle >= last.Angle {
		return last.Pulse
	}

	// first.Angle < angle < last.Angle, so 0 < i < len(t).
	i := sort.Search(len(t), func(i int) bool { return t[i].Angle >= angle })
	hi := t[i]
	if hi.Angle == angle {
		return hi.Pulse
	}
	lo := t[i-1]
	span := float64(hi.Pulse) - float64(lo.Pulse)
	pulse := float64(lo.Pulse) + span*(angle-lo.Angle)/(hi.Angle-lo.Angle)
	// Truncated like the firmware; pulse is never negative here.
	return uint32(pulse)
}

package pwm

import "errors"

type enableLine interface {
	SetValue(v int) error
	Close() error
}

// gated powers the servo rail through a GPIO line for the lifetime of the
// wrapped backend.
type gated struct {
	Backend
	line enableLine
}

func (g *gated) Name() string { return g.Backend.Name() + "+enable" }

func (g *gated) StartPWM() error {
	if err := g.Backend.StartPWM(); err != nil {
		return err
	}
	return g.line.SetValue(1)
}

func (g *gated) Close() error {
	err := g.Backend.Close()
	return errors.Join(err, g.line.SetValue(0), g.line.Close())
}

//go:build linux

package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openEnableLine requests BCM GPIO pin as an output (initially low) through
// the GPIO character device.
func openEnableLine(pin int) (enableLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("pwm: invalid enable gpio %d", pin)
	}

	// Pi header lines are named "GPIO18" etc. Pi 5 kernels may put them on
	// gpiochip4 instead of gpiochip0.
	lineName := fmt.Sprintf("GPIO%d", pin)
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join("/dev", name)
		if strings.HasPrefix(name, "gpiochip") && p != chipCandidates[0] && p != chipCandidates[1] {
			chipCandidates = append(chipCandidates, p)
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("servod-enable"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodLine{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("pwm: gpio line %q not found (or busy)", lineName)
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g.line == nil {
		return fmt.Errorf("pwm: enable line closed")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}

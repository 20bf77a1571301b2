// Package pwm provides the timer backends a servo converter writes compare
// values to.
//
// Compare values are expressed in ticks of a virtual timer that runs
// PeriodTicks ticks per PWM frame at FrequencyHz. Each backend converts ticks
// to its own units (nanoseconds for sysfs, 12-bit counts for the PCA9685).
package pwm

import (
	"fmt"
	"log"
)

// Backend is the contract shared by every PWM implementation in this package.
type Backend interface {
	StartPWM() error
	SetCompare(ticks uint32)
	Name() string
	Err() error
	Close() error
}

const (
	BackendSim     = "sim"
	BackendSysfs   = "sysfs"
	BackendPCA9685 = "pca9685"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendSim, BackendSysfs, BackendPCA9685}

type Config struct {
	Backend string
	Scale   Scale
	// EnableGPIO is a BCM GPIO number gating servo power; 0 disables it.
	EnableGPIO int
	Sysfs      SysfsConfig
	PCA9685    PCA9685Config
}

type SysfsConfig struct {
	// Chip is a pwmchip directory name (e.g. "pwmchip0"); empty probes.
	Chip    string
	Channel int
}

type PCA9685Config struct {
	Bus     string
	Addr    uint16
	Channel int
}

var (
	openSysfsFn      = openSysfs
	openPCA9685Fn    = openPCA9685
	openEnableLineFn = openEnableLine
)

// Open builds the backend named by cfg.Backend. The backend is not started;
// StartPWM is called when the converter binds it.
func Open(cfg Config) (Backend, error) {
	if err := cfg.Scale.validate(); err != nil {
		return nil, err
	}

	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case BackendSim, "":
		b = NewSim(cfg.Scale)
	case BackendSysfs:
		b, err = openSysfsFn(cfg.Sysfs, cfg.Scale)
	case BackendPCA9685:
		b, err = openPCA9685Fn(cfg.PCA9685, cfg.Scale)
	default:
		return nil, fmt.Errorf("pwm: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EnableGPIO <= 0 {
		return b, nil
	}
	line, err := openEnableLineFn(cfg.EnableGPIO)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	log.Printf("pwm: servo power gated by GPIO%d", cfg.EnableGPIO)
	return &gated{Backend: b, line: line}, nil
}

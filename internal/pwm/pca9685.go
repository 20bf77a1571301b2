package pwm

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"servod/internal/i2c"
)

// PCA9685 register map (NXP datasheet rev. 4, section 7.3).
const (
	pcaRegMode1    = 0x00
	pcaRegMode2    = 0x01
	pcaRegLED0OnL  = 0x06
	pcaRegPrescale = 0xFE

	pcaMode1Restart = 0x80
	pcaMode1AI      = 0x20
	pcaMode1Sleep   = 0x10
	pcaMode2OutDrv  = 0x04

	pcaFullOff    = 0x10 // bit 4 of LEDn_OFF_H
	pcaOscHz      = 25_000_000
	pcaResolution = 4096
	pcaChannels   = 16
)

const defaultPCA9685Addr = 0x40

type regDev interface {
	WriteReg(reg, value byte) error
	WriteRegs(reg byte, data ...byte) error
	ReadRegU8(reg byte) (byte, error)
}

// pca9685 drives one output of a PCA9685 16-channel PWM controller.
type pca9685 struct {
	dev     regDev
	bus     io.Closer
	channel int
	scale   Scale

	mu      sync.Mutex
	lastErr error
}

// The oscillator needs 500us to stabilize after leaving sleep.
var pcaWakeDelay = 500 * time.Microsecond
var sleepFn = time.Sleep

func openPCA9685(cfg PCA9685Config, scale Scale) (Backend, error) {
	if cfg.Channel < 0 || cfg.Channel >= pcaChannels {
		return nil, fmt.Errorf("pwm: pca9685 channel %d out of range [0,%d]", cfg.Channel, pcaChannels-1)
	}
	addr := cfg.Addr
	if addr == 0 {
		addr = defaultPCA9685Addr
	}
	bus, err := i2c.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("pwm: pca9685: %w", err)
	}
	log.Printf("pwm: pca9685 on %s addr 0x%02X channel %d", bus.Path(), addr, cfg.Channel)
	return newPCA9685(bus.Dev(addr), bus, cfg.Channel, scale), nil
}

func newPCA9685(dev regDev, bus io.Closer, channel int, scale Scale) *pca9685 {
	return &pca9685{dev: dev, bus: bus, channel: channel, scale: scale}
}

func (p *pca9685) Name() string { return BackendPCA9685 }

// pcaPrescale returns the PRESCALE value for an output frequency,
// limited to the chip's [3, 255] range.
func pcaPrescale(hz int) byte {
	v := math.Round(float64(pcaOscHz)/(float64(pcaResolution)*float64(hz))) - 1
	if v < 3 {
		v = 3
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// StartPWM sets the frame frequency. PRESCALE is only writable while the
// oscillator sleeps.
func (p *pca9685) StartPWM() error {
	mode1, err := p.dev.ReadRegU8(pcaRegMode1)
	if err != nil {
		return fmt.Errorf("pwm: pca9685 read mode1: %w", err)
	}
	mode1 &^= pcaMode1Restart
	steps := []struct {
		reg, val byte
	}{
		{pcaRegMode1, mode1 | pcaMode1Sleep},
		{pcaRegPrescale, pcaPrescale(p.scale.FrequencyHz)},
		{pcaRegMode2, pcaMode2OutDrv},
		{pcaRegMode1, (mode1 &^ pcaMode1Sleep) | pcaMode1AI},
	}
	for _, s := range steps {
		if err := p.dev.WriteReg(s.reg, s.val); err != nil {
			return fmt.Errorf("pwm: pca9685 write reg 0x%02X: %w", s.reg, err)
		}
	}
	sleepFn(pcaWakeDelay)
	if err := p.dev.WriteReg(pcaRegMode1, (mode1&^pcaMode1Sleep)|pcaMode1AI|pcaMode1Restart); err != nil {
		return fmt.Errorf("pwm: pca9685 restart: %w", err)
	}
	return nil
}

func (p *pca9685) ledReg() byte {
	return byte(pcaRegLED0OnL + 4*p.channel)
}

// SetCompare turns the output on at count 0 and off after the scaled pulse.
func (p *pca9685) SetCompare(ticks uint32) {
	off := p.scale.Counts(ticks, pcaResolution)
	err := p.dev.WriteRegs(p.ledReg(), 0, 0, byte(off), byte(off>>8))
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *pca9685) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close forces the channel fully off and releases the bus.
func (p *pca9685) Close() error {
	err := p.dev.WriteRegs(p.ledReg(), 0, 0, 0, pcaFullOff)
	if p.bus != nil {
		if cerr := p.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

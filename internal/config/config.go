package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"servod/internal/pwm"
	"servod/internal/servo"
)

type Config struct {
	Servo ServoConfig `yaml:"servo"`
	PWM   PWMConfig   `yaml:"pwm"`
	Web   WebConfig   `yaml:"web"`
	Link  LinkConfig  `yaml:"link"`
	Log   LogConfig   `yaml:"log"`
}

type ServoConfig struct {
	StartupAngleDeg float64 `yaml:"startup_angle_deg"`
	// CenterOnExit defaults to true; pointer so an explicit false survives.
	CenterOnExit *bool `yaml:"center_on_exit"`
}

type PWMConfig struct {
	Backend     string        `yaml:"backend"`
	FrequencyHz int           `yaml:"frequency_hz"`
	PeriodTicks uint32        `yaml:"period_ticks"`
	EnableGPIO  int           `yaml:"enable_gpio"`
	Sysfs       SysfsConfig   `yaml:"sysfs"`
	PCA9685     PCA9685Config `yaml:"pca9685"`
}

type SysfsConfig struct {
	Chip    string `yaml:"chip"`
	Channel int    `yaml:"channel"`
}

type PCA9685Config struct {
	Bus     string `yaml:"bus"`
	Addr    uint16 `yaml:"addr"`
	Channel int    `yaml:"channel"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LinkConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type LogConfig struct {
	BufferLines int `yaml:"buffer_lines"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are
// rejected so typos don't silently fall back to defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			for _, msg := range te.Errors {
				if !strings.Contains(msg, "not found in type") {
					continue
				}
				if strings.HasPrefix(msg, "line ") {
					if i := strings.Index(msg, ": "); i >= 0 {
						msg = msg[i+2:]
					}
				}
				return Config{}, fmt.Errorf("config contains unknown fields: %s", msg)
			}
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func boolPtr(v bool) *bool { return &v }

func (cfg *Config) applyDefaults() error {
	s := &cfg.Servo
	if math.IsNaN(s.StartupAngleDeg) || math.Abs(s.StartupAngleDeg) > servo.AngleLimit {
		return fmt.Errorf("servo.startup_angle_deg must be within [-%g, %g]", servo.AngleLimit, servo.AngleLimit)
	}
	if s.CenterOnExit == nil {
		s.CenterOnExit = boolPtr(true)
	}

	p := &cfg.PWM
	p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
	if p.Backend == "" {
		p.Backend = pwm.BackendSim
	}
	known := false
	for _, name := range pwm.Backends {
		if p.Backend == name {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("pwm.backend must be one of %s", strings.Join(pwm.Backends, ", "))
	}
	if p.FrequencyHz == 0 {
		p.FrequencyHz = pwm.DefaultScale.FrequencyHz
	}
	if p.FrequencyHz < 0 || p.FrequencyHz > 1000 {
		return fmt.Errorf("pwm.frequency_hz must be in (0, 1000]")
	}
	if p.PeriodTicks == 0 {
		p.PeriodTicks = pwm.DefaultScale.PeriodTicks
	}
	if p.EnableGPIO < 0 {
		return fmt.Errorf("pwm.enable_gpio must be >= 0")
	}
	if p.Sysfs.Channel < 0 {
		return fmt.Errorf("pwm.sysfs.channel must be >= 0")
	}
	if p.PCA9685.Bus == "" {
		p.PCA9685.Bus = "/dev/i2c-1"
	}
	if p.PCA9685.Addr == 0 {
		p.PCA9685.Addr = 0x40
	}
	if p.PCA9685.Addr > 0x7F {
		return fmt.Errorf("pwm.pca9685.addr must be a 7-bit address")
	}
	if p.PCA9685.Channel < 0 || p.PCA9685.Channel > 15 {
		return fmt.Errorf("pwm.pca9685.channel must be in [0, 15]")
	}

	if cfg.Web.Enable == nil {
		cfg.Web.Enable = boolPtr(true)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Link.Enable && strings.TrimSpace(cfg.Link.Device) == "" {
		return fmt.Errorf("link.device is required when link.enable is true")
	}
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = 115200
	}

	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 2000
	}
	return nil
}

// PWMBackend converts the pwm section to a pwm.Config.
func (cfg Config) PWMBackend() pwm.Config {
	p := cfg.PWM
	return pwm.Config{
		Backend:    p.Backend,
		Scale:      pwm.Scale{FrequencyHz: p.FrequencyHz, PeriodTicks: p.PeriodTicks},
		EnableGPIO: p.EnableGPIO,
		Sysfs:      pwm.SysfsConfig{Chip: p.Sysfs.Chip, Channel: p.Sysfs.Channel},
		PCA9685:    pwm.PCA9685Config{Bus: p.PCA9685.Bus, Addr: p.PCA9685.Addr, Channel: p.PCA9685.Channel},
	}
}

// ServiceConfig converts the servo section to a servo.ServiceConfig.
func (cfg Config) ServiceConfig() servo.ServiceConfig {
	return servo.ServiceConfig{
		StartupAngleDeg: cfg.Servo.StartupAngleDeg,
		CenterOnClose:   cfg.Servo.CenterOnExit == nil || *cfg.Servo.CenterOnExit,
	}
}

package pwm

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScale_Conversions(t *testing.T) {
	s := DefaultScale
	if got := s.PeriodNS(); got != 20_000_000 {
		t.Fatalf("PeriodNS=%d want 20000000", got)
	}
	cases := []struct {
		ticks  uint32
		dutyNS uint64
		counts uint32
	}{
		{0, 0, 0},
		{3400, 1_062_500, 218},
		{4800, 1_500_000, 307},
		{7350, 2_296_875, 470},
		{64000, 20_000_000, 4095},
		{100000, 20_000_000, 4095},
	}
	for _, tc := range cases {
		if got := s.DutyNS(tc.ticks); got != tc.dutyNS {
			t.Fatalf("DutyNS(%d)=%d want %d", tc.ticks, got, tc.dutyNS)
		}
		if got := s.Counts(tc.ticks, 4096); got != tc.counts {
			t.Fatalf("Counts(%d)=%d want %d", tc.ticks, got, tc.counts)
		}
	}
	if got := s.PulseWidth(4800); got != 1500*time.Microsecond {
		t.Fatalf("PulseWidth=%v want 1.5ms", got)
	}
}

func TestSim_ReadBack(t *testing.T) {
	sim := NewSim(DefaultScale)
	if err := sim.StartPWM(); err != nil {
		t.Fatalf("StartPWM: %v", err)
	}
	if !sim.Running() {
		t.Fatalf("expected running")
	}
	for _, v := range []uint32{3400, 4800, 7350, 12345} {
		sim.SetCompare(v)
		if got := sim.Compare(); got != v {
			t.Fatalf("Compare()=%d want %d", got, v)
		}
	}
	if got := sim.PulseWidth(); got != 3_857_812*time.Nanosecond {
		t.Fatalf("PulseWidth=%v want 3.857812ms", got)
	}
	if sim.Writes() != 4 {
		t.Fatalf("writes=%d want 4", sim.Writes())
	}
	if err := sim.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sim.Running() {
		t.Fatalf("expected stopped after Close")
	}
}

func TestOpen_DefaultsToSim(t *testing.T) {
	b, err := Open(Config{Scale: DefaultScale})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Name() != BackendSim {
		t.Fatalf("name=%q want sim", b.Name())
	}
}

func TestOpen_Rejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"UnknownBackend", Config{Backend: "rpio", Scale: DefaultScale}, `pwm: unknown backend "rpio"`},
		{"ZeroFrequency", Config{Scale: Scale{PeriodTicks: 64000}}, "pwm: invalid frequency 0"},
		{"ZeroTicks", Config{Scale: Scale{FrequencyHz: 50}}, "pwm: period ticks must be > 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.cfg)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

func TestOpen_DispatchesBackends(t *testing.T) {
	oldSysfs, oldPCA := openSysfsFn, openPCA9685Fn
	t.Cleanup(func() { openSysfsFn, openPCA9685Fn = oldSysfs, oldPCA })

	var gotSysfs SysfsConfig
	var gotPCA PCA9685Config
	openSysfsFn = func(cfg SysfsConfig, scale Scale) (Backend, error) {
		gotSysfs = cfg
		return NewSim(scale), nil
	}
	openPCA9685Fn = func(cfg PCA9685Config, scale Scale) (Backend, error) {
		gotPCA = cfg
		return nil, errors.New("no bus")
	}

	if _, err := Open(Config{Backend: BackendSysfs, Scale: DefaultScale, Sysfs: SysfsConfig{Chip: "pwmchip2", Channel: 1}}); err != nil {
		t.Fatalf("Open sysfs: %v", err)
	}
	if gotSysfs.Chip != "pwmchip2" || gotSysfs.Channel != 1 {
		t.Fatalf("sysfs cfg=%+v", gotSysfs)
	}

	_, err := Open(Config{Backend: BackendPCA9685, Scale: DefaultScale, PCA9685: PCA9685Config{Bus: "/dev/i2c-1", Channel: 3}})
	if err == nil || !strings.Contains(err.Error(), "no bus") {
		t.Fatalf("err=%v want no bus", err)
	}
	if gotPCA.Channel != 3 {
		t.Fatalf("pca cfg=%+v", gotPCA)
	}
}

type fakeLine struct {
	values []int
	closed bool
	err    error
}

func (l *fakeLine) SetValue(v int) error {
	l.values = append(l.values, v)
	return l.err
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func TestOpen_GatesWithEnableLine(t *testing.T) {
	old := openEnableLineFn
	t.Cleanup(func() { openEnableLineFn = old })

	line := &fakeLine{}
	var gotPin int
	openEnableLineFn = func(pin int) (enableLine, error) {
		gotPin = pin
		return line, nil
	}

	b, err := Open(Config{Scale: DefaultScale, EnableGPIO: 17})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if gotPin != 17 {
		t.Fatalf("pin=%d want 17", gotPin)
	}
	if b.Name() != "sim+enable" {
		t.Fatalf("name=%q", b.Name())
	}
	if err := b.StartPWM(); err != nil {
		t.Fatalf("StartPWM: %v", err)
	}
	b.SetCompare(4800)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(line.values) != 2 || line.values[0] != 1 || line.values[1] != 0 {
		t.Fatalf("line values=%v want [1 0]", line.values)
	}
	if !line.closed {
		t.Fatalf("expected line closed")
	}
}

func TestOpen_EnableLineFailureClosesBackend(t *testing.T) {
	oldLine, oldSysfs := openEnableLineFn, openSysfsFn
	t.Cleanup(func() { openEnableLineFn, openSysfsFn = oldLine, oldSysfs })

	sim := NewSim(DefaultScale)
	_ = sim.StartPWM()
	openSysfsFn = func(SysfsConfig, Scale) (Backend, error) { return sim, nil }
	openEnableLineFn = func(int) (enableLine, error) { return nil, errors.New("line busy") }

	_, err := Open(Config{Backend: BackendSysfs, Scale: DefaultScale, EnableGPIO: 5})
	if err == nil || err.Error() != "line busy" {
		t.Fatalf("err=%v want line busy", err)
	}
	if sim.Running() {
		t.Fatalf("expected backend closed")
	}
}

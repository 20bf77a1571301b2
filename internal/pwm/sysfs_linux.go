//go:build linux

package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// sysfsPWM drives one channel of a kernel PWM chip via /sys/class/pwm.
//
// On Raspberry Pi the channel only exists with `dtoverlay=pwm` or
// `dtoverlay=pwm-2chan` in config.txt; channel 0 is GPIO18.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int
	scale    Scale

	mu      sync.Mutex
	lastErr error
}

var pwmSysfsBase = "/sys/class/pwm"

// Newly exported attributes can briefly reject writes until udev fixes up
// permissions.
var sysfsSettleTimeout = 2 * time.Second

func openSysfs(cfg SysfsConfig, scale Scale) (Backend, error) {
	if cfg.Channel < 0 {
		return nil, fmt.Errorf("pwm: invalid sysfs channel %d", cfg.Channel)
	}
	chipPath, err := findPWMChip(cfg.Chip, cfg.Channel)
	if err != nil {
		return nil, err
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  cfg.Channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", cfg.Channel)),
		scale:    scale,
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	return d, nil
}

func findPWMChip(name string, channel int) (string, error) {
	base := pwmSysfsBase
	if name != "" {
		chip := filepath.Join(base, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil {
			return "", fmt.Errorf("pwm: read %s npwm: %w", name, err)
		}
		if channel >= n {
			return "", fmt.Errorf("pwm: %s has %d channels, channel %d requested", name, n, channel)
		}
		return chip, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("pwm: read %s: %w", base, err)
	}
	// pwmchipN entries are usually symlinks, so don't filter on IsDir.
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "pwmchip") {
			continue
		}
		chip := filepath.Join(base, e.Name())
		n, rerr := readInt(filepath.Join(chip, "npwm"))
		if rerr != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("pwm: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) Name() string { return BackendSysfs }

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel), 0); err != nil {
		// Exported concurrently by someone else.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("pwm: export channel %d: %w", d.channel, err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("pwm: %s not created after export: %w", d.pwmPath, err)
	}
	return nil
}

// StartPWM programs the frame period with a zero duty and enables output.
func (d *sysfsPWM) StartPWM() error {
	// The kernel rejects a period shorter than the current duty, and most
	// drivers refuse period changes while enabled.
	_ = d.write("enable", "0", 0)
	if err := d.write("duty_cycle", "0", sysfsSettleTimeout); err != nil {
		return fmt.Errorf("pwm: reset duty_cycle: %w", err)
	}
	if err := d.write("period", strconv.FormatUint(d.scale.PeriodNS(), 10), sysfsSettleTimeout); err != nil {
		return fmt.Errorf("pwm: set period: %w", err)
	}
	if err := d.write("enable", "1", sysfsSettleTimeout); err != nil {
		return fmt.Errorf("pwm: enable: %w", err)
	}
	return nil
}

func (d *sysfsPWM) SetCompare(ticks uint32) {
	err := d.write("duty_cycle", strconv.FormatUint(d.scale.DutyNS(ticks), 10), 0)
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *sysfsPWM) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *sysfsPWM) Close() error {
	// A disabled channel holds the line low, which servos read as "no signal".
	return d.write("enable", "0", 0)
}

func (d *sysfsPWM) write(name, value string, settle time.Duration) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), value, settle)
}

// writeSysfs opens without O_TRUNC/O_CREATE: some sysfs attributes reject
// those flags even when the mode bits allow writes. Retryable errors are
// retried until settle elapses.
func writeSysfs(path string, value string, settle time.Duration) error {
	deadline := time.Now().Add(settle)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if !time.Now().Before(deadline) || !isRetryableSysfsErr(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil && cerr != nil {
		return errors.Join(werr, cerr)
	}
	if werr != nil {
		return werr
	}
	return cerr
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}

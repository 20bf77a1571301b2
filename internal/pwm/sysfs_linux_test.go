//go:build linux

package pwm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeSysfs builds <tmp>/pwm/pwmchip0 -> <tmp>/realchip0 with npwm=2 and an
// already exported pwm<channel> directory with empty attribute files.
func fakeSysfs(t *testing.T, channel int) (base string, pwmDir string) {
	t.Helper()
	dir := t.TempDir()
	base = filepath.Join(dir, "pwm")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	realChip := filepath.Join(dir, "realchip0")
	pwmDir = filepath.Join(realChip, "pwm"+string(rune('0'+channel)))
	if err := os.MkdirAll(pwmDir, 0o755); err != nil {
		t.Fatalf("MkdirAll pwm dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(realChip, "npwm"), []byte("2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile npwm: %v", err)
	}
	for _, name := range []string{"period", "duty_cycle", "enable"} {
		if err := os.WriteFile(filepath.Join(pwmDir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}
	if err := os.Symlink(realChip, filepath.Join(base, "pwmchip0")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	old := pwmSysfsBase
	pwmSysfsBase = base
	t.Cleanup(func() { pwmSysfsBase = old })
	return base, pwmDir
}

func readAttr(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile %s: %v", name, err)
	}
	return strings.TrimSpace(string(b))
}

func TestFindPWMChip_AcceptsSymlinkedPWMChip(t *testing.T) {
	base, _ := fakeSysfs(t, 0)
	chipPath, err := findPWMChip("", 1)
	if err != nil {
		t.Fatalf("findPWMChip: %v", err)
	}
	if want := filepath.Join(base, "pwmchip0"); chipPath != want {
		t.Fatalf("chipPath=%q want %q", chipPath, want)
	}
}

func TestFindPWMChip_ChannelOutOfRange(t *testing.T) {
	fakeSysfs(t, 0)
	if _, err := findPWMChip("", 2); err == nil {
		t.Fatalf("expected error for channel 2 on a 2-channel chip")
	}
	if _, err := findPWMChip("pwmchip0", 5); err == nil || !strings.Contains(err.Error(), "has 2 channels") {
		t.Fatalf("err=%v want channel count error", err)
	}
	if _, err := findPWMChip("pwmchip9", 0); err == nil {
		t.Fatalf("expected error for missing chip")
	}
}

func TestSysfsPWM_StartAndSetCompare(t *testing.T) {
	_, pwmDir := fakeSysfs(t, 1)

	b, err := openSysfs(SysfsConfig{Chip: "pwmchip0", Channel: 1}, DefaultScale)
	if err != nil {
		t.Fatalf("openSysfs: %v", err)
	}
	if err := b.StartPWM(); err != nil {
		t.Fatalf("StartPWM: %v", err)
	}
	if got := readAttr(t, pwmDir, "period"); got != "20000000" {
		t.Fatalf("period=%q want 20000000", got)
	}
	if got := readAttr(t, pwmDir, "enable"); got != "1" {
		t.Fatalf("enable=%q want 1", got)
	}

	b.SetCompare(4800)
	if err := b.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if got := readAttr(t, pwmDir, "duty_cycle"); got != "1500000" {
		t.Fatalf("duty_cycle=%q want 1500000", got)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readAttr(t, pwmDir, "enable"); got != "0" {
		t.Fatalf("enable=%q want 0 after Close", got)
	}
}

func TestSysfsPWM_SetCompareRecordsError(t *testing.T) {
	_, pwmDir := fakeSysfs(t, 0)
	b, err := openSysfs(SysfsConfig{}, DefaultScale)
	if err != nil {
		t.Fatalf("openSysfs: %v", err)
	}
	if err := os.Remove(filepath.Join(pwmDir, "duty_cycle")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	b.SetCompare(4800)
	if b.Err() == nil {
		t.Fatalf("expected recorded error")
	}
}

//go:build !linux

package pwm

import "fmt"

func openSysfs(cfg SysfsConfig, scale Scale) (Backend, error) {
	return nil, fmt.Errorf("pwm: sysfs backend unsupported on this platform")
}

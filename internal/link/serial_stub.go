//go:build !linux

package link

import (
	"fmt"
	"os"
)

func OpenSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("link: serial not supported on this platform")
}

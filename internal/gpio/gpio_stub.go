//go:build !linux || (!arm && !arm64)

package gpio

import (
	"fmt"
	"io"
	"time"
)

func openLED(pin int) (output, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func openButton(pin int, debounce time.Duration, onPress func()) (io.Closer, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

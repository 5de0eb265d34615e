//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// chipCandidates lists gpiochips, likely Pi header chips first.
func chipCandidates() []string {
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			out = append(out, filepath.Join("/dev", name))
		}
	}
	return out
}

// requestLine finds BCM pin by its "GPIOn" line name on any chip.
func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin <= 0 {
		return nil, nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)
	for _, chipPath := range chipCandidates() {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("gpio: line not initialized")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g == nil || g.line == nil {
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

func openLED(pin int) (output, error) {
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("northcam-led"))
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

// openButton watches an active-low button with the internal pull-up.
func openButton(pin int, debounce time.Duration, onPress func()) (io.Closer, error) {
	handler := func(evt gpiocdev.LineEvent) {
		if evt.Type == gpiocdev.LineEventFallingEdge {
			onPress()
		}
	}
	chip, line, err := requestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithDebounce(debounce),
		gpiocdev.WithEventHandler(handler),
		gpiocdev.WithConsumer("northcam-shutter"),
	)
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

package motion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"gonum.org/v1/gonum/spatial/r3"
)

// Port is the minimal serial port surface the line feed needs.
type Port interface {
	io.ReadWriteCloser
}

// PortOpener opens a serial port; replaced in tests.
type PortOpener func(device string, baud int) (Port, error)

func openSerialPort(device string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(device, mode)
}

// SerialFeed reads a sensor board that prints one reading per line:
//
//	MAG,<x>,<y>,<z>
//	ACC,<x>,<y>,<z>
//
// On open it sends "RATE,<ms>" so the board matches the configured interval.
type SerialFeed struct {
	Device   string
	Baud     int
	Interval time.Duration
	Open     PortOpener
	OnError  func(msg string)
}

func (f *SerialFeed) Name() string  { return "serial" }
func (f *SerialFeed) Kinds() []Kind { return []Kind{Mag, Accel} }

func (f *SerialFeed) Run(ctx context.Context, out chan<- Sample) error {
	if strings.TrimSpace(f.Device) == "" {
		return fmt.Errorf("motion: serial device is required")
	}
	baud := f.Baud
	if baud <= 0 {
		baud = 115200
	}
	open := f.Open
	if open == nil {
		open = openSerialPort
	}
	port, err := open(f.Device, baud)
	if err != nil {
		return fmt.Errorf("motion: open %s: %w", f.Device, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()
	defer port.Close()

	if f.Interval > 0 {
		cmd := fmt.Sprintf("RATE,%d\n", f.Interval.Milliseconds())
		if _, err := port.Write([]byte(cmd)); err != nil {
			return fmt.Errorf("motion: set rate: %w", err)
		}
	}
	log.Printf("motion: serial feed device=%s baud=%d", f.Device, baud)

	sc := bufio.NewScanner(port)
	sc.Buffer(make([]byte, 0, 256), 4096)
	for sc.Scan() {
		s, ok, err := parseSampleLine(sc.Text())
		if err != nil {
			if f.OnError != nil {
				f.OnError(err.Error())
			}
			continue
		}
		if !ok {
			continue
		}
		s.At = time.Now().UTC()
		if !send(ctx, out, s) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("motion: serial read: %w", err)
	}
	return fmt.Errorf("motion: serial read: %w", io.EOF)
}

// parseSampleLine returns ok=false for blank lines and comments.
func parseSampleLine(line string) (Sample, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Sample{}, false, nil
	}
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return Sample{}, false, fmt.Errorf("motion: bad sample line %q", line)
	}
	var s Sample
	switch strings.ToUpper(strings.TrimSpace(parts[0])) {
	case "MAG", "M":
		s.Kind = Mag
	case "ACC", "A":
		s.Kind = Accel
	default:
		// Boards may interleave other channels (gyro, temperature).
		return Sample{}, false, nil
	}
	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return Sample{}, false, fmt.Errorf("motion: bad value in %q: %v", line, err)
		}
		v[i] = f
	}
	s.Vec = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	return s, true, nil
}

package location

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"northcam/internal/geo"
)

// NMEAFeed reads NMEA 0183 from a serial tty (or any reader supplied through
// Open) and emits a fix for each valid RMC or GGA sentence.
type NMEAFeed struct {
	Device string
	Baud   int
	// Open overrides how the device is opened; tests use it to feed canned data.
	Open    func(device string, baud int) (io.ReadCloser, error)
	OnError func(msg string)
}

func (f *NMEAFeed) Name() string { return "nmea" }

func (f *NMEAFeed) Run(ctx context.Context, out chan<- Fix) error {
	device := strings.TrimSpace(f.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return fmt.Errorf("location: nmea auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	baud := f.Baud
	if baud == 0 {
		baud = 9600
	}
	open := f.Open
	if open == nil {
		open = func(dev string, b int) (io.ReadCloser, error) { return openSerial(dev, b) }
	}
	rc, err := open(device, baud)
	if err != nil {
		return fmt.Errorf("location: nmea open device=%s baud=%d: %w", device, baud, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()
	defer rc.Close()

	log.Printf("location: nmea feed device=%s baud=%d", device, baud)

	sc := bufio.NewScanner(rc)
	// NMEA sentences are < 82 chars; allow headroom for chatter.
	sc.Buffer(make([]byte, 0, 256), 4096)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			if f.OnError != nil {
				f.OnError(err.Error())
			}
			continue
		}
		fix, ok := sent.fix(time.Now().UTC())
		if !ok {
			continue
		}
		fix.Source = "nmea"
		if !send(ctx, out, fix) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("location: nmea read: %w", err)
	}
	return fmt.Errorf("location: nmea read: %w", io.EOF)
}

type nmeaSentence struct {
	Type   string
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}
	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPRMC, GNRMC, ... all normalize to RMC.
	t := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// fix extracts a position from RMC (status A) or GGA (quality > 0).
func (s nmeaSentence) fix(nowUTC time.Time) (Fix, bool) {
	f := s.Fields
	var latIdx int
	switch s.Type {
	case "RMC":
		// 2: status, 3/4: lat, 5/6: lon
		if len(f) < 7 || strings.TrimSpace(f[2]) != "A" {
			return Fix{}, false
		}
		latIdx = 3
	case "GGA":
		// 2/3: lat, 4/5: lon, 6: quality, 8: hdop
		if len(f) < 9 {
			return Fix{}, false
		}
		q := strings.TrimSpace(f[6])
		if q == "" || q == "0" {
			return Fix{}, false
		}
		latIdx = 2
	default:
		return Fix{}, false
	}
	lat, latOK := parseNMEALatLon(f[latIdx], f[latIdx+1])
	lon, lonOK := parseNMEALatLon(f[latIdx+2], f[latIdx+3])
	if !latOK || !lonOK {
		return Fix{}, false
	}
	fix := Fix{Coord: geo.Coordinate{LatDeg: lat, LonDeg: lon}, At: nowUTC}
	if s.Type == "GGA" {
		if hdop, err := strconv.ParseFloat(strings.TrimSpace(f[8]), 64); err == nil {
			// Rough UERE of 5 m per unit HDOP.
			v := hdop * 5
			fix.HorizAccM = &v
		}
	}
	return fix, true
}

// parseNMEALatLon parses ddmm.mmmm / dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}
	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}
	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}
	dec := float64(deg) + mins/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

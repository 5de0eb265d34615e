package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strings"
	"time"

	"northcam/internal/geo"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// GPSDFeed streams TPV reports from gpsd and reconnects with backoff.
type GPSDFeed struct {
	Addr string
	// OnError is called with transient connection/parse errors. Optional.
	OnError func(msg string)
}

func (f *GPSDFeed) Name() string { return "gpsd" }

func (f *GPSDFeed) Run(ctx context.Context, out chan<- Fix) error {
	addr := strings.TrimSpace(f.Addr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	log.Printf("location: gpsd feed addr=%s", addr)

	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := dialGPSD(ctx, addr)
		if err != nil {
			f.reportError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = 250 * time.Millisecond

		err = f.stream(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		f.reportError(fmt.Sprintf("gpsd read stopped: %v", err))
	}
}

func (f *GPSDFeed) stream(ctx context.Context, conn net.Conn, out chan<- Fix) error {
	// Unblock the scanner when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := gpsdWatch(conn); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	var p gpsdParser
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fix, ok, err := p.applyLine(time.Now().UTC(), line)
		if err != nil {
			f.reportError(err.Error())
			continue
		}
		if ok && !send(ctx, out, fix) {
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (f *GPSDFeed) reportError(msg string) {
	if f.OnError != nil {
		f.OnError(msg)
	}
}

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdTPV struct {
	Class string   `json:"class"`
	Mode  *int     `json:"mode"`
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Eph   *float64 `json:"eph"`
	Epx   *float64 `json:"epx"`
	Epy   *float64 `json:"epy"`
}

// gpsdParser turns gpsd report lines into fixes. Only TPV reports with a 2D
// or 3D fix and both coordinates produce a fix.
type gpsdParser struct {
	mode int
}

func (p *gpsdParser) applyLine(nowUTC time.Time, line string) (Fix, bool, error) {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return Fix{}, false, fmt.Errorf("gpsd json parse failed: %v", err)
	}
	if !strings.EqualFold(strings.TrimSpace(base.Class), "TPV") {
		// VERSION/DEVICES/WATCH/SKY are not needed for a position gate.
		return Fix{}, false, nil
	}
	var tpv gpsdTPV
	if err := json.Unmarshal([]byte(line), &tpv); err != nil {
		return Fix{}, false, fmt.Errorf("gpsd tpv parse failed: %v", err)
	}
	if tpv.Mode != nil {
		p.mode = *tpv.Mode
	}
	if p.mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return Fix{}, false, nil
	}

	fix := Fix{
		Coord:  geo.Coordinate{LatDeg: *tpv.Lat, LonDeg: *tpv.Lon},
		At:     nowUTC,
		Source: "gpsd",
	}
	if t := strings.TrimSpace(tpv.Time); t != "" {
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			fix.At = ts.UTC()
		}
	}
	switch {
	case tpv.Eph != nil:
		v := *tpv.Eph
		fix.HorizAccM = &v
	case tpv.Epx != nil && tpv.Epy != nil:
		v := math.Hypot(*tpv.Epx, *tpv.Epy)
		fix.HorizAccM = &v
	}
	return fix, true, nil
}

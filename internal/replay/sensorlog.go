package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<kind>,<a>,<b>,<c>
//   where t_ns is nanoseconds since START and kind is one of:
//     fix    a=lat_deg b=lon_deg c=horizontal accuracy in m (empty if unknown)
//     mag    a,b,c = field in µT
//     accel  a,b,c = acceleration

type Kind string

const (
	KindStart Kind = ""
	KindFix   Kind = "fix"
	KindMag   Kind = "mag"
	KindAccel Kind = "accel"
)

type Record struct {
	At   time.Duration
	Kind Kind
	A    float64
	B    float64
	// C is NaN for a fix without accuracy.
	C float64
}

// IsStart reports whether r is a START marker.
func (r Record) IsStart() bool { return r.Kind == KindStart }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseRecord(line string) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return Record{}, fmt.Errorf("invalid replay line (want 5 fields): %q", line)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	tsNs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay timestamp %q: %w", parts[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}
	rec := Record{At: time.Duration(tsNs), Kind: Kind(parts[1])}
	switch rec.Kind {
	case KindFix, KindMag, KindAccel:
	default:
		return Record{}, fmt.Errorf("invalid replay kind %q", parts[1])
	}
	vals := [3]*float64{&rec.A, &rec.B, &rec.C}
	for i, p := range parts[2:] {
		if p == "" && rec.Kind == KindFix && i == 2 {
			rec.C = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid replay value %q: %w", p, err)
		}
		*vals[i] = v
	}
	return rec, nil
}

// Writer appends records; safe for concurrent use by several feeds.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (ww *Writer) Write(now time.Time, kind Kind, a, b, c float64) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if kind == KindStart {
		return errors.New("kind is empty")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s,%s,%s\n", d.Nanoseconds(), kind, formatValue(a), formatValue(b), formatValue(c))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play replays records with their relative timing, calling cb for every data
// record. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}

			if err := cb(r); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

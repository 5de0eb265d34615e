package replay

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, fix, 40.7128, -74.006,
10, mag, 30, 0, -40
20, accel, 9.8, 0, 0.1
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	if !recs[0].IsStart() {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].Kind != KindFix || recs[1].A != 40.7128 || recs[1].B != -74.006 || !math.IsNaN(recs[1].C) {
		t.Fatalf("unexpected fix: %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || recs[2].Kind != KindMag || recs[2].C != -40 {
		t.Fatalf("unexpected mag: %+v", recs[2])
	}
	if recs[3].Kind != KindAccel || recs[3].A != 9.8 {
		t.Fatalf("unexpected accel: %+v", recs[3])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{
		"not-a-valid-line\n",
		"0,gyro,1,2,3\n",
		"-1,mag,1,2,3\n",
		"0,mag,1,,3\n",
		"x,mag,1,2,3\n",
	} {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Kind: KindMag, A: 1},
		{At: 1*time.Second + 100*time.Nanosecond, Kind: KindMag, A: 2},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Kind: KindAccel, A: 3},
	}
	var got []float64
	err := Play(context.Background(), recs, 1.0, false, fs, func(r Record) error {
		got = append(got, r.A)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Fatalf("got=%v want [1 2 3]", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Kind: KindMag},
		{At: 100 * time.Nanosecond, Kind: KindMag},
	}
	if err := Play(context.Background(), recs, 2.0, false, fs, func(Record) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{{At: 0, Kind: KindMag}}
	if err := Play(context.Background(), recs, 0, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(context.Background(), nil, 1, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
}

func TestPlay_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{{At: 0, Kind: KindMag}}
	n := 0
	err := Play(ctx, recs, 1, true, &fakeSleeper{}, func(Record) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.Write(time.Unix(0, 20), KindMag, 1.5, -2, 0); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Write(time.Unix(0, 30), KindFix, 40.5, -74.25, math.NaN()); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Write(time.Unix(0, 40), KindMag, 0, 0, 0); err == nil {
		t.Fatalf("expected error after close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	want := "START\n20,mag,1.5,-2,0\n30,fix,40.5,-74.25,\n"
	if string(b) != want {
		t.Fatalf("contents=%q want %q", string(b), want)
	}
}

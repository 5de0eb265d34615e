package motion

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

type fakeIMU struct {
	mu       sync.Mutex
	hasMag   bool
	magErr   error
	accelErr error
}

func (f *fakeIMU) ReadAccel() (r3.Vec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accelErr != nil {
		return r3.Vec{}, f.accelErr
	}
	return r3.Vec{X: 1}, nil
}

func (f *fakeIMU) ReadMag() (r3.Vec, bool, error) { return r3.Vec{X: 30}, true, nil }
func (f *fakeIMU) HasMag() bool                   { return f.hasMag }
func (f *fakeIMU) MagError() error                { return f.magErr }

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error { c.closed = true; return nil }

func TestIMUFeed_EmitsBothKinds(t *testing.T) {
	dev := &fakeIMU{hasMag: true}
	c := &nopCloser{}
	f := &IMUFeed{
		Interval: 5 * time.Millisecond,
		Open:     func() (IMU, io.Closer, error) { return dev, c, nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Sample, 16)
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, out) }()

	seen := map[Kind]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[Mag] || !seen[Accel] {
		select {
		case s := <-out:
			seen[s.Kind] = true
		case <-deadline:
			t.Fatalf("timed out; seen=%v", seen)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.closed {
		t.Fatalf("bus not closed")
	}
}

func TestIMUFeed_ReportsMissingMagAndAccelFailure(t *testing.T) {
	dev := &fakeIMU{magErr: errors.New("wia2 mismatch"), accelErr: errors.New("nack")}
	f := &IMUFeed{
		Interval: 5 * time.Millisecond,
		Open:     func() (IMU, io.Closer, error) { return dev, &nopCloser{}, nil },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	out := make(chan Sample, 16)
	if err := f.Run(ctx, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(out)
	var got []Sample
	for s := range out {
		if s.Err == nil {
			t.Fatalf("unexpected reading: %+v", s)
		}
		got = append(got, s)
	}
	// One report per failure, not one per tick.
	if len(got) != 2 {
		t.Fatalf("got %d sensor errors: %v", len(got), got)
	}
	if got[0].Kind != Mag || got[1].Kind != Accel {
		t.Fatalf("kinds=%v,%v", got[0].Kind, got[1].Kind)
	}
	if !errors.Is(got[1].Err, dev.accelErr) {
		t.Fatalf("err=%v", got[1].Err)
	}
}

func TestIMUFeed_OpenFailure(t *testing.T) {
	f := &IMUFeed{Open: func() (IMU, io.Closer, error) { return nil, nil, errors.New("no bus") }}
	if err := f.Run(context.Background(), make(chan Sample)); err == nil {
		t.Fatalf("expected error")
	}
}

// Package replay records raw sensor input to a text log and plays it back as
// location and motion feeds.
package replay

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"northcam/internal/geo"
	"northcam/internal/location"
	"northcam/internal/motion"
)

// Load reads a whole log file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", path, err)
	}
	return recs, nil
}

type Options struct {
	Path    string
	Speed   float64
	Loop    bool
	Sleeper Sleeper
}

func (o Options) play(ctx context.Context, cb func(Record) error) error {
	recs, err := Load(o.Path)
	if err != nil {
		return err
	}
	speed := o.Speed
	if speed == 0 {
		speed = 1
	}
	log.Printf("replay: playing path=%s records=%d speed=%.2f loop=%t", o.Path, len(recs), speed, o.Loop)
	err = Play(ctx, recs, speed, o.Loop, o.Sleeper, cb)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// LocationFeed replays fix records.
type LocationFeed struct{ Options }

func (f *LocationFeed) Name() string { return "replay" }

func (f *LocationFeed) Run(ctx context.Context, out chan<- location.Fix) error {
	return f.play(ctx, func(r Record) error {
		if r.Kind != KindFix {
			return nil
		}
		fix := location.Fix{
			Coord:  geo.Coordinate{LatDeg: r.A, LonDeg: r.B},
			At:     time.Now().UTC(),
			Source: "replay",
		}
		if !math.IsNaN(r.C) {
			acc := r.C
			fix.HorizAccM = &acc
		}
		select {
		case out <- fix:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// MotionFeed replays mag and accel records.
type MotionFeed struct{ Options }

func (f *MotionFeed) Name() string         { return "replay" }
func (f *MotionFeed) Kinds() []motion.Kind { return []motion.Kind{motion.Mag, motion.Accel} }

func (f *MotionFeed) Run(ctx context.Context, out chan<- motion.Sample) error {
	return f.play(ctx, func(r Record) error {
		var k motion.Kind
		switch r.Kind {
		case KindMag:
			k = motion.Mag
		case KindAccel:
			k = motion.Accel
		default:
			return nil
		}
		s := motion.Sample{Kind: k, Vec: r3.Vec{X: r.A, Y: r.B, Z: r.C}, At: time.Now().UTC()}
		select {
		case out <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Recorder writes live input to a Writer. Write errors are logged once.
type Recorder struct {
	w    *Writer
	once sync.Once
}

func NewRecorder(w *Writer) *Recorder { return &Recorder{w: w} }

func (r *Recorder) report(err error) {
	if err != nil {
		r.once.Do(func() { log.Printf("replay: record failed err=%v", err) })
	}
}

func (r *Recorder) Fix(f location.Fix) {
	if r == nil {
		return
	}
	acc := math.NaN()
	if f.HorizAccM != nil {
		acc = *f.HorizAccM
	}
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	r.report(r.w.Write(at, KindFix, f.Coord.LatDeg, f.Coord.LonDeg, acc))
}

func (r *Recorder) Sample(s motion.Sample) {
	if r == nil || s.Err != nil {
		return
	}
	k := KindMag
	if s.Kind == motion.Accel {
		k = KindAccel
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	r.report(r.w.Write(at, k, s.Vec.X, s.Vec.Y, s.Vec.Z))
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.w.Close()
}

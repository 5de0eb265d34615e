package motion

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// SimFeed produces a device slowly panning through all headings while its
// tilt wobbles around level. Each sweep passes through north and holds level
// long enough to open the gate.
type SimFeed struct {
	// Period is one full 360° heading sweep.
	Period   time.Duration
	Interval time.Duration
	// FieldUT is the horizontal field strength.
	FieldUT float64
	// WobbleDeg is the peak tilt excursion.
	WobbleDeg float64
}

func (f *SimFeed) Name() string  { return "sim" }
func (f *SimFeed) Kinds() []Kind { return []Kind{Mag, Accel} }

func (f *SimFeed) period() time.Duration {
	if f.Period <= 0 {
		return 60 * time.Second
	}
	return f.Period
}

// Heading is the simulated heading at elapsed time.
func (f *SimFeed) Heading(elapsed time.Duration) float64 {
	frac := math.Mod(elapsed.Seconds(), f.period().Seconds()) / f.period().Seconds()
	return frac * 360
}

// Tilt is the simulated tilt from upright at elapsed time.
func (f *SimFeed) Tilt(elapsed time.Duration) float64 {
	w := f.WobbleDeg
	if w <= 0 {
		w = 6
	}
	// Slower than the sweep so level windows drift across headings.
	return w * math.Abs(math.Sin(2*math.Pi*elapsed.Seconds()/(f.period().Seconds()/3)))
}

// Samples returns the mag and accel readings at elapsed time.
func (f *SimFeed) Samples(elapsed time.Duration) (mag, accel r3.Vec) {
	b := f.FieldUT
	if b <= 0 {
		b = 30
	}
	h := f.Heading(elapsed) * math.Pi / 180
	mag = r3.Vec{X: b * math.Cos(h), Y: b * math.Sin(h), Z: -40}

	// Upright device: gravity along +X, tilted toward +Z.
	t := f.Tilt(elapsed) * math.Pi / 180
	accel = r3.Scale(9.80665, r3.Vec{X: math.Cos(t), Z: math.Sin(t)})
	return mag, accel
}

func (f *SimFeed) Run(ctx context.Context, out chan<- Sample) error {
	interval := f.Interval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	start := time.Now()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			mag, accel := f.Samples(now.Sub(start))
			at := now.UTC()
			if !send(ctx, out, Sample{Kind: Mag, Vec: mag, At: at}) {
				return nil
			}
			if !send(ctx, out, Sample{Kind: Accel, Vec: accel, At: at}) {
				return nil
			}
		}
	}
}

package location

import (
	"context"
	"time"

	"northcam/internal/geo"
)

// Feed pushes fixes into out until ctx is cancelled or the source fails
// permanently. Feeds must not close out.
type Feed interface {
	Name() string
	Run(ctx context.Context, out chan<- Fix) error
}

// Throttle mirrors a platform watch-position request: a fix is delivered when
// at least Interval has passed since the last delivered fix, or the position
// moved at least MinDistanceM. The first fix is always delivered.
type Throttle struct {
	Interval     time.Duration
	MinDistanceM float64

	last     Fix
	haveLast bool
}

func (t *Throttle) Allow(fix Fix) bool {
	if !t.haveLast {
		t.last = fix
		t.haveLast = true
		return true
	}
	elapsed := fix.At.Sub(t.last.At)
	moved := geo.DistanceMeters(t.last.Coord, fix.Coord)
	if (t.Interval > 0 && elapsed >= t.Interval) || (t.MinDistanceM > 0 && moved >= t.MinDistanceM) {
		t.last = fix
		return true
	}
	return false
}

// send delivers fix without blocking past ctx.
func send(ctx context.Context, out chan<- Fix, fix Fix) bool {
	select {
	case out <- fix:
		return true
	case <-ctx.Done():
		return false
	}
}

package location

import (
	"context"
	"math"
	"time"

	"northcam/internal/geo"
)

// SimFeed walks a deterministic figure-eight around Center so the fix drifts
// in and out of a geofence of similar radius.
type SimFeed struct {
	Center   geo.Coordinate
	RadiusM  float64
	Period   time.Duration
	Interval time.Duration
}

func (s *SimFeed) Name() string { return "sim" }

// Position returns the simulated coordinate at now.
func (s *SimFeed) Position(now time.Time) geo.Coordinate {
	period := s.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radius := s.RadiusM
	if radius <= 0 {
		radius = 80
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	// x spans the full radius east-west; y stays within half of it.
	east := radius * math.Cos(w)
	north := radius * 0.5 * math.Sin(2*w)
	return geo.Offset(s.Center, north, east)
}

func (s *SimFeed) Run(ctx context.Context, out chan<- Fix) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		now := time.Now().UTC()
		if !send(ctx, out, Fix{Coord: s.Position(now), At: now, Source: "sim"}) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

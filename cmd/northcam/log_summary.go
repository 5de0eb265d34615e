package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"northcam/internal/orient"
	"northcam/internal/replay"
)

type logSummary struct {
	Segments    int
	Fixes       int
	Mag         int
	Accel       int
	Invalid     int
	NorthMag    int
	LevelAccel  int
	MaxDuration time.Duration
}

// summarizeSensorLog counts records per kind and how many samples would
// have satisfied the default heading and tilt thresholds on their own.
func summarizeSensorLog(records []replay.Record) logSummary {
	var s logSummary
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasData := false
	segments := 0

	for _, r := range records {
		if r.IsStart() {
			segments++
			origin = r.At
			continue
		}
		hasData = true

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		v := r3.Vec{X: r.A, Y: r.B, Z: r.C}
		switch r.Kind {
		case replay.KindFix:
			s.Fixes++
		case replay.KindMag:
			s.Mag++
			if !orient.Plausible(v) {
				s.Invalid++
				continue
			}
			if orient.IsFacingNorth(orient.HeadingFromVec(v), orient.DefaultHeadingToleranceDeg) {
				s.NorthMag++
			}
		case replay.KindAccel:
			s.Accel++
			if !orient.Plausible(v) {
				s.Invalid++
				continue
			}
			if orient.TiltFromVec(v) < orient.DefaultTiltThresholdDeg {
				s.LevelAccel++
			}
		}
	}
	if segments == 0 && hasData {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.Load(path)
	if err != nil {
		return err
	}

	s := summarizeSensorLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	fmt.Fprintf(w, "mag: %d (north %d)\n", s.Mag, s.NorthMag)
	fmt.Fprintf(w, "accel: %d (level %d)\n", s.Accel, s.LevelAccel)
	fmt.Fprintf(w, "invalid: %d\n", s.Invalid)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	return nil
}

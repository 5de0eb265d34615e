// Package motion derives heading, north-facing, tilt and level flags from
// independent magnetometer and accelerometer feeds.
package motion

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"northcam/internal/orient"
)

type Kind int

const (
	Mag Kind = iota
	Accel
)

func (k Kind) String() string {
	switch k {
	case Mag:
		return "mag"
	case Accel:
		return "accel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sample is one raw 3-axis reading. A sample with Err set carries no reading
// and reports the sensor of Kind as failing.
type Sample struct {
	Kind Kind
	Vec  r3.Vec
	At   time.Time
	Err  error
}

// SensorStatus is the availability of one sensor.
type SensorStatus struct {
	Available bool   `json:"available"`
	Samples   uint64 `json:"samples"`
	LastUTC   string `json:"last_utc,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Snapshot struct {
	HeadingDeg   float64      `json:"heading_deg"`
	IsNorth      bool         `json:"is_north"`
	TiltDeg      float64      `json:"tilt_deg"`
	IsLevel      bool         `json:"is_level"`
	HoldProgress float64      `json:"hold_progress"`
	Mag          SensorStatus `json:"mag"`
	Accel        SensorStatus `json:"accel"`
}

type Config struct {
	HeadingToleranceDeg float64
	TiltThresholdDeg    float64
	Hold                time.Duration
}

// Monitor is not safe for concurrent use; the gate reducer owns it.
type Monitor struct {
	tol  float64
	hold *orient.LevelHold

	heading float64
	north   bool
	tilt    float64

	mag, accel sensorState
}

type sensorState struct {
	seen    bool
	down    bool
	samples uint64
	last    time.Time
	err     string
}

func (s sensorState) status() SensorStatus {
	out := SensorStatus{Available: s.seen && !s.down, Samples: s.samples, Error: s.err}
	if !s.last.IsZero() {
		out.LastUTC = s.last.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func NewMonitor(cfg Config) *Monitor {
	tol := cfg.HeadingToleranceDeg
	if tol <= 0 {
		tol = orient.DefaultHeadingToleranceDeg
	}
	return &Monitor{tol: tol, hold: orient.NewLevelHold(cfg.TiltThresholdDeg, cfg.Hold)}
}

// Apply routes a sample by kind. Implausible vectors (zero or non-finite) are
// treated as a sensor fault for that kind.
func (m *Monitor) Apply(s Sample) {
	if s.Err != nil {
		m.SetUnavailable(s.Kind, s.Err.Error())
		return
	}
	if !orient.Plausible(s.Vec) {
		m.SetUnavailable(s.Kind, "implausible sample")
		return
	}
	switch s.Kind {
	case Mag:
		m.applyMag(s)
	case Accel:
		m.applyAccel(s)
	}
}

func (m *Monitor) applyMag(s Sample) {
	m.mag.seen, m.mag.down, m.mag.err = true, false, ""
	m.mag.samples++
	m.mag.last = s.At
	// No smoothing: one noisy sample can flip the flag.
	m.heading = orient.HeadingFromVec(s.Vec)
	m.north = orient.IsFacingNorth(m.heading, m.tol)
}

func (m *Monitor) applyAccel(s Sample) {
	m.accel.seen, m.accel.down, m.accel.err = true, false, ""
	m.accel.samples++
	m.accel.last = s.At
	m.tilt = orient.TiltFromVec(s.Vec)
	m.hold.Update(m.tilt, s.At)
}

// SetUnavailable marks a sensor as missing or failing. The flags it drives
// drop to false until it produces a good sample again.
func (m *Monitor) SetUnavailable(k Kind, msg string) {
	switch k {
	case Mag:
		m.mag.down = true
		m.mag.err = msg
		m.north = false
	case Accel:
		m.accel.down = true
		m.accel.err = msg
		m.hold.Reset()
	}
}

// CheckStale marks a sensor unavailable when it has produced nothing for
// maxAge. A sensor that never reported is reported after maxAge from since.
func (m *Monitor) CheckStale(now, since time.Time, maxAge time.Duration) {
	check := func(k Kind, st *sensorState) {
		if st.down {
			return
		}
		ref := st.last
		if ref.IsZero() {
			ref = since
		}
		if now.Sub(ref) > maxAge {
			if st.seen {
				m.SetUnavailable(k, fmt.Sprintf("no %s samples for %s", k, maxAge))
			} else {
				m.SetUnavailable(k, fmt.Sprintf("%s sensor unavailable", k))
			}
		}
	}
	check(Mag, &m.mag)
	check(Accel, &m.accel)
}

func (m *Monitor) IsNorth() bool { return m.north }
func (m *Monitor) IsLevel() bool { return m.hold.Level() }
func (m *Monitor) HeadingDeg() float64 {
	return m.heading
}

func (m *Monitor) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		HeadingDeg:   m.heading,
		IsNorth:      m.north,
		TiltDeg:      m.tilt,
		IsLevel:      m.hold.Level(),
		HoldProgress: m.hold.Progress(now),
		Mag:          m.mag.status(),
		Accel:        m.accel.status(),
	}
}

// Package location tracks position fixes against a single target point and
// reports distance and geofence membership.
package location

import (
	"fmt"
	"time"

	"northcam/internal/geo"
)

const DefaultRadiusM = 50.0

// Fix is one position report from a feed.
type Fix struct {
	Coord     geo.Coordinate
	At        time.Time
	Source    string
	HorizAccM *float64
}

type State int

const (
	Uninitialized State = iota
	Tracking
	Denied
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Tracking:
		return "tracking"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as a string in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Uninitialized, Tracking, Denied} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("location: unknown state %q", b)
}

type Snapshot struct {
	State      State           `json:"state"`
	Target     *geo.Coordinate `json:"target,omitempty"`
	Coord      *geo.Coordinate `json:"coord,omitempty"`
	FixUTC     string          `json:"fix_utc,omitempty"`
	Source     string          `json:"source,omitempty"`
	DistanceM  float64         `json:"distance_m"`
	InGeofence bool            `json:"in_geofence"`
	Fixes      uint64          `json:"fixes"`
	LastError  string          `json:"last_error,omitempty"`
}

// Monitor is the location state machine: uninitialized until the first fix,
// then tracking. A refused permission moves it to Denied for the rest of the
// session.
//
// Monitor is not safe for concurrent use; the gate reducer owns it.
type Monitor struct {
	radiusM float64
	policy  TargetPolicy

	state     State
	target    geo.Coordinate
	last      Fix
	haveLast  bool
	distanceM float64
	inside    bool
	fixes     uint64
	lastErr   string
}

func NewMonitor(radiusM float64, policy TargetPolicy) *Monitor {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}
	if policy == nil {
		policy = FirstFix()
	}
	return &Monitor{radiusM: radiusM, policy: policy}
}

// Apply consumes a fix and returns the updated snapshot. Fixes after Deny are
// ignored.
func (m *Monitor) Apply(fix Fix) Snapshot {
	if m.state == Denied {
		return m.Snapshot()
	}
	if m.state == Uninitialized {
		m.target = m.policy.Target(fix.Coord)
		m.state = Tracking
	}
	m.last = fix
	m.haveLast = true
	m.fixes++
	m.distanceM = geo.DistanceMeters(fix.Coord, m.target)
	m.inside = geo.InGeofence(m.distanceM, m.radiusM)
	m.lastErr = ""
	return m.Snapshot()
}

// Deny records a refused location permission. The monitor never enters
// tracking afterwards and no retry is attempted.
func (m *Monitor) Deny(msg string) Snapshot {
	m.state = Denied
	m.inside = false
	m.lastErr = msg
	return m.Snapshot()
}

// SetError records a feed error without changing tracking state.
func (m *Monitor) SetError(msg string) Snapshot {
	m.lastErr = msg
	return m.Snapshot()
}

func (m *Monitor) InGeofence() bool { return m.inside }

func (m *Monitor) State() State { return m.state }

// Last returns the most recent fix.
func (m *Monitor) Last() (Fix, bool) { return m.last, m.haveLast }

func (m *Monitor) Snapshot() Snapshot {
	out := Snapshot{
		State:      m.state,
		DistanceM:  m.distanceM,
		InGeofence: m.inside,
		Fixes:      m.fixes,
		LastError:  m.lastErr,
	}
	if m.state == Tracking {
		t := m.target
		out.Target = &t
	}
	if m.haveLast {
		c := m.last.Coord
		out.Coord = &c
		out.Source = m.last.Source
		if !m.last.At.IsZero() {
			out.FixUTC = m.last.At.UTC().Format(time.RFC3339Nano)
		}
	}
	return out
}

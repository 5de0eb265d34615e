// Package gate combines the location and orientation monitors into the single
// capture gate: inGeofence AND isNorth AND isLevel.
package gate

import (
	"northcam/internal/location"
	"northcam/internal/motion"
)

// State is the full gate picture published to subscribers.
type State struct {
	Seq        uint64            `json:"seq"`
	UpdatedUTC string            `json:"updated_utc"`
	Location   location.Snapshot `json:"location"`
	Motion     motion.Snapshot   `json:"motion"`

	InGeofence bool `json:"in_geofence"`
	IsNorth    bool `json:"is_north"`
	IsLevel    bool `json:"is_level"`
	CanCapture bool `json:"can_capture"`
}

// Evaluate is the gate predicate.
func Evaluate(inGeofence, isNorth, isLevel bool) bool {
	return inGeofence && isNorth && isLevel
}

// Errors lists the current per-input error messages, for display.
func (s State) Errors() []string {
	var out []string
	if s.Location.LastError != "" {
		out = append(out, "location: "+s.Location.LastError)
	}
	if s.Motion.Mag.Error != "" {
		out = append(out, "mag: "+s.Motion.Mag.Error)
	}
	if s.Motion.Accel.Error != "" {
		out = append(out, "accel: "+s.Motion.Accel.Error)
	}
	return out
}

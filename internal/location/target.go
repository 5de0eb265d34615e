package location

import (
	"fmt"
	"strings"

	"northcam/internal/geo"
)

// TargetPolicy decides the geofence centre from the first fix of a session.
// It is consulted exactly once.
type TargetPolicy interface {
	Target(first geo.Coordinate) geo.Coordinate
	Name() string
}

// DefaultTarget is the fixed target used when none is configured.
var DefaultTarget = geo.Coordinate{LatDeg: 40.7128, LonDeg: -74.0060}

type fixedTarget struct{ c geo.Coordinate }

// FixedTarget always uses c, regardless of where the session starts.
func FixedTarget(c geo.Coordinate) TargetPolicy { return fixedTarget{c: c} }

func (p fixedTarget) Target(geo.Coordinate) geo.Coordinate { return p.c }
func (p fixedTarget) Name() string                         { return "fixed" }

type firstFix struct{}

// FirstFix uses the first observed position as the target.
func FirstFix() TargetPolicy { return firstFix{} }

func (firstFix) Target(first geo.Coordinate) geo.Coordinate { return first }
func (firstFix) Name() string                               { return "first_fix" }

// PolicyByName maps a config value to a policy.
func PolicyByName(name string, fixed geo.Coordinate) (TargetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fixed":
		return FixedTarget(fixed), nil
	case "first_fix", "first-fix", "firstfix":
		return FirstFix(), nil
	default:
		return nil, fmt.Errorf("location: unknown target policy %q", name)
	}
}

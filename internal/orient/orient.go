// Package orient converts raw magnetometer and accelerometer vectors into a
// compass heading and a tilt angle.
package orient

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DefaultHeadingToleranceDeg = 15.0
	DefaultTiltThresholdDeg    = 3.0
)

// HeadingFromField returns atan2(y, x) in degrees normalized into [0, 360).
func HeadingFromField(x, y float64) float64 {
	h := math.Atan2(y, x) * 180 / math.Pi
	h = math.Mod(h+360, 360)
	// Mod can return 360 for tiny negative inputs.
	if h >= 360 {
		h -= 360
	}
	return h
}

// HeadingFromVec is HeadingFromField applied to the horizontal field components.
func HeadingFromVec(v r3.Vec) float64 {
	return HeadingFromField(v.X, v.Y)
}

// IsFacingNorth reports whether headingDeg lies in the north wedge
// [0, tol] or [360-tol, 360).
//
// Heading is unsigned, so this is not the same as |heading| <= tol.
func IsFacingNorth(headingDeg, toleranceDeg float64) bool {
	return headingDeg <= toleranceDeg || headingDeg >= 360-toleranceDeg
}

// TiltFromAcceleration returns |atan2(sqrt(x²+y²), z) - 90| in degrees.
func TiltFromAcceleration(x, y, z float64) float64 {
	return math.Abs(math.Atan2(math.Hypot(x, y), z)*180/math.Pi - 90)
}

// TiltFromVec is TiltFromAcceleration for an r3 vector.
func TiltFromVec(v r3.Vec) float64 {
	return TiltFromAcceleration(v.X, v.Y, v.Z)
}

// Plausible reports whether v is usable as a sensor sample: finite and
// non-zero. An all-zero vector is what most drivers return for a sensor that
// is absent or not yet producing data.
func Plausible(v r3.Vec) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return r3.Norm(v) > 0
}

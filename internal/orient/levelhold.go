package orient

import "time"

const DefaultHoldDuration = 2000 * time.Millisecond

// LevelHold requires tilt to stay under Threshold continuously for Hold
// before reporting level. Any sample at or above Threshold resets the wait.
//
// It is a confirm timer, not a sliding window. The zero value is unusable;
// use NewLevelHold.
type LevelHold struct {
	Threshold float64
	Hold      time.Duration

	startedAt time.Time
	holding   bool
	level     bool
}

func NewLevelHold(thresholdDeg float64, hold time.Duration) *LevelHold {
	if thresholdDeg <= 0 {
		thresholdDeg = DefaultTiltThresholdDeg
	}
	if hold <= 0 {
		hold = DefaultHoldDuration
	}
	return &LevelHold{Threshold: thresholdDeg, Hold: hold}
}

// Update feeds one tilt sample observed at now and returns the level flag.
func (h *LevelHold) Update(tiltDeg float64, now time.Time) bool {
	if tiltDeg >= h.Threshold {
		h.holding = false
		h.startedAt = time.Time{}
		h.level = false
		return false
	}
	if !h.holding {
		h.holding = true
		h.startedAt = now
		return h.level
	}
	if now.Sub(h.startedAt) >= h.Hold {
		h.level = true
	}
	return h.level
}

// Reset drops any hold progress.
func (h *LevelHold) Reset() {
	h.holding = false
	h.startedAt = time.Time{}
	h.level = false
}

func (h *LevelHold) Level() bool { return h.level }

// StartedAt returns the start of the current in-tolerance run, if any.
func (h *LevelHold) StartedAt() (time.Time, bool) {
	return h.startedAt, h.holding
}

// Progress returns how far through the hold the current run is, in [0,1].
func (h *LevelHold) Progress(now time.Time) float64 {
	if h.level {
		return 1
	}
	if !h.holding || h.Hold <= 0 {
		return 0
	}
	p := float64(now.Sub(h.startedAt)) / float64(h.Hold)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

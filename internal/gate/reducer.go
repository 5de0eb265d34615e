package gate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"northcam/internal/location"
	"northcam/internal/motion"
	"northcam/internal/orient"
)

type Config struct {
	RadiusM             float64
	HeadingToleranceDeg float64
	TiltThresholdDeg    float64
	Hold                time.Duration
	Target              location.TargetPolicy

	// StaleAfter marks a motion sensor unavailable when it has been silent
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

// FaultKind classifies an error reported by a feed or a permission check.
type FaultKind int

const (
	LocationError FaultKind = iota
	LocationDenied
	MagUnavailable
	AccelUnavailable
)

func (k FaultKind) String() string {
	switch k {
	case LocationError:
		return "location_error"
	case LocationDenied:
		return "location_denied"
	case MagUnavailable:
		return "mag_unavailable"
	case AccelUnavailable:
		return "accel_unavailable"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

type Fault struct {
	Kind FaultKind
	Msg  string
}

// FaultFromSensorError maps a motion feed sensor error to a gate fault.
func FaultFromSensorError(e *motion.SensorError) Fault {
	k := AccelUnavailable
	if e.Kind == motion.Mag {
		k = MagUnavailable
	}
	return Fault{Kind: k, Msg: e.Err.Error()}
}

// Observer is called from the reducer goroutine after every update. It must
// not block.
type Observer func(prev, next State)

// Reducer is the single writer of gate state. Feeds push into its channels;
// each message updates one monitor and recomputes the gate synchronously.
type Reducer struct {
	cfg Config

	fixCh    chan location.Fix
	sampleCh chan motion.Sample
	faultCh  chan Fault

	loc *location.Monitor
	mot *motion.Monitor

	bcast     *Broadcaster
	observers []Observer

	now     func() time.Time
	started time.Time

	mu  sync.RWMutex
	cur State
}

func New(cfg Config) *Reducer {
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = location.DefaultRadiusM
	}
	if cfg.HeadingToleranceDeg <= 0 {
		cfg.HeadingToleranceDeg = orient.DefaultHeadingToleranceDeg
	}
	if cfg.TiltThresholdDeg <= 0 {
		cfg.TiltThresholdDeg = orient.DefaultTiltThresholdDeg
	}
	if cfg.Hold <= 0 {
		cfg.Hold = orient.DefaultHoldDuration
	}
	if cfg.Target == nil {
		cfg.Target = location.FixedTarget(location.DefaultTarget)
	}
	return &Reducer{
		cfg:      cfg,
		fixCh:    make(chan location.Fix, 8),
		sampleCh: make(chan motion.Sample, 32),
		faultCh:  make(chan Fault, 8),
		loc:      location.NewMonitor(cfg.RadiusM, cfg.Target),
		mot: motion.NewMonitor(motion.Config{
			HeadingToleranceDeg: cfg.HeadingToleranceDeg,
			TiltThresholdDeg:    cfg.TiltThresholdDeg,
			Hold:                cfg.Hold,
		}),
		bcast: NewBroadcaster(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reducer) Fixes() chan<- location.Fix    { return r.fixCh }
func (r *Reducer) Samples() chan<- motion.Sample { return r.sampleCh }
func (r *Reducer) Faults() chan<- Fault          { return r.faultCh }

// Report sends a fault without blocking past ctx.
func (r *Reducer) Report(ctx context.Context, f Fault) {
	select {
	case r.faultCh <- f:
	case <-ctx.Done():
	}
}

func (r *Reducer) Broadcaster() *Broadcaster { return r.bcast }

// Observe registers fn. Call before Start.
func (r *Reducer) Observe(fn Observer) {
	if fn != nil {
		r.observers = append(r.observers, fn)
	}
}

// Start runs the reducer until ctx is cancelled.
func (r *Reducer) Start(ctx context.Context) {
	r.started = r.now()
	r.publish()
	go r.run(ctx)
}

func (r *Reducer) run(ctx context.Context) {
	var staleC <-chan time.Time
	if r.cfg.StaleAfter > 0 {
		t := time.NewTicker(r.cfg.StaleAfter / 2)
		defer t.Stop()
		staleC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case fix := <-r.fixCh:
			r.applyFix(fix)
		case s := <-r.sampleCh:
			r.applySample(s)
		case f := <-r.faultCh:
			r.applyFault(f)
		case <-staleC:
			r.checkStale(r.now())
		}
	}
}

func (r *Reducer) applyFix(fix location.Fix) {
	r.loc.Apply(fix)
	r.publish()
}

func (r *Reducer) applySample(s motion.Sample) {
	if s.Err != nil {
		log.Printf("gate: sensor failed kind=%s err=%v", s.Kind, s.Err)
	}
	r.mot.Apply(s)
	r.publish()
}

func (r *Reducer) applyFault(f Fault) {
	log.Printf("gate: fault kind=%s msg=%q", f.Kind, f.Msg)
	switch f.Kind {
	case LocationDenied:
		r.loc.Deny(f.Msg)
	case LocationError:
		r.loc.SetError(f.Msg)
	case MagUnavailable:
		r.mot.SetUnavailable(motion.Mag, f.Msg)
	case AccelUnavailable:
		r.mot.SetUnavailable(motion.Accel, f.Msg)
	}
	r.publish()
}

func (r *Reducer) checkStale(now time.Time) {
	before := r.mot.Snapshot(now)
	r.mot.CheckStale(now, r.started, r.cfg.StaleAfter)
	after := r.mot.Snapshot(now)
	if before.Mag.Error != after.Mag.Error || before.Accel.Error != after.Accel.Error {
		r.publish()
	}
}

func (r *Reducer) publish() {
	now := r.now()
	r.mu.Lock()
	prev := r.cur
	next := State{
		Seq:        prev.Seq + 1,
		UpdatedUTC: now.Format(time.RFC3339Nano),
		Location:   r.loc.Snapshot(),
		Motion:     r.mot.Snapshot(now),
		InGeofence: r.loc.InGeofence(),
		IsNorth:    r.mot.IsNorth(),
		IsLevel:    r.mot.IsLevel(),
	}
	next.CanCapture = Evaluate(next.InGeofence, next.IsNorth, next.IsLevel)
	r.cur = next
	r.mu.Unlock()

	if prev.CanCapture != next.CanCapture {
		log.Printf("gate: can_capture=%t in_geofence=%t north=%t level=%t", next.CanCapture, next.InGeofence, next.IsNorth, next.IsLevel)
	}
	for _, fn := range r.observers {
		fn(prev, next)
	}
	r.bcast.Publish(next)
}

// State returns the latest gate state.
func (r *Reducer) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// CanCapture reads the gate as of the last processed message.
func (r *Reducer) CanCapture() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur.CanCapture
}

// Position returns the latest fix coordinate and heading for capture
// metadata.
func (r *Reducer) Position() (lat, lon, headingDeg float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.cur.Location.Coord
	if c == nil {
		return 0, 0, r.cur.Motion.HeadingDeg, false
	}
	return c.LatDeg, c.LonDeg, r.cur.Motion.HeadingDeg, true
}

// Package metrics exposes gate and capture state as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"northcam/internal/capture"
	"northcam/internal/gate"
)

// Collector bundles the northcam metrics and the gatherer serving them.
type Collector struct {
	gatherer prometheus.Gatherer

	DistanceM    prometheus.Gauge
	HeadingDeg   prometheus.Gauge
	TiltDeg      prometheus.Gauge
	HoldProgress prometheus.Gauge
	Conditions   *prometheus.GaugeVec
	Samples      *prometheus.CounterVec
	Transitions  prometheus.Counter
	Captures     *prometheus.CounterVec
}

// New registers metrics against reg, defaulting to the global registry when
// nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error
	if c.DistanceM, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "northcam_distance_meters",
		Help: "Distance from the latest fix to the target.",
	}), "northcam_distance_meters"); err != nil {
		return nil, err
	}
	if c.HeadingDeg, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "northcam_heading_degrees",
		Help: "Latest magnetometer heading, 0 is north.",
	}), "northcam_heading_degrees"); err != nil {
		return nil, err
	}
	if c.TiltDeg, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "northcam_tilt_degrees",
		Help: "Latest tilt from upright.",
	}), "northcam_tilt_degrees"); err != nil {
		return nil, err
	}
	if c.HoldProgress, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "northcam_level_hold_progress",
		Help: "Fraction of the level hold completed, 0..1.",
	}), "northcam_level_hold_progress"); err != nil {
		return nil, err
	}
	if c.Conditions, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "northcam_gate_condition",
		Help: "1 when the named gate condition holds.",
	}, []string{"condition"}), "northcam_gate_condition"); err != nil {
		return nil, err
	}
	if c.Samples, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northcam_sensor_samples_total",
		Help: "Samples consumed by the gate, by feed kind.",
	}, []string{"kind"}), "northcam_sensor_samples_total"); err != nil {
		return nil, err
	}
	if c.Transitions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northcam_gate_transitions_total",
		Help: "Number of times can_capture changed.",
	}), "northcam_gate_transitions_total"); err != nil {
		return nil, err
	}
	if c.Captures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northcam_captures_total",
		Help: "Capture attempts by result.",
	}, []string{"result"}), "northcam_captures_total"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// ObserveGate is a gate.Observer.
func (c *Collector) ObserveGate(prev, next gate.State) {
	if c == nil {
		return
	}
	c.DistanceM.Set(next.Location.DistanceM)
	c.HeadingDeg.Set(next.Motion.HeadingDeg)
	c.TiltDeg.Set(next.Motion.TiltDeg)
	c.HoldProgress.Set(next.Motion.HoldProgress)
	c.Conditions.WithLabelValues("in_geofence").Set(b2f(next.InGeofence))
	c.Conditions.WithLabelValues("is_north").Set(b2f(next.IsNorth))
	c.Conditions.WithLabelValues("is_level").Set(b2f(next.IsLevel))
	c.Conditions.WithLabelValues("can_capture").Set(b2f(next.CanCapture))

	if d := next.Location.Fixes - prev.Location.Fixes; next.Location.Fixes > prev.Location.Fixes {
		c.Samples.WithLabelValues("fix").Add(float64(d))
	}
	if d := next.Motion.Mag.Samples - prev.Motion.Mag.Samples; next.Motion.Mag.Samples > prev.Motion.Mag.Samples {
		c.Samples.WithLabelValues("mag").Add(float64(d))
	}
	if d := next.Motion.Accel.Samples - prev.Motion.Accel.Samples; next.Motion.Accel.Samples > prev.Motion.Accel.Samples {
		c.Samples.WithLabelValues("accel").Add(float64(d))
	}
	if prev.CanCapture != next.CanCapture {
		c.Transitions.Inc()
	}
}

// ObserveCapture counts a capture.Event.
func (c *Collector) ObserveCapture(ev capture.Event) {
	if c == nil {
		return
	}
	c.Captures.WithLabelValues(ev.Result).Inc()
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, ctr prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(ctr); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return ctr, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

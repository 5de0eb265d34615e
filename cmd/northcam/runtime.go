package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"northcam/internal/capture"
	"northcam/internal/config"
	"northcam/internal/events"
	"northcam/internal/gate"
	"northcam/internal/geo"
	"northcam/internal/gpio"
	"northcam/internal/library"
	"northcam/internal/location"
	"northcam/internal/metrics"
	"northcam/internal/motion"
	"northcam/internal/perm"
	"northcam/internal/replay"
	"northcam/internal/udp"
	"northcam/internal/web"
)

type runtime struct {
	cfg config.Config

	logs    *web.LogBuffer
	status  *web.Status
	perms   *perm.Manager
	reducer *gate.Reducer
	lib     *library.Library
	capture *capture.Service
	metrics *metrics.Collector

	pub           events.Publisher
	events        *events.Async
	eventsStarted bool
	gpio          *gpio.Service
	udp           *udp.Broadcaster
	recorder      *replay.Recorder

	locFeed    location.Feed
	motionFeed motion.Feed
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = web.NewLogBuffer(0)
	}

	target := geo.Coordinate{LatDeg: c.Gate.Target.LatDeg, LonDeg: c.Gate.Target.LonDeg}
	policy, err := location.PolicyByName(c.Gate.Target.Policy, target)
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:    c,
		logs:   logs,
		status: web.NewStatus(),
		perms:  perm.NewManager(c.Permissions.PermissionMap()),
		reducer: gate.New(gate.Config{
			RadiusM:             c.Gate.RadiusM,
			HeadingToleranceDeg: c.Gate.HeadingToleranceDeg,
			TiltThresholdDeg:    c.Gate.TiltThresholdDeg,
			Hold:                c.Gate.Hold,
			Target:              policy,
			StaleAfter:          c.Gate.StaleAfter,
		}),
	}

	r.metrics, err = metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	dbPath := c.Library.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(c.Library.Dir, "library.db")
	}
	r.lib, err = library.Open(c.Library.Dir, dbPath)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}

	r.addPermissionChecks()

	cam, err := newCamera(c.Camera)
	if err != nil {
		r.Close()
		return nil, err
	}

	if c.Events.Enable {
		pub, err := events.NewNSQ(c.Events.NSQDAddr)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		r.pub = pub
		r.events = events.NewAsync(pub, c.Events.Buffer)
	}

	r.capture = capture.New(capture.Config{
		Camera:      cam,
		Gate:        r.reducer,
		Store:       r.lib,
		Permissions: r.perms,
		Timeout:     c.Camera.Timeout,
		OnEvent:     r.onCaptureEvent,
	})

	if c.GPIO.Enable {
		r.gpio = gpio.New(gpio.Config{ButtonPin: c.GPIO.ButtonPin, LEDPin: c.GPIO.LEDPin, Debounce: c.GPIO.Debounce})
	}

	if c.UDP.Enable {
		r.udp, err = udp.NewBroadcaster(c.UDP.Dest)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("udp: %w", err)
		}
	}

	if c.Record.Enable {
		w, err := replay.CreateWriter(c.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record: %w", err)
		}
		r.recorder = replay.NewRecorder(w)
		log.Printf("record: writing sensor log path=%s", c.Record.Path)
	}

	r.locFeed = r.newLocationFeed(target)
	r.motionFeed = r.newMotionFeed()

	r.reducer.Observe(r.metrics.ObserveGate)
	if r.gpio != nil {
		r.reducer.Observe(func(_, next gate.State) { r.gpio.SetReady(next.CanCapture) })
	}

	r.status.Gate = r.reducer
	r.status.Capture = r.capture
	r.status.Permissions = r.perms
	if r.gpio != nil {
		r.status.GPIO = r.gpio
	}
	r.status.LibraryDir = c.Library.Dir
	r.status.SetStatic(map[string]string{
		"location_source": c.Location.Source,
		"motion_source":   c.Motion.Source,
		"camera":          cam.Name(),
		"target_policy":   policy.Name(),
		"radius_m":        strconv.FormatFloat(c.Gate.RadiusM, 'f', -1, 64),
		"hold":            c.Gate.Hold.String(),
	})

	return r, nil
}

func (r *runtime) addPermissionChecks() {
	c := r.cfg
	if c.Location.Source == "nmea" && c.Location.Device != "" {
		r.perms.AddCheck(perm.Location, perm.ReadableDevice(c.Location.Device),
			fmt.Sprintf("grant the northcam user read access to %s (dialout group)", c.Location.Device))
	}
	if c.Camera.Source == "command" {
		cmd := c.Camera.Command
		r.perms.AddCheck(perm.Camera, func() error {
			_, err := exec.LookPath(cmd)
			return err
		}, fmt.Sprintf("install %s or set camera.command", cmd))
	}
	r.perms.AddCheck(perm.Storage, perm.WritableDir(c.Library.Dir),
		fmt.Sprintf("make %s writable or set library.dir", c.Library.Dir))
}

func newCamera(c config.CameraConfig) (capture.Camera, error) {
	switch c.Source {
	case "sim":
		return &capture.SimCamera{Width: c.Width, Height: c.Height}, nil
	case "command":
		return &capture.CommandCamera{Path: c.Command, Args: c.Args, ContentType: c.ContentType}, nil
	default:
		return nil, fmt.Errorf("camera: unknown source %q", c.Source)
	}
}

func (r *runtime) newLocationFeed(target geo.Coordinate) location.Feed {
	c := r.cfg
	onError := func(msg string) { r.fault(gate.Fault{Kind: gate.LocationError, Msg: msg}) }
	switch c.Location.Source {
	case "nmea":
		return &location.NMEAFeed{Device: c.Location.Device, Baud: c.Location.Baud, OnError: onError}
	case "sim":
		center := target
		if c.Gate.Target.Policy == "first_fix" {
			center = location.DefaultTarget
		}
		return &location.SimFeed{Center: center, RadiusM: c.Location.SimRadius, Period: c.Location.SimPeriod, Interval: c.Gate.LocationInterval}
	case "replay":
		return &replay.LocationFeed{Options: r.replayOptions()}
	default:
		return &location.GPSDFeed{Addr: c.Location.GPSDAddr, OnError: onError}
	}
}

func (r *runtime) newMotionFeed() motion.Feed {
	c := r.cfg
	switch c.Motion.Source {
	case "serial":
		onError := func(msg string) { log.Printf("motion: serial err=%s", msg) }
		return &motion.SerialFeed{Device: c.Motion.Device, Baud: c.Motion.Baud, Interval: c.Gate.SensorInterval, OnError: onError}
	case "sim":
		return &motion.SimFeed{Period: c.Motion.SimPeriod, Interval: c.Gate.SensorInterval}
	case "replay":
		return &replay.MotionFeed{Options: r.replayOptions()}
	default:
		return &motion.IMUFeed{
			Bus:      c.Motion.I2CBus,
			Addr:     c.Motion.I2CAddr,
			Interval: c.Gate.SensorInterval,
		}
	}
}

// fault hands f to the reducer from a feed callback, which has no context.
func (r *runtime) fault(f gate.Fault) {
	select {
	case r.reducer.Faults() <- f:
	default:
		log.Printf("gate: fault queue full, dropped kind=%s msg=%q", f.Kind, f.Msg)
	}
}

func (r *runtime) replayOptions() replay.Options {
	return replay.Options{Path: r.cfg.Replay.Path, Speed: r.cfg.Replay.Speed, Loop: r.cfg.Replay.Loop}
}

func (r *runtime) onCaptureEvent(ev capture.Event) {
	r.metrics.ObserveCapture(ev)
	if r.events != nil {
		r.events.Send(r.cfg.Events.Topic, ev)
	}
}

func (r *runtime) deps() web.Deps {
	return web.Deps{
		Status:  r.status,
		Gate:    r.reducer,
		Capture: r.capture,
		Photos:  r.lib,
		Logs:    r.logs,
		Metrics: r.metrics.Handler(),
	}
}

// Run starts every component and blocks until ctx ends or one of them fails.
func (r *runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	r.reducer.Start(ctx)

	if r.events != nil {
		r.events.Start(ctx)
		r.eventsStarted = true
	}

	if r.gpio != nil {
		trigger := func(ctx context.Context) {
			if _, err := r.capture.Trigger(ctx); err != nil {
				log.Printf("gpio: capture err=%v", err)
			}
		}
		if err := r.gpio.Start(ctx, trigger); err != nil {
			// The UI still works without the button.
			log.Printf("gpio init failed: %v", err)
		}
	}

	if r.udp != nil {
		id, ch := r.reducer.Broadcaster().Subscribe(4)
		sender := &udp.StateSender{Out: r.udp, MinInterval: r.cfg.UDP.MinInterval}
		g.Go(func() error {
			defer r.reducer.Broadcaster().Unsubscribe(id)
			sender.Run(ctx, ch)
			return nil
		})
		log.Printf("udp: state broadcast dest=%s", r.udp.Dest())
	}

	g.Go(func() error { return r.runLocation(ctx) })
	g.Go(func() error { return r.runMotion(ctx) })

	if r.cfg.Web.WebEnabled() {
		g.Go(func() error {
			log.Printf("web: listening addr=%s", r.cfg.Web.Listen)
			err := web.Serve(ctx, r.cfg.Web.Listen, r.deps())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (r *runtime) runLocation(ctx context.Context) error {
	if err := r.perms.Require(perm.Location); err != nil {
		r.reducer.Report(ctx, gate.Fault{Kind: gate.LocationDenied, Msg: err.Error()})
		<-ctx.Done()
		return nil
	}

	ch := make(chan location.Fix, 4)
	feedErr := make(chan error, 1)
	go func() { feedErr <- r.locFeed.Run(ctx, ch) }()
	log.Printf("location: feed started source=%s", r.locFeed.Name())

	th := &location.Throttle{Interval: r.cfg.Gate.LocationInterval, MinDistanceM: r.cfg.Gate.MinDistanceM}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErr:
			if err != nil && ctx.Err() == nil {
				log.Printf("location: feed stopped err=%v", err)
				r.reducer.Report(ctx, gate.Fault{Kind: gate.LocationError, Msg: err.Error()})
			}
			<-ctx.Done()
			return nil
		case fix := <-ch:
			if !th.Allow(fix) {
				continue
			}
			r.recorder.Fix(fix)
			select {
			case r.reducer.Fixes() <- fix:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *runtime) runMotion(ctx context.Context) error {
	ch := make(chan motion.Sample, 8)
	feedErr := make(chan error, 1)
	go func() { feedErr <- r.motionFeed.Run(ctx, ch) }()
	log.Printf("motion: feed started source=%s", r.motionFeed.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErr:
			if err != nil && ctx.Err() == nil {
				log.Printf("motion: feed stopped err=%v", err)
				for _, f := range motionFaults(err, r.motionFeed.Kinds()) {
					r.reducer.Report(ctx, f)
				}
			}
			<-ctx.Done()
			return nil
		case s := <-ch:
			r.recorder.Sample(s)
			select {
			case r.reducer.Samples() <- s:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// motionFaults maps a terminal feed error to one fault per affected sensor.
func motionFaults(err error, kinds []motion.Kind) []gate.Fault {
	var se *motion.SensorError
	if errors.As(err, &se) {
		return []gate.Fault{gate.FaultFromSensorError(se)}
	}
	out := make([]gate.Fault, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, gate.FaultFromSensorError(&motion.SensorError{Kind: k, Err: err}))
	}
	return out
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.gpio != nil {
		r.gpio.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
		r.udp = nil
	}
	if r.events != nil {
		if r.eventsStarted {
			r.events.Wait()
		} else {
			r.pub.Close()
		}
		r.events = nil
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			log.Printf("record: close err=%v", err)
		}
		r.recorder = nil
	}
	if r.lib != nil {
		_ = r.lib.Close()
		r.lib = nil
	}
}

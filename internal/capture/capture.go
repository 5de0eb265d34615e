// Package capture takes a photo when the gate is open, stamps it with the
// gate's metadata and stores it in the library.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"northcam/internal/gate"
	"northcam/internal/library"
	"northcam/internal/perm"
)

var (
	ErrNotReady      = errors.New("not ready")
	ErrCaptureFailed = errors.New("capture failed")
	ErrBusy          = errors.New("capture in progress")
)

// Image is one encoded still.
type Image struct {
	Data        []byte
	ContentType string
}

// Overlay is the information shown over the live view.
type Overlay struct {
	LatDeg     float64
	LonDeg     float64
	HeadingDeg float64
	DistanceM  float64
	TiltDeg    float64
	At         time.Time
}

type Camera interface {
	Name() string
	Capture(ctx context.Context, ov Overlay) (Image, error)
}

// GateReader is the part of the gate reducer capture needs.
type GateReader interface {
	State() gate.State
}

type Store interface {
	Save(ctx context.Context, img []byte, contentType string, md library.Metadata) (library.Photo, error)
	Delete(ctx context.Context, id string) error
}

type Permissions interface {
	Require(k perm.Kind) error
	SettingsHint(k perm.Kind) string
}

// Event is emitted after every trigger attempt.
type Event struct {
	Result   string            `json:"result"`
	PhotoID  string            `json:"photo_id,omitempty"`
	Metadata *library.Metadata `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
	At       time.Time         `json:"at"`
}

// Result labels.
const (
	ResultOK        = "ok"
	ResultNotReady  = "not_ready"
	ResultDenied    = "denied"
	ResultFailed    = "failed"
	ResultBusy      = "busy"
	ResultDiscarded = "discarded"
)

type Config struct {
	Camera      Camera
	Gate        GateReader
	Store       Store
	Permissions Permissions
	Timeout     time.Duration
	// OnEvent is called synchronously after each attempt.
	OnEvent func(Event)
}

type Snapshot struct {
	Camera    string         `json:"camera"`
	Busy      bool           `json:"busy"`
	Pending   *library.Photo `json:"pending,omitempty"`
	Captures  uint64         `json:"captures"`
	Failures  uint64         `json:"failures"`
	LastError string         `json:"last_error,omitempty"`
	Hint      string         `json:"hint,omitempty"`
}

type Service struct {
	cfg Config
	now func() time.Time

	busy sync.Mutex

	mu   sync.Mutex
	snap Snapshot
}

func New(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &Service{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
	if cfg.Camera != nil {
		s.snap.Camera = cfg.Camera.Name()
	}
	return s
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	if out.Pending != nil {
		p := *out.Pending
		out.Pending = &p
	}
	return out
}

func (s *Service) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

func (s *Service) fail(result string, err error, hint string) error {
	s.mu.Lock()
	if result != ResultNotReady && result != ResultBusy {
		s.snap.Failures++
	}
	s.snap.LastError = err.Error()
	s.snap.Hint = hint
	s.mu.Unlock()
	log.Printf("capture: %s err=%v", result, err)
	s.emit(Event{Result: result, Error: err.Error()})
	return err
}

// Trigger captures one photo if the gate is open at call time. A failure is
// reported once and not retried; the caller may trigger again.
func (s *Service) Trigger(ctx context.Context) (library.Photo, error) {
	if !s.busy.TryLock() {
		return library.Photo{}, s.fail(ResultBusy, ErrBusy, "")
	}
	defer s.busy.Unlock()
	s.setBusy(true)
	defer s.setBusy(false)

	st := s.cfg.Gate.State()
	if !st.CanCapture {
		return library.Photo{}, s.fail(ResultNotReady, fmt.Errorf("%w: %s", ErrNotReady, closedReason(st)), "")
	}

	if s.cfg.Permissions != nil {
		if err := s.cfg.Permissions.Require(perm.Camera); err != nil {
			return library.Photo{}, s.fail(ResultDenied, err, s.cfg.Permissions.SettingsHint(perm.Camera))
		}
	}

	ov := Overlay{
		HeadingDeg: st.Motion.HeadingDeg,
		DistanceM:  st.Location.DistanceM,
		TiltDeg:    st.Motion.TiltDeg,
		At:         s.now(),
	}
	if c := st.Location.Coord; c != nil {
		ov.LatDeg, ov.LonDeg = c.LatDeg, c.LonDeg
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	img, err := s.cfg.Camera.Capture(cctx, ov)
	cancel()
	if err != nil {
		return library.Photo{}, s.fail(ResultFailed, fmt.Errorf("%w: %v", ErrCaptureFailed, err), "")
	}
	if len(img.Data) == 0 {
		return library.Photo{}, s.fail(ResultFailed, fmt.Errorf("%w: camera returned no data", ErrCaptureFailed), "")
	}

	md := library.Metadata{
		LatDeg:     ov.LatDeg,
		LonDeg:     ov.LonDeg,
		HeadingDeg: ov.HeadingDeg,
		DistanceM:  ov.DistanceM,
		TiltDeg:    ov.TiltDeg,
		CapturedAt: s.now(),
	}

	if s.cfg.Permissions != nil {
		if err := s.cfg.Permissions.Require(perm.Storage); err != nil {
			return library.Photo{}, s.fail(ResultDenied, err, s.cfg.Permissions.SettingsHint(perm.Storage))
		}
	}
	// The shutter has fired; a caller that goes away now must not lose the photo.
	p, err := s.cfg.Store.Save(context.WithoutCancel(ctx), img.Data, img.ContentType, md)
	if err != nil {
		return library.Photo{}, s.fail(ResultFailed, fmt.Errorf("%w: %v", ErrCaptureFailed, err), "")
	}

	s.mu.Lock()
	s.snap.Captures++
	s.snap.LastError = ""
	s.snap.Hint = ""
	s.snap.Pending = &p
	s.mu.Unlock()
	log.Printf("capture: ok id=%s lat=%.6f lon=%.6f heading=%.1f", p.ID, md.LatDeg, md.LonDeg, md.HeadingDeg)
	s.emit(Event{Result: ResultOK, PhotoID: p.ID, Metadata: &md})
	return p, nil
}

// Discard deletes the pending photo (retake) and returns to live view.
func (s *Service) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	pending := s.snap.Pending
	s.mu.Unlock()
	if pending == nil || pending.ID != id {
		return fmt.Errorf("capture: %s is not the pending photo: %w", id, library.ErrNotFound)
	}
	if err := s.cfg.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("capture: discard %s: %w", id, err)
	}
	s.mu.Lock()
	if s.snap.Pending != nil && s.snap.Pending.ID == id {
		s.snap.Pending = nil
	}
	s.mu.Unlock()
	s.emit(Event{Result: ResultDiscarded, PhotoID: id})
	return nil
}

// Keep accepts the pending photo and returns to live view.
func (s *Service) Keep(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Pending == nil || s.snap.Pending.ID != id {
		return false
	}
	s.snap.Pending = nil
	return true
}

func (s *Service) setBusy(v bool) {
	s.mu.Lock()
	s.snap.Busy = v
	s.mu.Unlock()
}

func closedReason(st gate.State) string {
	switch {
	case !st.InGeofence:
		return "outside geofence"
	case !st.IsNorth:
		return "not facing north"
	case !st.IsLevel:
		return "not level"
	default:
		return "gate closed"
	}
}

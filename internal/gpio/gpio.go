// Package gpio drives the shutter button and the ready LED.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

type Config struct {
	// BCM numbering; 0 disables.
	ButtonPin int
	LEDPin    int
	Debounce  time.Duration
}

// output is one digital output line.
type output interface {
	SetValue(v int) error
	Close() error
}

// Replaced in tests.
var (
	openButtonFn = openButton
	openLEDFn    = openLED
)

type Snapshot struct {
	ButtonEnabled bool   `json:"button_enabled"`
	LEDEnabled    bool   `json:"led_enabled"`
	Presses       uint64 `json:"presses"`
	Ready         bool   `json:"ready"`
	LastError     string `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config

	pressCh chan struct{}

	mu     sync.Mutex
	button io.Closer
	led    output
	snap   Snapshot

	ledWritten bool
}

func New(cfg Config) *Service {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 30 * time.Millisecond
	}
	return &Service{cfg: cfg, pressCh: make(chan struct{}, 1)}
}

// Start requests the configured lines. The lines are independent: a failed
// LED still leaves the button working. trigger runs on a single goroutine;
// presses that arrive while it runs are dropped.
func (s *Service) Start(ctx context.Context, trigger func(context.Context)) error {
	var errs []error
	if s.cfg.LEDPin > 0 {
		if led, err := openLEDFn(s.cfg.LEDPin); err != nil {
			s.setErr(fmt.Sprintf("led: %v", err))
			errs = append(errs, fmt.Errorf("led pin %d: %w", s.cfg.LEDPin, err))
		} else {
			s.mu.Lock()
			s.led = led
			s.snap.LEDEnabled = true
			s.mu.Unlock()
			log.Printf("gpio: ready led pin=%d", s.cfg.LEDPin)
		}
	}
	if s.cfg.ButtonPin > 0 {
		if btn, err := openButtonFn(s.cfg.ButtonPin, s.cfg.Debounce, s.onPress); err != nil {
			s.setErr(fmt.Sprintf("button: %v", err))
			errs = append(errs, fmt.Errorf("button pin %d: %w", s.cfg.ButtonPin, err))
		} else {
			s.mu.Lock()
			s.button = btn
			s.snap.ButtonEnabled = true
			s.mu.Unlock()
			log.Printf("gpio: shutter button pin=%d", s.cfg.ButtonPin)
			go s.run(ctx, trigger)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) onPress() {
	s.mu.Lock()
	s.snap.Presses++
	s.mu.Unlock()
	select {
	case s.pressCh <- struct{}{}:
	default:
	}
}

func (s *Service) run(ctx context.Context, trigger func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pressCh:
			if trigger != nil {
				trigger(ctx)
			}
			select {
			case <-s.pressCh:
			default:
			}
		}
	}
}

// SetReady drives the LED. It only touches the line on change.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.snap.Ready != ready || !s.ledWritten
	s.snap.Ready = ready
	if s.led == nil || !changed {
		return
	}
	v := 0
	if ready {
		v = 1
	}
	if err := s.led.SetValue(v); err != nil {
		s.snap.LastError = fmt.Sprintf("led: %v", err)
		return
	}
	s.ledWritten = true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	s.snap.LastError = msg
	s.mu.Unlock()
	log.Printf("gpio: %s", msg)
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.button != nil {
		_ = s.button.Close()
		s.button = nil
	}
	if s.led != nil {
		_ = s.led.SetValue(0)
		_ = s.led.Close()
		s.led = nil
	}
}

// Package perm decides whether the daemon may use location, the camera and
// photo storage. Decisions come from config, optionally backed by device
// access checks, and a permanent denial is never re-requested.
package perm

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

type Kind int

const (
	Location Kind = iota
	Camera
	Storage
)

func (k Kind) String() string {
	switch k {
	case Location:
		return "location"
	case Camera:
		return "camera"
	case Storage:
		return "storage"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Status int

const (
	Granted Status = iota
	Denied
	DeniedPermanently
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case DeniedPermanently:
		return "denied_permanently"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStatus accepts the config spellings.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "granted", "grant", "allow":
		return Granted, nil
	case "denied", "deny":
		return Denied, nil
	case "denied_permanently", "denied-permanently", "never":
		return DeniedPermanently, nil
	default:
		return Granted, fmt.Errorf("perm: unknown status %q", v)
	}
}

var ErrDenied = errors.New("permission denied")

// Error carries which permission was refused. errors.Is(err, ErrDenied)
// holds for every Error.
type Error struct {
	Kind   Kind
	Status Status
	Reason string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s permission %s", e.Kind, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == ErrDenied }

// Check probes whether a granted permission is usable on this host.
type Check func() error

// Manager is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	config  map[Kind]Status
	checks  map[Kind]Check
	hints   map[Kind]string
	decided map[Kind]Status
	reasons map[Kind]string
}

func NewManager(config map[Kind]Status) *Manager {
	m := &Manager{
		config:  map[Kind]Status{},
		checks:  map[Kind]Check{},
		hints:   map[Kind]string{},
		decided: map[Kind]Status{},
		reasons: map[Kind]string{},
	}
	for k, s := range config {
		m.config[k] = s
	}
	return m
}

// AddCheck attaches a device check to k. hint is shown to the user when the
// check fails.
func (m *Manager) AddCheck(k Kind, c Check, hint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[k] = c
	if hint != "" {
		m.hints[k] = hint
	}
}

// Request resolves k. Granted and Denied are re-evaluated on every call;
// DeniedPermanently is sticky.
func (m *Manager) Request(k Kind) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decided[k] == DeniedPermanently {
		return DeniedPermanently
	}
	st := m.config[k]
	reason := ""
	if st == Granted {
		if c := m.checks[k]; c != nil {
			if err := c(); err != nil {
				st = Denied
				reason = err.Error()
			}
		}
	} else {
		reason = "refused in config"
	}
	prev, seen := m.decided[k]
	if !seen || prev != st {
		log.Printf("perm: %s=%s reason=%q", k, st, reason)
	}
	m.decided[k] = st
	m.reasons[k] = reason
	return st
}

// Require returns nil when k is granted and an *Error otherwise.
func (m *Manager) Require(k Kind) error {
	st := m.Request(k)
	if st == Granted {
		return nil
	}
	m.mu.Lock()
	reason := m.reasons[k]
	m.mu.Unlock()
	return &Error{Kind: k, Status: st, Reason: reason}
}

// Status returns the last decision without re-evaluating.
func (m *Manager) Status(k Kind) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.decided[k]
	return st, ok
}

// Snapshot reports every decided permission, for the status page.
func (m *Manager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.decided))
	for k, s := range m.decided {
		out[k.String()] = s.String()
	}
	return out
}

// SettingsHint tells the user where to change k.
func (m *Manager) SettingsHint(k Kind) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decided[k] == Granted {
		return ""
	}
	if m.config[k] == Granted {
		if h := m.hints[k]; h != "" {
			return h
		}
	}
	return fmt.Sprintf("set permissions.%s: granted in the config file and restart", k)
}

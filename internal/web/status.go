package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"northcam/internal/capture"
	"northcam/internal/gate"
	"northcam/internal/gpio"
)

type StorageSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes,omitempty"`
	AvailBytes uint64 `json:"avail_bytes,omitempty"`
	Avail      string `json:"avail,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// Status aggregates everything /api/status reports. Sources are wired once at
// startup; Snapshot reads them live.
type Status struct {
	startUnixNano int64
	static        atomic.Value // map[string]string

	Gate        interface{ State() gate.State }
	Capture     interface{ Snapshot() capture.Snapshot }
	Permissions interface{ Snapshot() map[string]string }
	GPIO        interface{ Snapshot() gpio.Snapshot }
	LibraryDir  string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(map[string]string{})
	return s
}

// SetStatic records configuration facts (sources, camera, target policy).
func (s *Status) SetStatic(info map[string]string) {
	if info != nil {
		s.static.Store(info)
	}
}

type StatusSnapshot struct {
	Service     string            `json:"service"`
	NowUTC      string            `json:"now_utc"`
	UptimeSec   int64             `json:"uptime_sec"`
	Config      map[string]string `json:"config"`
	Gate        *gate.State       `json:"gate,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	Capture     *capture.Snapshot `json:"capture,omitempty"`
	Permissions map[string]string `json:"permissions,omitempty"`
	GPIO        *gpio.Snapshot    `json:"gpio,omitempty"`
	Storage     *StorageSnapshot  `json:"storage,omitempty"`
	Host        HostSnapshot      `json:"host"`
	LocalAddrs  []string          `json:"local_addrs,omitempty"`
	Build       BuildInfo         `json:"build"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:    "northcam",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Config:     s.static.Load().(map[string]string),
		Storage:    snapshotStorage(s.LibraryDir),
		Host:       snapshotHost(),
		LocalAddrs: localInterfaceAddrs(),
		Build:      buildInfo(),
	}
	if s.Gate != nil {
		st := s.Gate.State()
		snap.Gate = &st
		snap.Errors = st.Errors()
	}
	if s.Capture != nil {
		c := s.Capture.Snapshot()
		snap.Capture = &c
	}
	if s.Permissions != nil {
		snap.Permissions = s.Permissions.Snapshot()
	}
	if s.GPIO != nil {
		g := s.GPIO.Snapshot()
		snap.GPIO = &g
	}
	return snap
}

func buildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		out.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				out.Commit = s.Value
			case "vcs.modified":
				out.Dirty = s.Value == "true"
			}
		}
	}
	return out
}

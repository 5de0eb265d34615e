package udp

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"northcam/internal/gate"
)

// Datagram is the wire form of one gate state.
type Datagram struct {
	Seq          uint64  `json:"seq"`
	CanCapture   bool    `json:"can_capture"`
	InGeofence   bool    `json:"in_geofence"`
	IsNorth      bool    `json:"is_north"`
	IsLevel      bool    `json:"is_level"`
	DistanceM    float64 `json:"distance_m"`
	HeadingDeg   float64 `json:"heading_deg"`
	TiltDeg      float64 `json:"tilt_deg"`
	HoldProgress float64 `json:"hold_progress"`
}

func DatagramFrom(st gate.State) Datagram {
	return Datagram{
		Seq:          st.Seq,
		CanCapture:   st.CanCapture,
		InGeofence:   st.InGeofence,
		IsNorth:      st.IsNorth,
		IsLevel:      st.IsLevel,
		DistanceM:    st.Location.DistanceM,
		HeadingDeg:   st.Motion.HeadingDeg,
		TiltDeg:      st.Motion.TiltDeg,
		HoldProgress: st.Motion.HoldProgress,
	}
}

type sender interface {
	Send(payload []byte) error
}

// StateSender forwards gate states. A change in any of the four gate flags is
// sent immediately; otherwise at most one datagram per MinInterval.
type StateSender struct {
	Out         sender
	MinInterval time.Duration

	now func() time.Time
}

func (s *StateSender) Run(ctx context.Context, states <-chan gate.State) {
	now := s.now
	if now == nil {
		now = time.Now
	}
	minInterval := s.MinInterval
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}
	var last Datagram
	var lastAt time.Time
	var have bool
	var errLogged bool
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			d := DatagramFrom(st)
			t := now()
			flagsChanged := !have || d.CanCapture != last.CanCapture || d.InGeofence != last.InGeofence ||
				d.IsNorth != last.IsNorth || d.IsLevel != last.IsLevel
			if !flagsChanged && t.Sub(lastAt) < minInterval {
				continue
			}
			b, err := json.Marshal(d)
			if err != nil {
				continue
			}
			if err := s.Out.Send(b); err != nil {
				if !errLogged {
					log.Printf("udp: send failed err=%v", err)
					errLogged = true
				}
				continue
			}
			errLogged = false
			last, lastAt, have = d, t, true
		}
	}
}

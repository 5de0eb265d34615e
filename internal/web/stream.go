package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"northcam/internal/gate"
)

// stateStream serves gate states as server-sent events. Each event carries
// the full state; a slow client sees only the newest.
func stateStream(b *gate.Broadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// The stream outlives the server's write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			return
		}

		id, ch := b.Subscribe(1)
		defer b.Unsubscribe(id)

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
			case st, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(st)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", st.Seq, payload); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	})
}

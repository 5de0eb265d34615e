package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent log lines for /api/logs. main tees the
// standard logger into it.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write implements io.Writer. A trailing fragment without a newline is held
// until the rest of the line arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.partial) > 0 {
		data = append(b.partial, p...)
		b.partial = nil
	}
	for {
		line, rest, found := bytes.Cut(data, []byte{'\n'})
		if !found {
			if len(line) > 0 {
				b.partial = append([]byte(nil), line...)
			}
			break
		}
		b.appendLineLocked(string(line))
		data = rest
	}
	return len(p), nil
}

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

type LogsResponse struct {
	NowUTC    string   `json:"now_utc"`
	Component string   `json:"component,omitempty"`
	Dropped   uint64   `json:"dropped"`
	Lines     []string `json:"lines"`
}

// Snapshot returns the last tail lines. A non-empty component keeps only
// lines logged as "<component>: ...".
func (b *LogBuffer) Snapshot(tail int, component string) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = 200
	}
	needle := ""
	if component != "" {
		needle = component + ": "
	}
	// Walk backwards so a filtered tail does not copy the whole buffer.
	for i := len(b.lines) - 1; i >= 0 && len(lines) < tail; i-- {
		if needle == "" || strings.Contains(b.lines[i], needle) {
			lines = append(lines, b.lines[i])
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.dropped
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		component := strings.TrimSpace(q.Get("component"))

		lines, dropped := b.Snapshot(tail, component)
		if lines == nil {
			lines = []string{}
		}

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			Component: component,
			Dropped:   dropped,
			Lines:     lines,
		})
	})
}

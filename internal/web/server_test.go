package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"northcam/internal/capture"
	"northcam/internal/gate"
	"northcam/internal/library"
	"northcam/internal/perm"
)

type fakeGate struct {
	st gate.State
	b  *gate.Broadcaster
}

func newFakeGate(st gate.State) *fakeGate {
	g := &fakeGate{st: st, b: gate.NewBroadcaster()}
	g.b.Publish(st)
	return g
}

func (g *fakeGate) State() gate.State              { return g.st }
func (g *fakeGate) Broadcaster() *gate.Broadcaster { return g.b }

type fakeCapture struct {
	err       error
	photo     library.Photo
	hint      string
	discarded []string
	kept      []string
}

func (c *fakeCapture) Trigger(ctx context.Context) (library.Photo, error) {
	if c.err != nil {
		return library.Photo{}, c.err
	}
	return c.photo, nil
}

func (c *fakeCapture) Discard(ctx context.Context, id string) error {
	if id != c.photo.ID {
		return fmt.Errorf("discard %s: %w", id, library.ErrNotFound)
	}
	c.discarded = append(c.discarded, id)
	return nil
}

func (c *fakeCapture) Keep(id string) bool {
	if id != c.photo.ID {
		return false
	}
	c.kept = append(c.kept, id)
	return true
}

func (c *fakeCapture) Snapshot() capture.Snapshot {
	return capture.Snapshot{Camera: "fake", Hint: c.hint}
}

type fakePhotos struct {
	photos []library.Photo
}

func (p *fakePhotos) List(ctx context.Context, limit int) ([]library.Photo, error) {
	if limit < len(p.photos) {
		return p.photos[:limit], nil
	}
	return p.photos, nil
}

func (p *fakePhotos) Get(ctx context.Context, id string) (library.Photo, error) {
	for _, ph := range p.photos {
		if ph.ID == id {
			return ph, nil
		}
	}
	return library.Photo{}, library.ErrNotFound
}

func openState() gate.State {
	return gate.State{Seq: 7, InGeofence: true, IsNorth: true, IsLevel: true, CanCapture: true}
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetStatic(map[string]string{"location_source": "sim"})
	st.Gate = newFakeGate(openState())
	st.LibraryDir = t.TempDir()

	ts := httptest.NewServer(Handler(Deps{Status: st}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "northcam" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Config["location_source"] != "sim" {
		t.Fatalf("config=%v", snap.Config)
	}
	if snap.Gate == nil || !snap.Gate.CanCapture {
		t.Fatalf("gate=%+v", snap.Gate)
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "EventSource") {
		t.Fatalf("index page missing stream client")
	}

	resp2, err := http.Post(ts.URL+"/", "text/plain", nil)
	if err != nil {
		t.Fatalf("post root: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post root code=%d", resp2.StatusCode)
	}
}

func TestAPIState(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Gate: newFakeGate(openState())}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st gate.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, uint64(7), st.Seq)
	require.True(t, st.CanCapture)
}

func TestStateStream_ReplaysLastState(t *testing.T) {
	g := newFakeGate(openState())
	ts := httptest.NewServer(Handler(Deps{Gate: g}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/state/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data, "no event received: %v", sc.Err())

	var st gate.State
	require.NoError(t, json.Unmarshal([]byte(data), &st))
	require.Equal(t, uint64(7), st.Seq)
}

func TestAPICapture_ErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not ready", fmt.Errorf("%w: not facing north", capture.ErrNotReady), http.StatusConflict},
		{"busy", capture.ErrBusy, http.StatusTooManyRequests},
		{"denied", &perm.Error{Kind: perm.Camera, Status: perm.Denied}, http.StatusForbidden},
		{"failed", fmt.Errorf("%w: exit status 1", capture.ErrCaptureFailed), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeCapture{err: tc.err, hint: "set permissions.camera: granted"}
			ts := httptest.NewServer(Handler(Deps{Capture: c}))
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/api/capture", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.code, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, tc.err.Error(), body.Error)
			require.Equal(t, c.hint, body.Hint)
		})
	}
}

func TestAPICapture_SuccessDiscardKeep(t *testing.T) {
	c := &fakeCapture{photo: library.Photo{ID: "abc", ContentType: "image/png"}}
	ts := httptest.NewServer(Handler(Deps{Capture: c}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/capture", "application/json", nil)
	require.NoError(t, err)
	var p library.Photo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "abc", p.ID)

	resp, err = http.Post(ts.URL+"/api/capture/abc/discard", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"abc"}, c.discarded)

	resp, err = http.Post(ts.URL+"/api/capture/nope/discard", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/capture/abc/keep", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/capture/abc/discard")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPIPhotos(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG fake"), 0o644))

	photos := &fakePhotos{photos: []library.Photo{
		{ID: "a", Path: img, ContentType: "image/png", Bytes: 2048},
		{ID: "b", Path: filepath.Join(dir, "missing.png"), ContentType: "image/png", Bytes: 10},
	}}
	ts := httptest.NewServer(Handler(Deps{Photos: photos}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/photos?limit=1")
	require.NoError(t, err)
	var body struct {
		Photos []photoView `json:"photos"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Len(t, body.Photos, 1)
	require.Equal(t, "a", body.Photos[0].ID)
	require.Equal(t, "2.0 kB", body.Photos[0].Size)
	require.Equal(t, "/api/photos/a/image", body.Photos[0].ImageURL)

	resp, err = http.Get(ts.URL + "/api/photos?limit=0")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/photos/a/image")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "\x89PNG fake", string(b))

	resp, err = http.Get(ts.URL + "/api/photos/zzz/image")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPILogs_ComponentFilter(t *testing.T) {
	lb := NewLogBuffer(10)
	l := log.New(lb, "", 0)
	l.Printf("gate: can_capture=true")
	l.Printf("capture: saved id=1")
	l.Printf("gate: can_capture=false")

	ts := httptest.NewServer(Handler(Deps{Logs: lb}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?component=gate")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body LogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"gate: can_capture=true", "gate: can_capture=false"}, body.Lines)
}

func TestLogBuffer_PartialLinesAndDrops(t *testing.T) {
	lb := NewLogBuffer(2)
	_, _ = lb.Write([]byte("a\nb"))
	lines, _ := lb.Snapshot(10, "")
	if len(lines) != 1 || lines[0] != "a" {
		t.Fatalf("lines=%v", lines)
	}
	_, _ = lb.Write([]byte("c\nd\n"))
	lines, dropped := lb.Snapshot(10, "")
	if len(lines) != 2 || lines[0] != "bc" || lines[1] != "d" {
		t.Fatalf("lines=%v", lines)
	}
	if dropped != 1 {
		t.Fatalf("dropped=%d want=1", dropped)
	}
}

func TestMetricsRoute(t *testing.T) {
	m := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "northcam_up 1\n")
	})
	ts := httptest.NewServer(Handler(Deps{Metrics: m}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(b), "northcam_up 1")
}

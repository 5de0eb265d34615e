package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"northcam/internal/capture"
	"northcam/internal/gate"
	"northcam/internal/library"
	"northcam/internal/perm"
)

//go:embed assets/*
var embeddedAssets embed.FS

// GateSource is the reducer surface the UI reads.
type GateSource interface {
	State() gate.State
	Broadcaster() *gate.Broadcaster
}

type Capturer interface {
	Trigger(ctx context.Context) (library.Photo, error)
	Discard(ctx context.Context, id string) error
	Keep(id string) bool
	Snapshot() capture.Snapshot
}

type PhotoStore interface {
	List(ctx context.Context, limit int) ([]library.Photo, error)
	Get(ctx context.Context, id string) (library.Photo, error)
}

// Deps are the handler's collaborators. Nil members disable their routes.
type Deps struct {
	Status  *Status
	Gate    GateSource
	Capture Capturer
	Photos  PhotoStore
	Logs    *LogBuffer
	Metrics http.Handler
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	if d.Status == nil {
		d.Status = NewStatus()
	}

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC()))
	})

	if d.Gate != nil {
		mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, d.Gate.State())
		})
		mux.Handle("GET /api/state/stream", stateStream(d.Gate.Broadcaster()))
	}

	if d.Capture != nil {
		mux.HandleFunc("POST /api/capture", func(w http.ResponseWriter, r *http.Request) {
			p, err := d.Capture.Trigger(r.Context())
			if err != nil {
				writeCaptureError(w, err, d.Capture.Snapshot().Hint)
				return
			}
			writeJSON(w, http.StatusOK, p)
		})
		mux.HandleFunc("GET /api/capture", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, d.Capture.Snapshot())
		})
		mux.HandleFunc("POST /api/capture/{id}/discard", func(w http.ResponseWriter, r *http.Request) {
			if err := d.Capture.Discard(r.Context(), r.PathValue("id")); err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, library.ErrNotFound) {
					code = http.StatusNotFound
				}
				writeJSON(w, code, errorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		mux.HandleFunc("POST /api/capture/{id}/keep", func(w http.ResponseWriter, r *http.Request) {
			if !d.Capture.Keep(r.PathValue("id")) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such pending photo"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
	}

	if d.Photos != nil {
		mux.HandleFunc("GET /api/photos", func(w http.ResponseWriter, r *http.Request) {
			limit := 50
			if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
				v, err := strconv.Atoi(s)
				if err != nil || v < 1 || v > 1000 {
					http.Error(w, "limit must be an integer in [1,1000]", http.StatusBadRequest)
					return
				}
				limit = v
			}
			photos, err := d.Photos.List(r.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
				return
			}
			out := make([]photoView, 0, len(photos))
			for _, p := range photos {
				out = append(out, viewOf(p))
			}
			writeJSON(w, http.StatusOK, map[string]any{"photos": out})
		})
		mux.HandleFunc("GET /api/photos/{id}/image", func(w http.ResponseWriter, r *http.Request) {
			p, err := d.Photos.Get(r.Context(), r.PathValue("id"))
			if errors.Is(err, library.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", p.ContentType)
			http.ServeFile(w, r, p.Path)
		})
	}

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if assetsFS == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><body><h1>northcam</h1><p>UI unavailable. See <a href=\"/api/status\">/api/status</a>.</p></body></html>")
			return
		}
		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

type photoView struct {
	library.Photo
	Size     string `json:"size"`
	ImageURL string `json:"image_url"`
}

func viewOf(p library.Photo) photoView {
	return photoView{Photo: p, Size: humanize.Bytes(uint64(p.Bytes)), ImageURL: "/api/photos/" + p.ID + "/image"}
}

func writeCaptureError(w http.ResponseWriter, err error, hint string) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, capture.ErrNotReady):
		code = http.StatusConflict
	case errors.Is(err, capture.ErrBusy):
		code = http.StatusTooManyRequests
	case errors.Is(err, perm.ErrDenied):
		code = http.StatusForbidden
	case errors.Is(err, capture.ErrCaptureFailed):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Hint: hint})
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Captures can take a while; the state stream clears its own deadline.
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

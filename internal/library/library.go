// Package library stores captured photos on disk with their metadata in a
// sqlite database.
package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("photo not found")

// Metadata is what the gate knew at the moment of capture.
type Metadata struct {
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	HeadingDeg float64   `json:"heading_deg"`
	DistanceM  float64   `json:"distance_m"`
	TiltDeg    float64   `json:"tilt_deg"`
	CapturedAt time.Time `json:"captured_at"`
}

type Photo struct {
	ID          string   `json:"id"`
	Metadata    Metadata `json:"metadata"`
	Path        string   `json:"path"`
	ContentType string   `json:"content_type"`
	Bytes       int64    `json:"bytes"`
}

type Library struct {
	db  *sql.DB
	dir string
}

// Open creates dir if needed, opens (or creates) the database at dbPath and
// migrates it to the latest schema. An empty dbPath puts photos.db in dir.
func Open(dir, dbPath string) (*Library, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("library: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("library: create dir: %w", err)
	}
	if dbPath == "" {
		dbPath = filepath.Join(dir, "photos.db")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("library: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("library: pragmas: %w", err)
	}
	l := &Library{db: db, dir: dir}
	if err := l.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("library: opened dir=%s db=%s", dir, dbPath)
	return l, nil
}

func (l *Library) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("library: migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("library: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("library: migrate instance: %w", err)
	}
	return m, nil
}

func (l *Library) migrateUp() error {
	// m is not closed: closing it would close l.db.
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("library: migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (l *Library) SchemaVersion() (uint, bool, error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (l *Library) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Library) Dir() string { return l.dir }

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}

// Save writes img to a new file and records it. The returned Photo carries
// the generated id.
func (l *Library) Save(ctx context.Context, img []byte, contentType string, md Metadata) (Photo, error) {
	if len(img) == 0 {
		return Photo{}, fmt.Errorf("library: empty image")
	}
	id := uuid.NewString()
	if md.CapturedAt.IsZero() {
		md.CapturedAt = time.Now().UTC()
	}
	name := md.CapturedAt.UTC().Format("20060102T150405Z") + "_" + id[:8] + extFor(contentType)
	path := filepath.Join(l.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img, 0o644); err != nil {
		return Photo{}, fmt.Errorf("library: write image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Photo{}, fmt.Errorf("library: write image: %w", err)
	}

	p := Photo{ID: id, Metadata: md, Path: path, ContentType: contentType, Bytes: int64(len(img))}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO photos (id, lat_deg, lon_deg, heading_deg, distance_m, tilt_deg, captured_at, captured_at_ns, path, content_type, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, md.LatDeg, md.LonDeg, md.HeadingDeg, md.DistanceM, md.TiltDeg,
		md.CapturedAt.UTC().Format(time.RFC3339Nano), md.CapturedAt.UnixNano(), p.Path, p.ContentType, p.Bytes)
	if err != nil {
		_ = os.Remove(path)
		return Photo{}, fmt.Errorf("library: insert: %w", err)
	}
	log.Printf("library: saved id=%s bytes=%d path=%s", p.ID, p.Bytes, p.Path)
	return p, nil
}

// captured_at stays as readable text; captured_at_ns is what rows sort and
// load by.
const selectCols = `id, lat_deg, lon_deg, heading_deg, distance_m, tilt_deg, captured_at_ns, path, content_type, bytes`

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s scanner) (Photo, error) {
	var p Photo
	var capturedNs int64
	if err := s.Scan(&p.ID, &p.Metadata.LatDeg, &p.Metadata.LonDeg, &p.Metadata.HeadingDeg,
		&p.Metadata.DistanceM, &p.Metadata.TiltDeg, &capturedNs, &p.Path, &p.ContentType, &p.Bytes); err != nil {
		return Photo{}, err
	}
	p.Metadata.CapturedAt = time.Unix(0, capturedNs).UTC()
	return p, nil
}

// List returns up to limit photos, newest first. limit <= 0 means 50.
func (l *Library) List(ctx context.Context, limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+selectCols+` FROM photos ORDER BY captured_at_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("library: list: %w", err)
	}
	defer rows.Close()
	out := []Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *Library) Get(ctx context.Context, id string) (Photo, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM photos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Photo{}, ErrNotFound
	}
	if err != nil {
		return Photo{}, fmt.Errorf("library: get %s: %w", id, err)
	}
	return p, nil
}

// Delete removes the row and the image file.
func (l *Library) Delete(ctx context.Context, id string) error {
	p, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("library: delete %s: %w", id, err)
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("library: remove %s: %w", p.Path, err)
	}
	log.Printf("library: deleted id=%s", id)
	return nil
}

// Count returns the number of stored photos.
func (l *Library) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("library: count: %w", err)
	}
	return n, nil
}

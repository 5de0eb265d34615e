package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Library {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "photos"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpen_MigratesToLatest(t *testing.T) {
	l := openTest(t)
	v, dirty, err := l.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(3), v)
}

func TestOpen_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "photos")
	l, err := Open(dir, "")
	require.NoError(t, err)
	_, err = l.Save(context.Background(), []byte{1}, "image/png", Metadata{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(dir, "")
	require.NoError(t, err)
	defer l2.Close()
	n, err := l2.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open("", "")
	require.Error(t, err)
}

func TestSaveGetList(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	md := Metadata{LatDeg: 40.7128, LonDeg: -74.006, HeadingDeg: 3.5, DistanceM: 12.25, TiltDeg: 1.5, CapturedAt: at}

	p, err := l.Save(ctx, []byte("jpegdata"), "image/jpeg", md)
	require.NoError(t, err)
	require.Len(t, p.ID, 36)
	require.Equal(t, ".jpg", filepath.Ext(p.Path))
	b, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	require.Equal(t, "jpegdata", string(b))

	got, err := l.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, md.LatDeg, got.Metadata.LatDeg)
	require.Equal(t, md.HeadingDeg, got.Metadata.HeadingDeg)
	require.Equal(t, md.DistanceM, got.Metadata.DistanceM)
	require.True(t, md.CapturedAt.Equal(got.Metadata.CapturedAt))
	require.Equal(t, int64(8), got.Bytes)

	_, err = l.Save(ctx, []byte("later"), "image/png", Metadata{CapturedAt: at.Add(time.Minute)})
	require.NoError(t, err)
	list, err := l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ".png", filepath.Ext(list[0].Path), "newest first")

	list, err = l.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	base := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	offsets := []time.Duration{
		0,
		100 * time.Millisecond,
		150 * time.Millisecond,
		time.Second,
		time.Second + time.Nanosecond,
	}
	ids := make([]string, len(offsets))
	for i, off := range offsets {
		p, err := l.Save(ctx, []byte{byte(i + 1)}, "image/png", Metadata{CapturedAt: base.Add(off)})
		require.NoError(t, err)
		ids[i] = p.ID
	}

	list, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, len(ids))
	for i, p := range list {
		want := len(ids) - 1 - i
		require.Equal(t, ids[want], p.ID, "position %d", i)
		require.True(t, base.Add(offsets[want]).Equal(p.Metadata.CapturedAt), "captured_at at %d", i)
	}
}

func TestSave_RejectsEmpty(t *testing.T) {
	l := openTest(t)
	_, err := l.Save(context.Background(), nil, "image/png", Metadata{})
	require.Error(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	p, err := l.Save(ctx, []byte{1, 2, 3}, "image/png", Metadata{})
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, p.ID))
	_, err = os.Stat(p.Path)
	require.True(t, os.IsNotExist(err))
	_, err = l.Get(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, l.Delete(ctx, p.ID), ErrNotFound)
}

package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarth-shah20/berth/internal/manifest"
)

type fakeArchiver struct {
	volumes  map[string][]byte
	exported []string
	closed   int
	err      error
}

func (f *fakeArchiver) ExportVolume(_ context.Context, volume string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.exported = append(f.exported, volume)
	return &closeCounter{Reader: bytes.NewReader(f.volumes[volume]), n: &f.closed}, nil
}

func (f *fakeArchiver) ImportVolume(_ context.Context, volume string, archive io.Reader) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(archive)
	if err != nil {
		return err
	}
	f.volumes[volume] = data
	return nil
}

type closeCounter struct {
	io.Reader
	n *int
}

func (c *closeCounter) Close() error {
	*c.n++
	return nil
}

type memStore struct {
	objects map[string][]byte
}

func (s *memStore) Put(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

const manifestDoc = `
version: "2"
services:
  db:
    image: postgres
    volumes:
      - pg:/var/lib/postgresql/data
      - shared:/shared
volumes:
  pg: {}
  shared:
    external: true
`

func setup(t *testing.T) (*Service, *fakeArchiver, *memStore, *manifest.Manifest) {
	t.Helper()
	m, err := manifest.Parse([]byte(manifestDoc))
	require.NoError(t, err)

	archiver := &fakeArchiver{volumes: map[string][]byte{}}
	store := &memStore{objects: map[string][]byte{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(archiver, store, "ruma", "snapshots", logger), archiver, store, m
}

func TestKey(t *testing.T) {
	s := New(nil, nil, "ruma", "snapshots/dev", nil)
	assert.Equal(t, "snapshots/dev/ruma/pg.tar", s.Key("pg"))

	s = New(nil, nil, "ruma", "", nil)
	assert.Equal(t, "ruma/pg.tar", s.Key("pg"))
}

func TestSave(t *testing.T) {
	s, archiver, store, m := setup(t)
	archiver.volumes["berth-ruma-pg"] = []byte("tar bytes")

	key, err := s.Save(context.Background(), m, "pg")
	require.NoError(t, err)

	assert.Equal(t, "snapshots/ruma/pg.tar", key)
	assert.Equal(t, []string{"berth-ruma-pg"}, archiver.exported)
	assert.Equal(t, []byte("tar bytes"), store.objects[key])
	assert.Equal(t, 1, archiver.closed, "export stream should be closed")
}

func TestRestore(t *testing.T) {
	s, archiver, store, m := setup(t)
	store.objects["snapshots/ruma/pg.tar"] = []byte("saved")

	key, err := s.Restore(context.Background(), m, "pg")
	require.NoError(t, err)

	assert.Equal(t, "snapshots/ruma/pg.tar", key)
	assert.Equal(t, []byte("saved"), archiver.volumes["berth-ruma-pg"])
}

func TestRestore_Missing(t *testing.T) {
	s, archiver, _, m := setup(t)

	_, err := s.Restore(context.Background(), m, "pg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, archiver.volumes)
}

func TestRejectsUndeclaredAndExternalVolumes(t *testing.T) {
	s, archiver, _, m := setup(t)
	ctx := context.Background()

	_, err := s.Save(ctx, m, "cargo")
	assert.ErrorIs(t, err, ErrUnknownVolume)

	_, err = s.Save(ctx, m, "shared")
	assert.ErrorIs(t, err, ErrExternalVolume)

	_, err = s.Restore(ctx, m, "shared")
	assert.ErrorIs(t, err, ErrExternalVolume)

	assert.Empty(t, archiver.exported)
}

func TestSave_ExportFailure(t *testing.T) {
	s, archiver, store, m := setup(t)
	archiver.err = errors.New("daemon unavailable")

	_, err := s.Save(context.Background(), m, "pg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unavailable")
	assert.Empty(t, store.objects)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

// Package snapshot copies a project's named volumes to object storage and
// back, so build caches and database contents can be shared between
// machines.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/sarth-shah20/berth/internal/manifest"
	"github.com/sarth-shah20/berth/internal/provision"
)

var (
	ErrUnknownVolume  = errors.New("volume is not declared in the manifest")
	ErrExternalVolume = errors.New("external volumes are not managed by berth")
	ErrNotFound       = errors.New("snapshot not found")
)

// Archiver moves volume contents in and out of the runtime as tar streams.
type Archiver interface {
	ExportVolume(ctx context.Context, volume string) (io.ReadCloser, error)
	ImportVolume(ctx context.Context, volume string, archive io.Reader) error
}

// Store persists snapshot archives under a key.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader) error
	// Get returns ErrNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Service saves and restores volumes of one project.
type Service struct {
	archiver Archiver
	store    Store
	project  string
	prefix   string
	logger   *slog.Logger
}

// New creates a snapshot service. Keys are laid out as
// <prefix>/<project>/<volume>.tar.
func New(archiver Archiver, store Store, project, prefix string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		archiver: archiver,
		store:    store,
		project:  project,
		prefix:   prefix,
		logger:   logger.With("project", project),
	}
}

// Key is where volume's snapshot is stored.
func (s *Service) Key(volume string) string {
	return path.Join(s.prefix, s.project, volume+".tar")
}

// Save uploads the contents of a declared volume and returns its key.
func (s *Service) Save(ctx context.Context, m *manifest.Manifest, volume string) (string, error) {
	name, err := s.runtimeName(m, volume)
	if err != nil {
		return "", err
	}
	key := s.Key(volume)

	s.logger.Info("saving volume snapshot", "volume", volume, "key", key)
	archive, err := s.archiver.ExportVolume(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to export volume %s: %w", volume, err)
	}
	defer archive.Close()

	if err := s.store.Put(ctx, key, archive); err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// Restore downloads a volume's snapshot and unpacks it into the volume,
// creating the volume when needed. Existing files with the same paths are
// overwritten; other files are left alone.
func (s *Service) Restore(ctx context.Context, m *manifest.Manifest, volume string) (string, error) {
	name, err := s.runtimeName(m, volume)
	if err != nil {
		return "", err
	}
	key := s.Key(volume)

	s.logger.Info("restoring volume snapshot", "volume", volume, "key", key)
	archive, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download snapshot %s: %w", key, err)
	}
	defer archive.Close()

	if err := s.archiver.ImportVolume(ctx, name, archive); err != nil {
		return "", fmt.Errorf("failed to import volume %s: %w", volume, err)
	}
	return key, nil
}

func (s *Service) runtimeName(m *manifest.Manifest, volume string) (string, error) {
	vol, ok := m.Volume(volume)
	if !ok {
		return "", fmt.Errorf("%s: %w", volume, ErrUnknownVolume)
	}
	if vol.External {
		return "", fmt.Errorf("%s: %w", volume, ErrExternalVolume)
	}
	return provision.VolumeName(s.project, volume), nil
}

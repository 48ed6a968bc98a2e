package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"github.com/sarth-shah20/berth/internal/provision"
	"github.com/sarth-shah20/berth/internal/snapshot"
)

var _ snapshot.Archiver = (*Manager)(nil)

// volumeMountPath is where helper containers see the volume.
const volumeMountPath = "/volume"

// ExportVolume streams the volume's contents as a tar archive. The helper
// container is removed when the stream is closed.
func (m *Manager) ExportVolume(ctx context.Context, name string) (io.ReadCloser, error) {
	id, err := m.helperContainer(ctx, name, true)
	if err != nil {
		return nil, newError("ExportVolume", "volume", name, err)
	}

	// The trailing "/." copies the directory's contents, not the directory.
	rc, _, err := m.cli.CopyFromContainer(ctx, id, volumeMountPath+"/.")
	if err != nil {
		m.removeHelper(id)
		return nil, newError("ExportVolume", "volume", name, err)
	}

	return &helperStream{ReadCloser: rc, cleanup: func() { m.removeHelper(id) }}, nil
}

// ImportVolume unpacks a tar archive into the volume, creating it if needed.
func (m *Manager) ImportVolume(ctx context.Context, name string, archive io.Reader) error {
	id, err := m.helperContainer(ctx, name, false)
	if err != nil {
		return newError("ImportVolume", "volume", name, err)
	}
	defer m.removeHelper(id)

	if err := m.cli.CopyToContainer(ctx, id, volumeMountPath, archive, types.CopyToContainerOptions{}); err != nil {
		return newError("ImportVolume", "volume", name, err)
	}
	return nil
}

// helperContainer creates, but does not start, a container with the volume
// mounted. Copying works on created containers.
func (m *Manager) helperContainer(ctx context.Context, volumeName string, readOnly bool) (string, error) {
	if err := m.PullImage(ctx, m.helperImage); err != nil {
		return "", err
	}

	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  m.helperImage,
			Cmd:    []string{"true"},
			Labels: map[string]string{provision.LabelManaged: "true"},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:     mount.TypeVolume,
				Source:   volumeName,
				Target:   volumeMountPath,
				ReadOnly: readOnly,
			}},
		},
		nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (m *Manager) removeHelper(id string) {
	err := m.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil {
		m.logger.Warn("failed to remove helper container", "container", id, "error", err)
	}
}

type helperStream struct {
	io.ReadCloser
	cleanup func()
}

func (s *helperStream) Close() error {
	err := s.ReadCloser.Close()
	s.cleanup()
	return err
}

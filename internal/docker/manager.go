// Package docker drives the local docker daemon on behalf of the provisioner.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/sarth-shah20/berth/internal/provision"
)

var _ provision.Driver = (*Manager)(nil)

// Options configures a Manager.
type Options struct {
	// Host overrides DOCKER_HOST; empty uses the environment or the default socket.
	Host string
	// Progress receives pull and build output. Nil discards it.
	Progress io.Writer
	// StopTimeout is the grace period before a stopping container is killed.
	StopTimeout time.Duration
	// HelperImage runs the short-lived containers used to copy volume data.
	HelperImage string
	Logger      *slog.Logger
}

// Manager handles all interactions with the docker daemon.
type Manager struct {
	cli         *client.Client
	logger      *slog.Logger
	progress    io.Writer
	stopTimeout time.Duration
	helperImage string
}

// NewManager creates a docker client connected to the local daemon.
func NewManager(opts Options) (*Manager, error) {
	// FromEnv honours DOCKER_HOST, DOCKER_TLS_VERIFY and DOCKER_CERT_PATH,
	// defaulting to the unix socket.
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, newError("NewManager", "client", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	m := &Manager{
		cli:         cli,
		logger:      opts.Logger,
		progress:    opts.Progress,
		stopTimeout: opts.StopTimeout,
		helperImage: opts.HelperImage,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.progress == nil {
		m.progress = io.Discard
	}
	if m.helperImage == "" {
		m.helperImage = "busybox:latest"
	}
	return m, nil
}

// Ping checks the daemon is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return newError("Ping", "daemon", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	return nil
}

// Close releases the client's connections.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// =============================================================================
// Networks
// =============================================================================

// EnsureNetwork creates a bridge network unless one with the name exists.
func (m *Manager) EnsureNetwork(ctx context.Context, spec provision.NetworkSpec) error {
	networks, err := m.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("name", spec.Name)),
	})
	if err != nil {
		return newError("EnsureNetwork", "network", spec.Name, err)
	}

	// The name filter matches substrings.
	for _, n := range networks {
		if n.Name == spec.Name {
			m.logger.Debug("network already exists", "network", spec.Name)
			return nil
		}
	}

	m.logger.Info("creating network", "network", spec.Name)
	_, err = m.cli.NetworkCreate(ctx, spec.Name, types.NetworkCreate{
		Driver: "bridge",
		Labels: spec.Labels,
	})
	if err != nil {
		return newError("EnsureNetwork", "network", spec.Name, err)
	}
	return nil
}

// RemoveNetwork deletes the network. A missing network is not an error.
func (m *Manager) RemoveNetwork(ctx context.Context, name string) error {
	m.logger.Info("removing network", "network", name)
	if err := m.cli.NetworkRemove(ctx, name); err != nil && !client.IsErrNotFound(err) {
		return newError("RemoveNetwork", "network", name, err)
	}
	return nil
}

// =============================================================================
// Volumes
// =============================================================================

// CreateVolume creates a named volume. The daemon returns the existing
// volume when one with the same name and driver is already there.
func (m *Manager) CreateVolume(ctx context.Context, spec provision.VolumeSpec) error {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	vol, err := m.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:       spec.Name,
		Driver:     driver,
		DriverOpts: spec.DriverOpts,
		Labels:     spec.Labels,
	})
	if err != nil {
		return newError("CreateVolume", "volume", spec.Name, err)
	}

	m.logger.Debug("volume ready", "volume", vol.Name, "mountpoint", vol.Mountpoint)
	return nil
}

// RemoveVolume deletes a named volume and its data.
func (m *Manager) RemoveVolume(ctx context.Context, name string) error {
	m.logger.Info("removing volume", "volume", name)
	if err := m.cli.VolumeRemove(ctx, name, false); err != nil && !client.IsErrNotFound(err) {
		return newError("RemoveVolume", "volume", name, err)
	}
	return nil
}

// =============================================================================
// Images
// =============================================================================

// PullImage pulls ref. When the pull fails but the image is already
// present locally, the local copy is used.
func (m *Manager) PullImage(ctx context.Context, ref string) error {
	err := m.pull(ctx, ref)
	if err == nil {
		return nil
	}

	if _, _, inspectErr := m.cli.ImageInspectWithRaw(ctx, ref); inspectErr == nil {
		m.logger.Warn("pull failed, using local image", "image", ref, "error", err)
		return nil
	}
	return newError("PullImage", "image", ref, fmt.Errorf("%w: %v", ErrPullFailed, err))
}

func (m *Manager) pull(ctx context.Context, ref string) error {
	reader, err := m.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// The stream has to be drained or the pull is cancelled; it also carries
	// errors that happen mid-pull.
	return jsonmessage.DisplayJSONMessagesStream(reader, m.progress, 0, false, nil)
}

// BuildImage builds spec.ContextDir and tags the result.
func (m *Manager) BuildImage(ctx context.Context, spec provision.BuildSpec) error {
	buildCtx, err := buildContext(spec.ContextDir)
	if err != nil {
		return newError("BuildImage", "image", spec.Tag, err)
	}
	defer buildCtx.Close()

	resp, err := m.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  spec.Dockerfile,
		Labels:      spec.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return newError("BuildImage", "image", spec.Tag, fmt.Errorf("%w: %v", ErrBuildFailed, err))
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, m.progress, 0, false, nil); err != nil {
		return newError("BuildImage", "image", spec.Tag, fmt.Errorf("%w: %v", ErrBuildFailed, err))
	}
	return nil
}

// =============================================================================
// Containers
// =============================================================================

// StartService replaces any container with the spec's name and starts a
// fresh one.
func (m *Manager) StartService(ctx context.Context, spec provision.ServiceSpec) error {
	config, hostConfig, networkConfig, err := containerConfig(spec)
	if err != nil {
		return newError("StartService", "container", spec.ContainerName, err)
	}

	// Leftovers from an earlier run; a missing container is fine.
	if err := m.cli.ContainerRemove(ctx, spec.ContainerName, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return newError("StartService", "container", spec.ContainerName, err)
	}

	m.logger.Debug("creating container", "container", spec.ContainerName, "image", spec.Image)
	resp, err := m.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.ContainerName)
	if err != nil {
		return newError("StartService", "container", spec.ContainerName, err)
	}
	for _, w := range resp.Warnings {
		m.logger.Warn("container create warning", "container", spec.ContainerName, "warning", w)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := m.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			m.logger.Warn("failed to remove container after start failure", "container", spec.ContainerName, "error", rmErr)
		}
		return newError("StartService", "container", spec.ContainerName, err)
	}
	return nil
}

// StopService stops and removes a container, keeping its volumes.
func (m *Manager) StopService(ctx context.Context, name string) error {
	opts := container.StopOptions{}
	if m.stopTimeout > 0 {
		seconds := int(m.stopTimeout.Seconds())
		opts.Timeout = &seconds
	}

	m.logger.Info("stopping container", "container", name)
	if err := m.cli.ContainerStop(ctx, name, opts); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		// Removal below forces it anyway.
		m.logger.Warn("failed to stop container", "container", name, "error", err)
	}

	err := m.cli.ContainerRemove(ctx, name, container.RemoveOptions{
		RemoveVolumes: false,
		Force:         true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return newError("StopService", "container", name, err)
	}
	return nil
}

// ListServices returns the containers labelled with project.
func (m *Manager) ListServices(ctx context.Context, project string) ([]provision.ServiceStatus, error) {
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", provision.LabelProject, project))),
	})
	if err != nil {
		return nil, newError("ListServices", "container", "", err)
	}

	services := make([]provision.ServiceStatus, 0, len(containers))
	for _, c := range containers {
		services = append(services, serviceStatus(c))
	}
	return services, nil
}

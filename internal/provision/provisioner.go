package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	"github.com/mitchellh/go-homedir"

	"github.com/sarth-shah20/berth/internal/manifest"
)

// Provisioner brings a project's environment up and down.
type Provisioner struct {
	driver  Driver
	project string
	logger  *slog.Logger
}

// New creates a provisioner for project.
func New(driver Driver, project string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		driver:  driver,
		project: project,
		logger:  logger.With("project", project),
	}
}

// DownOptions controls what Down removes besides containers and the network.
type DownOptions struct {
	RemoveVolumes bool
}

// =============================================================================
// Up
// =============================================================================

// Up creates the project network and volumes, then builds or pulls each
// service's image and starts it, linked services first. When a service fails
// to start, the services started by this call are stopped again.
//
// Up does not wait for a service to become ready before starting the
// services that link to it.
func (p *Provisioner) Up(ctx context.Context, m *manifest.Manifest) error {
	p.logger.Info("starting environment",
		"services", len(m.Services),
		"volumes", len(m.Volumes),
	)

	network := NetworkName(p.project)
	if err := p.driver.EnsureNetwork(ctx, NetworkSpec{Name: network, Labels: Labels(p.project, "")}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", network, err)
	}
	p.logger.Debug("network ready", "network", network)

	for _, vol := range m.Volumes {
		if vol.External {
			p.logger.Debug("skipping external volume", "volume", vol.Name)
			continue
		}
		spec := VolumeSpec{
			Name:       VolumeName(p.project, vol.Name),
			Driver:     vol.Driver,
			DriverOpts: vol.DriverOpts,
			Labels:     mergeLabels(vol.Labels, Labels(p.project, "")),
		}
		if err := p.driver.CreateVolume(ctx, spec); err != nil {
			return fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
		p.logger.Debug("volume ready", "volume", spec.Name)
	}

	var started []string
	for _, svc := range m.StartOrder() {
		spec, err := p.prepare(ctx, m, svc)
		if err == nil {
			if err = p.driver.StartService(ctx, spec); err != nil {
				// The container may exist without running; remove it as well.
				started = append(started, spec.ContainerName)
				err = fmt.Errorf("failed to start service %s: %w", svc.Name, err)
			}
		}
		if err != nil {
			p.rollback(ctx, started)
			return err
		}

		started = append(started, spec.ContainerName)
		p.logger.Info("service started",
			"service", svc.Name,
			"container", spec.ContainerName,
			"image", spec.Image,
		)
	}

	p.logger.Info("environment started", "services", len(started))
	return nil
}

// prepare makes the service's image available and resolves its container spec.
func (p *Provisioner) prepare(ctx context.Context, m *manifest.Manifest, svc manifest.Service) (ServiceSpec, error) {
	image, err := p.image(ctx, m, svc)
	if err != nil {
		return ServiceSpec{}, err
	}

	spec := ServiceSpec{
		ContainerName: ContainerName(p.project, svc.Name),
		Image:         image,
		Network:       NetworkName(p.project),
		Aliases:       []string{svc.Name},
		Command:       svc.Command,
		Env:           svc.Env(),
		Ports:         svc.Ports,
		Labels:        Labels(p.project, svc.Name),
	}

	for _, l := range svc.Links {
		spec.Links = append(spec.Links, ContainerName(p.project, l.Service)+":"+l.Name())
	}

	for _, mnt := range svc.Mounts {
		source := mnt.Source
		switch mnt.Kind {
		case manifest.MountVolume:
			source = p.volumeSource(m, mnt.Source)
		case manifest.MountBind:
			source, err = resolvePath(m.Dir, mnt.Source)
			if err != nil {
				return ServiceSpec{}, fmt.Errorf("service %s: failed to resolve %s: %w", svc.Name, mnt.Source, err)
			}
		}
		spec.Mounts = append(spec.Mounts, MountSpec{
			Kind:     mnt.Kind,
			Source:   source,
			Target:   mnt.Target,
			ReadOnly: mnt.ReadOnly,
		})
	}

	return spec, nil
}

func (p *Provisioner) image(ctx context.Context, m *manifest.Manifest, svc manifest.Service) (string, error) {
	switch src := svc.Source.(type) {
	case manifest.RegistryImage:
		p.logger.Info("pulling image", "service", svc.Name, "image", src.Ref)
		if err := p.driver.PullImage(ctx, src.Ref); err != nil {
			return "", fmt.Errorf("failed to pull image %s for %s: %w", src.Ref, svc.Name, err)
		}
		return src.Ref, nil

	case manifest.BuildContext:
		tag := src.Tag
		if tag == "" {
			tag = ImageName(p.project, svc.Name)
		}
		dir, err := resolvePath(m.Dir, src.Context)
		if err != nil {
			return "", fmt.Errorf("service %s: failed to resolve build context: %w", svc.Name, err)
		}

		p.logger.Info("building image", "service", svc.Name, "context", dir, "tag", tag)
		err = p.driver.BuildImage(ctx, BuildSpec{
			ContextDir: dir,
			Dockerfile: src.Dockerfile,
			Tag:        tag,
			Labels:     Labels(p.project, svc.Name),
		})
		if err != nil {
			return "", fmt.Errorf("failed to build image for %s: %w", svc.Name, err)
		}
		return tag, nil
	}

	return "", fmt.Errorf("service %s has no image source", svc.Name)
}

func (p *Provisioner) volumeSource(m *manifest.Manifest, name string) string {
	if vol, ok := m.Volume(name); ok && vol.External {
		return name
	}
	return VolumeName(p.project, name)
}

func (p *Provisioner) rollback(ctx context.Context, started []string) {
	for _, name := range slices.Backward(started) {
		if err := p.driver.StopService(ctx, name); err != nil {
			p.logger.Warn("failed to stop container during rollback", "container", name, "error", err)
		}
	}
}

// =============================================================================
// Down
// =============================================================================

// Down stops and removes the project's containers, dependents first, then
// the network. Volumes are only removed with RemoveVolumes. Every step runs
// even when an earlier one fails; the failures are returned joined.
func (p *Provisioner) Down(ctx context.Context, m *manifest.Manifest, opts DownOptions) error {
	p.logger.Info("stopping environment", "remove_volumes", opts.RemoveVolumes)

	var errs []error

	for _, svc := range m.StopOrder() {
		name := ContainerName(p.project, svc.Name)
		if err := p.driver.StopService(ctx, name); err != nil {
			p.logger.Warn("failed to stop service", "service", svc.Name, "error", err)
			errs = append(errs, fmt.Errorf("failed to stop service %s: %w", svc.Name, err))
			continue
		}
		p.logger.Debug("service stopped", "service", svc.Name, "container", name)
	}

	network := NetworkName(p.project)
	if err := p.driver.RemoveNetwork(ctx, network); err != nil {
		p.logger.Warn("failed to remove network", "network", network, "error", err)
		errs = append(errs, fmt.Errorf("failed to remove network %s: %w", network, err))
	}

	if opts.RemoveVolumes {
		for _, vol := range m.Volumes {
			if vol.External {
				continue
			}
			name := VolumeName(p.project, vol.Name)
			if err := p.driver.RemoveVolume(ctx, name); err != nil {
				p.logger.Warn("failed to remove volume", "volume", name, "error", err)
				errs = append(errs, fmt.Errorf("failed to remove volume %s: %w", vol.Name, err))
			}
		}
	}

	if len(errs) == 0 {
		p.logger.Info("environment stopped")
	}
	return errors.Join(errs...)
}

// =============================================================================
// Status
// =============================================================================

// Status lists the project's containers.
func (p *Provisioner) Status(ctx context.Context) ([]ServiceStatus, error) {
	services, err := p.driver.ListServices(ctx, p.project)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

// =============================================================================
// Helpers
// =============================================================================

// resolvePath expands ~ and makes path absolute relative to dir (or the
// working directory when dir is empty).
func resolvePath(dir, path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) && dir != "" {
		expanded = filepath.Join(dir, expanded)
	}
	return filepath.Abs(expanded)
}

func mergeLabels(labels ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range labels {
		maps.Copy(out, l)
	}
	return out
}

package docker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/sarth-shah20/berth/internal/manifest"
	"github.com/sarth-shah20/berth/internal/provision"
)

// containerConfig splits a service spec into the three configs
// ContainerCreate wants: inside the container, on the host, and networking.
func containerConfig(spec provision.ServiceSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}

	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, p.ContainerPort)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid port %s/%s: %w", p.ContainerPort, proto, err)
		}

		exposedPorts[port] = struct{}{}
		if p.HostPort != "" || p.HostIP != "" {
			portBindings[port] = append(portBindings[port], nat.PortBinding{
				HostIP:   p.HostIP,
				HostPort: p.HostPort,
			})
		}
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposedPorts,
	}
	if len(spec.Command) > 0 {
		config.Cmd = spec.Command
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
	}
	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if m.Kind == manifest.MountBind {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {
				Aliases: spec.Aliases,
				Links:   spec.Links,
			},
		},
	}

	return config, hostConfig, networkConfig, nil
}

// serviceStatus converts a container list entry.
func serviceStatus(c types.Container) provision.ServiceStatus {
	name := c.ID
	if len(c.Names) > 0 {
		// Names come back as "/berth-ruma-postgres"
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	var ports []string
	for _, p := range c.Ports {
		if p.PublicPort == 0 {
			continue
		}
		ports = append(ports, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
	}

	return provision.ServiceStatus{
		Name:    name,
		Service: c.Labels[provision.LabelService],
		Image:   c.Image,
		State:   c.State,
		Status:  c.Status,
		Created: time.Unix(c.Created, 0),
		Ports:   ports,
	}
}

// buildContext tars dir for ImageBuild, honouring its .dockerignore.
func buildContext(dir string) (io.ReadCloser, error) {
	excludes, err := readDockerignore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}

	return archive.TarWithOptions(dir, &archive.TarOptions{
		Compression:     archive.Uncompressed,
		ExcludePatterns: excludes,
	})
}

func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ignorefile.ReadAll(f)
}

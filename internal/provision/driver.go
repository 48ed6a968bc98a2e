// Package provision realizes a manifest against a container runtime. The
// runtime itself is injected as a Driver so the docker daemon can be
// swapped for a fake in tests.
package provision

import (
	"context"
	"time"

	"github.com/sarth-shah20/berth/internal/manifest"
)

// Driver is the container runtime capability the provisioner needs.
// Implementations must be idempotent: creating something that already
// exists, or stopping something that is already gone, is not an error.
type Driver interface {
	EnsureNetwork(ctx context.Context, spec NetworkSpec) error
	RemoveNetwork(ctx context.Context, name string) error

	CreateVolume(ctx context.Context, spec VolumeSpec) error
	RemoveVolume(ctx context.Context, name string) error

	// PullImage makes ref available locally.
	PullImage(ctx context.Context, ref string) error
	BuildImage(ctx context.Context, spec BuildSpec) error

	// StartService (re)creates the container described by spec and starts it.
	StartService(ctx context.Context, spec ServiceSpec) error
	// StopService stops and removes a container. Volumes are kept.
	StopService(ctx context.Context, containerName string) error
	ListServices(ctx context.Context, project string) ([]ServiceStatus, error)
}

// NetworkSpec describes the project network.
type NetworkSpec struct {
	Name   string
	Labels map[string]string
}

// VolumeSpec describes a named volume.
type VolumeSpec struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
}

// BuildSpec describes an image build from a local directory.
type BuildSpec struct {
	ContextDir string // absolute
	Dockerfile string // relative to ContextDir, empty for "Dockerfile"
	Tag        string
	Labels     map[string]string
}

// MountSpec is a resolved mount: volume sources carry the runtime volume
// name and bind sources an absolute host path.
type MountSpec struct {
	Kind     manifest.MountKind
	Source   string
	Target   string
	ReadOnly bool
}

// ServiceSpec is everything needed to create one container.
type ServiceSpec struct {
	ContainerName string
	Image         string
	Network       string
	Aliases       []string // DNS names on Network
	Links         []string // "container:alias"
	Command       []string
	Env           []string
	Mounts        []MountSpec
	Ports         []manifest.PortMapping
	Labels        map[string]string
}

// ServiceStatus is a container as reported by the runtime.
type ServiceStatus struct {
	Name    string
	Service string
	Image   string
	State   string // "running", "exited", ...
	Status  string // human readable, e.g. "Up 5 minutes"
	Created time.Time
	Ports   []string
}

package provision

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// fakeDriver records every call as a short string and can fail on demand.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	services map[string]ServiceSpec
	volumes  map[string]VolumeSpec
	builds   []BuildSpec
	failOn   map[string]error
	statuses []ServiceStatus
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		services: make(map[string]ServiceSpec),
		volumes:  make(map[string]VolumeSpec),
		failOn:   make(map[string]error),
	}
}

func (f *fakeDriver) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeDriver) EnsureNetwork(_ context.Context, spec NetworkSpec) error {
	return f.record("network " + spec.Name)
}

func (f *fakeDriver) RemoveNetwork(_ context.Context, name string) error {
	return f.record("rm-network " + name)
}

func (f *fakeDriver) CreateVolume(_ context.Context, spec VolumeSpec) error {
	if err := f.record("volume " + spec.Name); err != nil {
		return err
	}
	f.volumes[spec.Name] = spec
	return nil
}

func (f *fakeDriver) RemoveVolume(_ context.Context, name string) error {
	return f.record("rm-volume " + name)
}

func (f *fakeDriver) PullImage(_ context.Context, ref string) error {
	return f.record("pull " + ref)
}

func (f *fakeDriver) BuildImage(_ context.Context, spec BuildSpec) error {
	if err := f.record("build " + spec.Tag); err != nil {
		return err
	}
	f.builds = append(f.builds, spec)
	return nil
}

func (f *fakeDriver) StartService(_ context.Context, spec ServiceSpec) error {
	if err := f.record("start " + spec.ContainerName); err != nil {
		return err
	}
	f.services[spec.ContainerName] = spec
	return nil
}

func (f *fakeDriver) StopService(_ context.Context, name string) error {
	return f.record("stop " + name)
}

func (f *fakeDriver) ListServices(_ context.Context, project string) ([]ServiceStatus, error) {
	return f.statuses, f.record("list " + project)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

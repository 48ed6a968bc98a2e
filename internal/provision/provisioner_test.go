package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarth-shah20/berth/internal/manifest"
)

func loadRumaManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(filepath.Join("..", "manifest", "testdata", "ruma.yml"))
	require.NoError(t, err)
	return m
}

func parse(t *testing.T, doc string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(doc))
	require.NoError(t, err)
	m.Dir = "/work"
	return m
}

// =============================================================================
// Naming
// =============================================================================

func TestNaming(t *testing.T) {
	assert.Equal(t, "berth-ruma", NetworkName("ruma"))
	assert.Equal(t, "berth-ruma-postgres", ContainerName("ruma", "postgres"))
	assert.Equal(t, "berth-ruma-pg", VolumeName("ruma", "pg"))
	assert.Equal(t, "berth-ruma-rust", ImageName("ruma", "rust"))

	assert.Equal(t, map[string]string{
		LabelProject: "ruma",
		LabelManaged: "true",
	}, Labels("ruma", ""))
	assert.Equal(t, "rust", Labels("ruma", "rust")[LabelService])
}

// =============================================================================
// Up
// =============================================================================

func TestUp_RumaManifest(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()
	p := New(driver, "ruma", discardLogger())

	require.NoError(t, p.Up(context.Background(), m))

	assert.Equal(t, []string{
		"network berth-ruma",
		"volume berth-ruma-cargo_git",
		"volume berth-ruma-cargo_registry",
		"volume berth-ruma-pg",
		"pull postgres",
		"start berth-ruma-postgres",
		"build ruma",
		"start berth-ruma-rust",
	}, driver.calls)

	require.Len(t, driver.builds, 1)
	assert.Equal(t, m.Dir, driver.builds[0].ContextDir)
	assert.Equal(t, "rust", driver.builds[0].Labels[LabelService])

	rust := driver.services["berth-ruma-rust"]
	assert.Equal(t, "ruma", rust.Image)
	assert.Equal(t, "berth-ruma", rust.Network)
	assert.Equal(t, []string{"rust"}, rust.Aliases)
	assert.Equal(t, []string{"berth-ruma-postgres:postgres"}, rust.Links)
	assert.Equal(t, []MountSpec{
		{Kind: manifest.MountVolume, Source: "berth-ruma-cargo_git", Target: "/root/.cargo/git"},
		{Kind: manifest.MountVolume, Source: "berth-ruma-cargo_registry", Target: "/root/.cargo/registry"},
		{Kind: manifest.MountBind, Source: m.Dir, Target: "/source"},
	}, rust.Mounts)

	pg := driver.services["berth-ruma-postgres"]
	assert.Equal(t, "postgres", pg.Image)
	assert.Equal(t, []string{"POSTGRES_PASSWORD=test"}, pg.Env)
	assert.Empty(t, pg.Links)
	assert.Equal(t, map[string]string{
		LabelProject: "ruma",
		LabelService: "postgres",
		LabelManaged: "true",
	}, pg.Labels)
}

func TestUp_DefaultBuildTag(t *testing.T) {
	m := parse(t, "services:\n  app:\n    build:\n      context: ./app\n      dockerfile: Dockerfile.dev\n")
	driver := newFakeDriver()

	require.NoError(t, New(driver, "demo", discardLogger()).Up(context.Background(), m))

	require.Len(t, driver.builds, 1)
	assert.Equal(t, BuildSpec{
		ContextDir: filepath.FromSlash("/work/app"),
		Dockerfile: "Dockerfile.dev",
		Tag:        "berth-demo-app",
		Labels:     Labels("demo", "app"),
	}, driver.builds[0])
	assert.Equal(t, "berth-demo-app", driver.services["berth-demo-app"].Image)
}

func TestUp_ExternalVolume(t *testing.T) {
	m := parse(t, `
services:
  db:
    image: postgres
    volumes:
      - shared:/data
      - local:/scratch
volumes:
  shared:
    external: true
  local:
    driver: local
    labels:
      team: core
`)
	driver := newFakeDriver()

	require.NoError(t, New(driver, "demo", discardLogger()).Up(context.Background(), m))

	assert.NotContains(t, driver.calls, "volume berth-demo-shared")
	assert.Contains(t, driver.calls, "volume berth-demo-local")
	assert.Equal(t, "core", driver.volumes["berth-demo-local"].Labels["team"])
	assert.Equal(t, "demo", driver.volumes["berth-demo-local"].Labels[LabelProject])

	db := driver.services["berth-demo-db"]
	require.Len(t, db.Mounts, 2)
	assert.Equal(t, "shared", db.Mounts[0].Source)
	assert.Equal(t, "berth-demo-local", db.Mounts[1].Source)
}

func TestUp_HomeBindMount(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	m := parse(t, "services:\n  app:\n    image: app\n    volumes:\n      - ~/.ssh:/root/.ssh:ro\n")
	driver := newFakeDriver()

	require.NoError(t, New(driver, "demo", discardLogger()).Up(context.Background(), m))

	mounts := driver.services["berth-demo-app"].Mounts
	require.Len(t, mounts, 1)
	assert.Equal(t, filepath.Join(home, ".ssh"), mounts[0].Source)
	assert.True(t, mounts[0].ReadOnly)
}

func TestUp_RollsBackOnStartFailure(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()
	boom := errors.New("port is already allocated")
	driver.failOn["start berth-ruma-rust"] = boom

	err := New(driver, "ruma", discardLogger()).Up(context.Background(), m)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to start service rust")
	require.GreaterOrEqual(t, len(driver.calls), 3)
	assert.Equal(t, []string{
		"start berth-ruma-rust",
		"stop berth-ruma-rust",
		"stop berth-ruma-postgres",
	}, driver.calls[len(driver.calls)-3:], "the container that failed to start is removed too")
}

func TestUp_PullFailure(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()
	driver.failOn["pull postgres"] = errors.New("manifest unknown")

	err := New(driver, "ruma", discardLogger()).Up(context.Background(), m)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to pull image postgres")
	assert.NotContains(t, driver.calls, "start berth-ruma-rust")
	assert.NotContains(t, driver.calls, "build ruma")
}

func TestUp_NetworkFailure(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()
	driver.failOn["network berth-ruma"] = errors.New("daemon unreachable")

	err := New(driver, "ruma", discardLogger()).Up(context.Background(), m)

	require.Error(t, err)
	assert.Equal(t, []string{"network berth-ruma"}, driver.calls)
}

// =============================================================================
// Down
// =============================================================================

func TestDown_KeepsVolumes(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()

	require.NoError(t, New(driver, "ruma", discardLogger()).Down(context.Background(), m, DownOptions{}))

	assert.Equal(t, []string{
		"stop berth-ruma-rust",
		"stop berth-ruma-postgres",
		"rm-network berth-ruma",
	}, driver.calls)
}

func TestDown_RemoveVolumes(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()

	err := New(driver, "ruma", discardLogger()).Down(context.Background(), m, DownOptions{RemoveVolumes: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"stop berth-ruma-rust",
		"stop berth-ruma-postgres",
		"rm-network berth-ruma",
		"rm-volume berth-ruma-cargo_git",
		"rm-volume berth-ruma-cargo_registry",
		"rm-volume berth-ruma-pg",
	}, driver.calls)
}

func TestDown_ContinuesAfterFailure(t *testing.T) {
	m := loadRumaManifest(t)
	driver := newFakeDriver()
	stopErr := errors.New("stop failed")
	netErr := errors.New("network has active endpoints")
	driver.failOn["stop berth-ruma-rust"] = stopErr
	driver.failOn["rm-network berth-ruma"] = netErr

	err := New(driver, "ruma", discardLogger()).Down(context.Background(), m, DownOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, stopErr)
	assert.ErrorIs(t, err, netErr)
	assert.Contains(t, driver.calls, "stop berth-ruma-postgres")
}

// =============================================================================
// Status
// =============================================================================

func TestStatus(t *testing.T) {
	driver := newFakeDriver()
	driver.statuses = []ServiceStatus{
		{Name: "berth-ruma-postgres", Service: "postgres", State: "running", Created: time.Now()},
	}

	services, err := New(driver, "ruma", discardLogger()).Status(context.Background())
	require.NoError(t, err)

	assert.Len(t, services, 1)
	assert.Equal(t, []string{"list ruma"}, driver.calls)
}

func TestResolvePath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name     string
		dir      string
		path     string
		expected string
	}{
		{"relative to manifest", "/work", "./src", filepath.FromSlash("/work/src")},
		{"dot", "/work", ".", filepath.FromSlash("/work")},
		{"absolute", "/work", "/var/run/docker.sock", filepath.FromSlash("/var/run/docker.sock")},
		{"no manifest dir", "", "src", filepath.Join(wd, "src")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePath(tt.dir, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.Project)
	assert.Equal(t, "docker-compose.yml", cfg.File)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10*time.Second, cfg.Stop.Timeout)
	assert.Equal(t, "berth", cfg.Snapshot.Prefix)
	assert.Equal(t, "busybox:latest", cfg.Snapshot.HelperImage)
}

func TestLoad_DefaultFileInDir(t *testing.T) {
	dir := t.TempDir()
	content := `
project: ruma
log:
  level: debug
stop:
  timeout: 3s
snapshot:
  bucket: ruma-caches
  endpoint: http://localhost:9000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(content), 0o644))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "ruma", cfg.Project)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.Stop.Timeout)
	assert.Equal(t, "ruma-caches", cfg.Snapshot.Bucket)
	assert.Equal(t, "http://localhost:9000", cfg.Snapshot.Endpoint)
	assert.Equal(t, "berth", cfg.Snapshot.Prefix, "unset keys keep defaults")
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci.yaml")
	require.NoError(t, os.WriteFile(path, []byte("file: compose.ci.yml\n"), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "compose.ci.yml", cfg.File)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed\n"), 0o644))

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BERTH_PROJECT", "from-env")
	t.Setenv("BERTH_LOG_FORMAT", "json")
	t.Setenv("BERTH_SNAPSHOT_BUCKET", "env-bucket")
	t.Setenv("BERTH_STOP_TIMEOUT", "1m")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Project)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "env-bucket", cfg.Snapshot.Bucket)
	assert.Equal(t, time.Minute, cfg.Stop.Timeout)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      LogConfig
		contains string
		quiet    bool
	}{
		{"text info", LogConfig{Level: "info", Format: "text"}, "msg=hello", false},
		{"json", LogConfig{Level: "info", Format: "json"}, `"msg":"hello"`, false},
		{"warn hides info", LogConfig{Level: "warn"}, "", true},
		{"unknown level is info", LogConfig{Level: "loud"}, "msg=hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(tt.cfg, &buf).Info("hello")

			if tt.quiet {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.contains)
		})
	}
}

// Package config loads berth's own settings: which manifest to use, how to
// reach docker, logging, and where volume snapshots live.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all berth settings.
type Config struct {
	// Project names the environment; empty means the manifest directory's name.
	Project  string         `mapstructure:"project"`
	File     string         `mapstructure:"file"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Stop     StopConfig     `mapstructure:"stop"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StopConfig controls how containers are stopped.
type StopConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SnapshotConfig locates volume snapshots in object storage.
type SnapshotConfig struct {
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"` // S3-compatible server, e.g. MinIO
	HelperImage string `mapstructure:"helper_image"`
}

// =============================================================================
// Config Loading
// =============================================================================

// DefaultFile is the config file looked up in the working directory when no
// path is given.
const DefaultFile = ".berth.yaml"

// Load reads configuration from path, or from .berth.yaml in dir when path
// is empty, then applies BERTH_* environment overrides. A missing default
// file is fine; a missing explicit file is not.
func Load(path, dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("project", "")
	v.SetDefault("file", "docker-compose.yml")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("stop.timeout", "10s")
	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.prefix", "berth")
	v.SetDefault("snapshot.region", "")
	v.SetDefault("snapshot.endpoint", "")
	v.SetDefault("snapshot.helper_image", "busybox:latest")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && path == "":
			// defaults only
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file %s not found", path)
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

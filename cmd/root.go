package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/config"
	"github.com/sarth-shah20/berth/internal/docker"
	"github.com/sarth-shah20/berth/internal/manifest"
)

var (
	flagFile    string
	flagProject string
	flagConfig  string
)

// Loaded by PersistentPreRunE before any command runs.
var (
	cfg     *config.Config
	logger  *slog.Logger
	mf      *manifest.Manifest
	project string
)

var rootCmd = &cobra.Command{
	Use:          "berth",
	Short:        "berth: local development environments from a compose manifest",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		loaded, err := config.Load(flagConfig, wd)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = config.NewLogger(cfg.Log, cmd.ErrOrStderr())

		file := cfg.File
		if flagFile != "" {
			file = flagFile
		}
		m, err := manifest.Load(file, manifest.WithEnvironment(os.LookupEnv))
		if err != nil {
			return err
		}
		mf = m

		project = cfg.Project
		if flagProject != "" {
			project = flagProject
		}
		if project == "" {
			project = filepath.Base(m.Dir)
		}
		project = projectName(project)

		logger.Debug("manifest loaded", "file", file, "project", project, "services", len(m.Services))
		return nil
	},
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagFile, "file", "f", "", "manifest file (default docker-compose.yml)")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project name (default: manifest directory name)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default .berth.yaml)")
}

// newManager connects to the docker daemon configured for this run.
func newManager(cmd *cobra.Command) (*docker.Manager, error) {
	mgr, err := docker.NewManager(docker.Options{
		Host:        cfg.Docker.Host,
		Progress:    cmd.ErrOrStderr(),
		StopTimeout: cfg.Stop.Timeout,
		HelperImage: cfg.Snapshot.HelperImage,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Ping(cmd.Context()); err != nil {
		mgr.Close()
		return nil, err
	}
	return mgr, nil
}

// projectName turns a directory name into something docker accepts in
// container, network and volume names.
func projectName(dir string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, dir)
	name = strings.TrimLeft(name, "-_")
	if name == "" {
		return "default"
	}
	return name
}

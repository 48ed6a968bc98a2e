package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save or restore named volumes in object storage",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <volume>",
	Short: "Upload a volume's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newSnapshotService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		key, err := svc.Save(cmd.Context(), mf, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to s3://%s/%s\n", args[0], cfg.Snapshot.Bucket, key)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <volume>",
	Short: "Download a snapshot into a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newSnapshotService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		key, err := svc.Restore(cmd.Context(), mf, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from s3://%s/%s\n", args[0], cfg.Snapshot.Bucket, key)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotRestoreCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func newSnapshotService(cmd *cobra.Command) (*snapshot.Service, func(), error) {
	store, err := snapshot.NewS3Store(cmd.Context(), snapshot.S3Config{
		Bucket:   cfg.Snapshot.Bucket,
		Region:   cfg.Snapshot.Region,
		Endpoint: cfg.Snapshot.Endpoint,
	})
	if err != nil {
		return nil, nil, err
	}

	mgr, err := newManager(cmd)
	if err != nil {
		return nil, nil, err
	}

	svc := snapshot.New(mgr, store, project, cfg.Snapshot.Prefix, logger)
	return svc, func() { mgr.Close() }, nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/provision"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the development environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Close()

		p := provision.New(mgr, project, logger)
		if err := p.Up(cmd.Context(), mf); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Environment %s is up (%d services).\n", project, len(mf.Services))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
}

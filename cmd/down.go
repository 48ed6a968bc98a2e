package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/provision"
)

var downVolumes bool

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Close()

		p := provision.New(mgr, project, logger)
		if err := p.Down(cmd.Context(), mf, provision.DownOptions{RemoveVolumes: downVolumes}); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Environment stopped.")
		return nil
	},
}

func init() {
	downCmd.Flags().BoolVarP(&downVolumes, "volumes", "v", false, "also remove named volumes and their data")
	rootCmd.AddCommand(downCmd)
}

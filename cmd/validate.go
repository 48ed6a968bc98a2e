package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the manifest and print a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// PersistentPreRunE has already rejected an invalid manifest.
		writeSummary(cmd.OutOrStdout(), project, mf)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func writeSummary(out io.Writer, project string, m *manifest.Manifest) {
	fmt.Fprintf(out, "Project: %s (manifest version %s)\n\n", project, m.Version)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSOURCE\tLINKS\tMOUNTS")
	for _, s := range m.Services {
		links := make([]string, 0, len(s.Links))
		for _, l := range s.Links {
			links = append(links, l.Name())
		}
		mounts := make([]string, 0, len(s.Mounts))
		for _, mnt := range s.Mounts {
			if mnt.Source == "" {
				mounts = append(mounts, mnt.Target)
				continue
			}
			mounts = append(mounts, mnt.Source+":"+mnt.Target)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Source, orDash(links), orDash(mounts))
	}
	w.Flush()

	fmt.Fprintf(out, "\nVolumes: %s\n", orDash(m.VolumeNames()))

	order := make([]string, 0, len(m.Services))
	for _, s := range m.StartOrder() {
		order = append(order, s.Name)
	}
	fmt.Fprintf(out, "Start order: %s\n", strings.Join(order, " -> "))
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

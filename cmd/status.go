package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sarth-shah20/berth/internal/provision"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the environment's services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Close()

		services, err := provision.New(mgr, project, logger).Status(cmd.Context())
		if err != nil {
			return err
		}

		if len(services) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No berth services found for %s.\n", project)
			return nil
		}

		writeStatus(cmd.OutOrStdout(), services)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// writeStatus prints services as a table, sorted by service name.
func writeStatus(out io.Writer, services []provision.ServiceStatus) {
	slices.SortFunc(services, func(a, b provision.ServiceStatus) int {
		return strings.Compare(a.Service, b.Service)
	})

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONTAINER\tIMAGE\tSTATE\tCREATED\tPORTS")
	for _, s := range services {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Service,
			s.Name,
			s.Image,
			stateColor(s.State)(s.State),
			humanize.Time(s.Created),
			strings.Join(s.Ports, ", "),
		)
	}
	w.Flush()
}

func stateColor(state string) func(a ...interface{}) string {
	switch state {
	case "running":
		return color.New(color.FgGreen).SprintFunc()
	case "restarting", "paused", "created":
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

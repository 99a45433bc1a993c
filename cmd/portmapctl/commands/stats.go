package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show traffic counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var s statsView
			if err := fetchJSON("/api/stats", &s); err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			out, err := formatStats(s, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

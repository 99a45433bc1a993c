package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func connectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List active TCP connections",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var conns []connectionView
			if err := fetchJSON("/api/connections", &conns); err != nil {
				return fmt.Errorf("list connections: %w", err)
			}

			out, err := formatConnections(conns, outputFormat)
			if err != nil {
				return fmt.Errorf("format connections: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

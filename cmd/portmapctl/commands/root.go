// Package commands implements the portmapctl command tree.
//
// Grounded on the teacher's cmd/gobfdctl/commands/root.go: a package-level
// rootCmd with persistent --addr/--format flags and a silence-usage
// policy, built from a thin net/http client instead of a ConnectRPC
// client since portmapd's admin surface is plain JSON/HTTP
// (internal/admin; see DESIGN.md for why).
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr   string
	outputFormat string

	httpClient = &http.Client{Timeout: 5 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "portmapctl",
	Short: "CLI client for the portmapd forwarder",
	Long:  "portmapctl queries the portmapd daemon's admin HTTP endpoint for live connections, sessions, and traffic stats.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"portmapd admin server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(connectionsCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func adminURL(path string) string {
	return "http://" + serverAddr + path
}

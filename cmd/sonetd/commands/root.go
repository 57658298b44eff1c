// Package commands defines the sonetd command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sonetd",
	Short: "Sonet messaging core server",
	Long: `sonetd serves the end-to-end encrypted messaging core: websocket
realtime hub, message store, search index and the messaging service API.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

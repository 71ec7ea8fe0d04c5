// Mdns-discover browses the local network for mDNS/DNS-SD services and
// keeps a live registry of the devices announcing them.
//
// Usage:
//
//	mdns-discover [command] [flags]
//
// Running without arguments opens the interactive terminal UI.
// See 'mdns-discover --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/mdnsdiscover/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mdns-discover",
	Short: "mDNS service discovery browser",
	Long: `Browse the local network for mDNS/DNS-SD services.

Every advertised service type is resolved continuously and each
(host, service) pair is listed until its TTL runs out or it is withdrawn.

If no command is specified, the interactive terminal UI launches.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTUI,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mdns-discover %s\n", version.Full())
	},
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanline-labs/houbridge/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "houbridge",
	Short: "Houdini bridge CLI",
	Long:  "houbridge exposes a running Houdini session to MCP clients, with reconnection, timeouts, caching, and bounded concurrency.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	cli.Version = version

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("houbridge version %s\n", version))

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewPingCmd())
	rootCmd.AddCommand(cli.NewInfoCmd())
	rootCmd.AddCommand(cli.NewCallsCmd())
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanline-labs/houbridge/config"
)

// NewPingCmd creates the "ping" subcommand.
func NewPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect to the Houdini session and report its version",
		RunE:  runPing,
	}

	cmd.Flags().String("config", "", "Path to houbridge.yaml")
	cmd.Flags().String("host", "", "Override the configured host")
	cmd.Flags().Int("port", 0, "Override the configured port")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")

	return cmd
}

func runPing(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(2, "loading config: %v", err)
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}

	b, err := buildBridge(cfg, "", logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = b.manager.Disconnect()
	}()

	start := time.Now()
	session, err := b.manager.EnsureConnected(cmd.Context())
	if err != nil {
		return exitError(1, "ping %s: %v", b.manager.Endpoint(), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s in %v (Houdini %s)\n",
		session.Endpoint(), time.Since(start).Round(time.Millisecond), session.Version())
	return nil
}

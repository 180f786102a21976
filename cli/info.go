package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scanline-labs/houbridge/config"
)

// NewInfoCmd creates the "info" subcommand.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the effective configuration",
		RunE:  runInfo,
	}

	cmd.Flags().String("config", "", "Path to houbridge.yaml")

	return cmd
}

func runInfo(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	path, found, err := config.DiscoverPath(configPath)
	if err != nil {
		return exitError(2, "%v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(2, "loading config: %v", err)
	}

	out := cmd.OutOrStdout()
	if found {
		fmt.Fprintf(out, "# config file: %s\n", path)
	} else {
		fmt.Fprintln(out, "# config file: (defaults, no file found)")
	}

	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = out.Write(encoded)
	return err
}

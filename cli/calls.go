package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanline-labs/houbridge/store"
)

// NewCallsCmd creates the "calls" subcommand.
func NewCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recent tool invocations from the call log",
		RunE:  runCalls,
	}

	cmd.Flags().String("call-log-path", "", "Path to the invocation log database (default: ~/.houbridge/houbridge.db)")
	cmd.Flags().Int("limit", 20, "Maximum records to show")

	return cmd
}

func runCalls(cmd *cobra.Command, _ []string) error {
	callLogPath, _ := cmd.Flags().GetString("call-log-path")
	limit, _ := cmd.Flags().GetInt("limit")

	if callLogPath == "" {
		var err error
		callLogPath, err = store.DefaultPath()
		if err != nil {
			return err
		}
	}

	callLog, err := store.OpenCallLog(callLogPath)
	if err != nil {
		return exitError(1, "opening call log: %v", err)
	}
	defer func() {
		_ = callLog.Close()
	}()

	records, err := callLog.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no recorded calls")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tSTATUS\tELAPSED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n",
			rec.CreatedAt.Local().Format(time.DateTime), rec.Tool, rec.Status, rec.ElapsedMS)
	}
	return w.Flush()
}

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/harun/stepwise/internal/daemon"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Long: `List the tools the engine would register with the current
configuration: enabled builtins plus manifest tools, after the allow and
deny lists are applied.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print full descriptors as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// listing leaves nothing behind in the data directory
	cfg.Engine.AuditLog = false
	cfg.Engine.Transcripts = false
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := newDaemon(cfg, log, daemon.Options{})
	if err != nil {
		return err
	}
	defer d.Close()
	descriptors := d.Engine().Tools()
	out := cmd.OutOrStdout()

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(descriptors)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL ID\tNAME\tDESCRIPTION")
	for _, desc := range descriptors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", desc.ToolID, desc.Name, firstLine(desc.Description))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

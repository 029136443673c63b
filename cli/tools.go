package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/opsagent/utils"
	"github.com/spf13/cobra"
)

// NewToolsCmd creates the "tools" command.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the agent",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().StringP("output", "o", "text", "Output format: text | json | yaml")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := checkFormat(format); err != nil {
		return err
	}

	a, err := startAgent(cmd, nil)
	if err != nil {
		return err
	}
	defer dispose(cmd, a)

	list := a.ListTools()
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		fmt.Fprintln(out, utils.ToJSONIndent(tools.GetDescriptions(list...)))
	case "yaml":
		fmt.Fprint(out, utils.ToYAML(tools.GetDescriptions(list...)))
	default:
		printTools(out, list)
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return errors.Newf("unsupported output format %q", format)
}

func printTools(out io.Writer, list []tools.Tool) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No tools available")
		return
	}
	writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION")
	for _, tool := range list {
		fmt.Fprintf(writer, "%s\t%s\n", tool.Name(), utils.Truncate(oneLine(tool.Description()), 80))
	}
	_ = writer.Flush()
}

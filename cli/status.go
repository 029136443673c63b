package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/effective-security/opsagent/utils"
	"github.com/spf13/cobra"
)

// Status describes the providers and the MCP servers of the agent
type Status struct {
	Providers []llmfactory.ProviderStatus `json:"providers" yaml:"providers"`
	Servers   []mcp.ServerStatus          `json:"servers" yaml:"servers"`
}

// NewStatusCmd creates the "status" command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the LLM providers and the MCP servers",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().StringP("output", "o", "text", "Output format: text | json | yaml")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := checkFormat(format); err != nil {
		return err
	}

	a, err := startAgent(cmd, nil)
	if err != nil {
		return err
	}
	defer dispose(cmd, a)

	st := Status{
		Providers: a.ProviderStatus(),
		Servers:   a.ServerStatus(),
	}
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		fmt.Fprintln(out, utils.ToJSONIndent(st))
	case "yaml":
		fmt.Fprint(out, utils.ToYAML(st))
	default:
		printStatus(out, st.Providers, st.Servers)
	}
	return nil
}

func printStatus(out io.Writer, providers []llmfactory.ProviderStatus, servers []mcp.ServerStatus) {
	writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "PROVIDER\tENABLED\tACTIVE")
	for _, p := range providers {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", p.Name, yesNo(p.Enabled), yesNo(p.IsDefault))
	}
	_ = writer.Flush()
	fmt.Fprintln(out)

	if len(servers) == 0 {
		fmt.Fprintln(out, "No MCP servers connected")
		return
	}
	writer = tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "SERVER\tNAME\tCONNECTED\tCOMMAND")
	for _, s := range servers {
		command := strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", s.ID, s.Name, yesNo(s.Connected), command)
	}
	_ = writer.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/effective-security/opsagent/cli"
	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "opsagent",
	Short: "DevOps AI agent",
	Long:  "opsagent is an interactive DevOps assistant which runs shell commands and the tools of MCP servers on behalf of an LLM.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         cli.RunChat,
}

func init() {
	cli.Configure(rootCmd)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("opsagent version %s\n", version))

	rootCmd.AddCommand(cli.NewChatCmd())
	rootCmd.AddCommand(cli.NewToolsCmd())
	rootCmd.AddCommand(cli.NewStatusCmd())
}

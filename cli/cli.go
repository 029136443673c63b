// Package cli provides the commands of the opsagent CLI.
package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/agent"
	"github.com/effective-security/opsagent/callbacks"
	"github.com/effective-security/xlog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent", "cli")

// newAgent is the hook to create the agent, tests replace it
var newAgent = agent.New

// Configure adds the global flags to the root command
// and sets up the logging and colors before a command runs.
func Configure(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "config.yaml", "Path to the configuration file")
	flags.String("log-level", "error", "Log level: debug|info|warning|error")
	flags.Bool("no-color", false, "Disable colored output")
	flags.BoolP("verbose", "v", false, "Print the input and output of the tools")
	flags.Bool("unsafe", false, "Run the command line tools without confirmation")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
		level, _ := cmd.Flags().GetString("log-level")
		return setupLogging(cmd.ErrOrStderr(), level)
	}
}

func setupLogging(w io.Writer, level string) error {
	switch strings.ToLower(level) {
	case "debug":
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	case "info":
		xlog.SetGlobalLogLevel(xlog.INFO)
	case "warn", "warning":
		xlog.SetGlobalLogLevel(xlog.WARNING)
	case "error":
		xlog.SetGlobalLogLevel(xlog.ERROR)
	default:
		return errors.Newf("invalid log level %q", level)
	}
	xlog.SetFormatter(xlog.NewStringFormatter(w))
	return nil
}

// startAgent loads the configuration and initializes the agent.
// The tools are confirmed on in and out, unless the unsafe mode is on
// or in is nil. The caller must dispose the agent.
func startAgent(cmd *cobra.Command, in *bufio.Scanner) (*agent.Agent, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	unsafe, _ := cmd.Flags().GetBool("unsafe")

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	mode := callbacks.ModeDefault
	if verbose {
		mode = callbacks.ModeVerbose
	}
	opts := []agent.Option{agent.WithCallback(callbacks.NewPrinter(out, mode))}
	if in != nil {
		if unsafe || cfg.UnsafeMode {
			logger.KV(xlog.WARNING, "status", "unsafe_mode")
			warnColor.Fprintln(out, "Running in unsafe mode: commands execute without confirmation")
		} else {
			opts = append(opts, agent.WithConfirmation(newConfirmer(in, out).Confirm))
		}
	}

	a := newAgent(cfg, opts...)
	if err = a.Initialize(cmd.Context()); err != nil {
		_ = a.Dispose(cmd.Context())
		return nil, errors.WithMessagef(err, "failed to initialize agent")
	}
	return a, nil
}

func dispose(cmd *cobra.Command, a *agent.Agent) {
	if err := a.Dispose(cmd.Context()); err != nil {
		logger.KV(xlog.WARNING,
			"reason", "dispose",
			"err", err.Error(),
		)
	}
}

// oneLine joins the lines of the text
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

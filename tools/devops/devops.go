// Package devops provides the tools which run the kubectl, helm and az CLIs.
//
// The model passes the subcommand and its arguments as text,
// the optional flags of the request are passed to the binary as separate arguments.
package devops

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/tools/shell"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/tools", "devops")

const waitDelay = 2 * time.Second

// Result is the output of a CLI tool
type Result struct {
	Output   string `json:"output" yaml:"output" jsonschema:"description=Combined stdout and stderr of the command"`
	ExitCode int    `json:"exit_code" yaml:"exit_code" jsonschema:"description=Exit code of the command"`
}

// flag returns --name=value, or nothing if value is empty
func flag(name, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return []string{"--" + name + "=" + value}
}

// run executes `binary <flags> <command>` through the shell,
// a leading tool name in command is dropped.
// The flags are positional parameters of the script, so their values are never parsed by the shell.
// A non-zero exit code is reported in the result, not as an error.
func run(ctx context.Context, name, binary string, flags []string, command string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, errors.Newf("%s: command is empty", name)
	}
	command = strings.TrimSpace(strings.TrimPrefix(command+" ", name+" "))
	if command == "" {
		return Result{}, errors.Newf("%s: command is empty", name)
	}

	script := `"$0" "$@" ` + command
	args := append([]string{"-c", script, binary}, flags...)
	cmd := exec.CommandContext(ctx, shell.Shell, args...)
	// children of the CLI may keep the output open after the shell is killed
	cmd.WaitDelay = waitDelay

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "executing",
		"binary", binary,
		"flags", flags,
		"command", command,
	)

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return Result{}, errors.Wrapf(ctx.Err(), "%s: command was interrupted", name)
	}

	res := Result{Output: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, errors.Wrapf(err, "failed to execute %s", name)
		}
		res.ExitCode = exitErr.ExitCode()
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "failed",
			"binary", binary,
			"command", command,
			"exit_code", res.ExitCode,
		)
	}
	return res, nil
}

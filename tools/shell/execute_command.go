// Package shell provides the tool which executes shell commands on the local host.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/tools", "shell")

// ToolName is the name of the tool
const ToolName = "execute_command"

// NoOutput is returned when the command succeeded without output
const NoOutput = "Command executed successfully (no output)"

// Shell is the interpreter of the commands
var Shell = "sh"

// CommandRequest is the input of the tool
type CommandRequest struct {
	Command          string `json:"command" yaml:"command" jsonschema:"description=The shell command to execute"`
	WorkingDirectory string `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty" jsonschema:"description=The working directory to execute the command in (optional)"`
}

// New returns the execute_command tool
func New() (*tools.Typed[CommandRequest, string], error) {
	return tools.New(ToolName, "Execute a shell command on the system", Execute)
}

// Execute runs the command and returns its output:
// STDOUT and STDERR sections, or NoOutput.
func Execute(ctx context.Context, req *CommandRequest) (string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return "", errors.New("Command failed: command is empty")
	}

	cmd := exec.CommandContext(ctx, Shell, "-c", req.Command)
	cmd.Dir = req.WorkingDirectory

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "executing",
		"command", req.Command,
		"dir", req.WorkingDirectory,
	)

	if err := cmd.Run(); err != nil {
		msg := err.Error()
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += "\n" + s
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "failed",
			"command", req.Command,
			"err", msg,
		)
		return "", errors.Newf("Command failed: %s", msg)
	}

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString("STDOUT:\n")
		result.Write(stdout.Bytes())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.Write(stderr.Bytes())
	}
	if result.Len() == 0 {
		return NoOutput, nil
	}
	return result.String(), nil
}

package shell_test

import (
	"context"
	"testing"

	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/opsagent/tools/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tcs := []struct {
		name   string
		args   map[string]any
		exp    string
		expErr string
	}{
		{name: "stdout", args: map[string]any{"command": "echo hello"}, exp: "STDOUT:\nhello\n"},
		{name: "stderr", args: map[string]any{"command": "echo oops >&2"}, exp: "STDERR:\noops\n"},
		{name: "both", args: map[string]any{"command": "echo out; echo err >&2"}, exp: "STDOUT:\nout\n\nSTDERR:\nerr\n"},
		{name: "no output", args: map[string]any{"command": "true"}, exp: shell.NoOutput},
		{name: "working directory", args: map[string]any{"command": "pwd", "workingDirectory": dir}, exp: "STDOUT:\n" + dir + "\n"},
		{name: "exit code", args: map[string]any{"command": "echo bad >&2; exit 3"}, expErr: "Command failed: exit status 3\nbad"},
		{name: "missing directory", args: map[string]any{"command": "ls", "workingDirectory": "/not/found"}, expErr: "Command failed: "},
		{name: "empty", args: map[string]any{"command": " "}, expErr: "Command failed: command is empty"},
	}

	tool, err := shell.New()
	require.NoError(t, err)

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := tool.Call(context.Background(), tc.args)
			if tc.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, res)
		})
	}
}

func TestExecuteCommand_Contract(t *testing.T) {
	t.Parallel()

	tool, err := shell.New()
	require.NoError(t, err)
	assert.Equal(t, shell.ToolName, tool.Name())
	assert.Equal(t, "Execute a shell command on the system", tool.Description())

	params := tool.Parameters()
	require.NotNil(t, params)
	assert.Equal(t, []string{"command"}, params.Required)
	_, ok := params.Properties.Get("workingDirectory")
	assert.True(t, ok)

	require.NoError(t, schema.Validate(params, map[string]any{"command": "ls /tmp"}))
	assert.Error(t, schema.Validate(params, map[string]any{"workingDirectory": "/tmp"}))
	require.NoError(t, schema.Validate(tool.Output(), shell.NoOutput))
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/effective-security/opsagent/agent"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/mcp/mcptest"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// echoProvider replies with the user message,
// "run <command>" asks for execute_command and replies with its output
type echoProvider struct {
	name string
}

func (p *echoProvider) Name() string            { return p.name }
func (p *echoProvider) Type() llms.ProviderType { return "FAKE" }
func (p *echoProvider) Model() string           { return "echo-model" }

func (p *echoProvider) Converse(ctx context.Context, req *llms.Request) (*llms.Response, error) {
	return llms.RunTurn(ctx, p, &echoExchange{req: req}, req)
}

type echoExchange struct {
	lock    sync.Mutex
	req     *llms.Request
	results []llms.ToolResult
}

func (e *echoExchange) Complete(_ context.Context, solicitTools bool) (*llms.Completion, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !solicitTools {
		var b strings.Builder
		for _, r := range e.results {
			b.WriteString(r.Content())
		}
		return &llms.Completion{Content: "done: " + strings.TrimSpace(b.String())}, nil
	}

	text := e.req.Messages[len(e.req.Messages)-1].Content
	if cmd, ok := strings.CutPrefix(text, "run "); ok {
		args, _ := json.Marshal(map[string]string{"command": cmd})
		return &llms.Completion{
			ToolCalls: []llms.ToolCall{{
				ID:   "call_1",
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      "execute_command",
					Arguments: string(args),
				},
			}},
		}, nil
	}
	if text == "fail" {
		return &llms.Completion{}, nil
	}
	return &llms.Completion{Content: "echo: " + text}, nil
}

func (e *echoExchange) AppendToolResults(results []llms.ToolResult) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.results = append(e.results, results...)
	return nil
}

// useFakes replaces the provider and connects the "fs" server in-process
func useFakes(t *testing.T) {
	llmfactory.NewProvider = func(_ context.Context, cfg *llmfactory.ProviderConfig) (llms.Provider, error) {
		return &echoProvider{name: cfg.Name}, nil
	}
	servers := map[string]*mcptest.Server{
		"fs": mcptest.NewServer("fs").
			AddTextTool("read_file", "Reads a file", "", func(args map[string]any) (string, error) {
				return "content", nil
			}),
	}
	newAgent = func(cfg *agent.Config, opts ...agent.Option) *agent.Agent {
		return agent.New(cfg, append(opts, agent.WithDialer(mcptest.Dialer(servers)))...)
	}
	color.NoColor = true
	t.Cleanup(func() {
		llmfactory.NewProvider = llmfactory.CreateProvider
		newAgent = agent.New
	})
}

func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "opsagent",
		SilenceUsage: true,
		RunE:         RunChat,
	}
	Configure(root)
	root.AddCommand(NewChatCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewStatusCmd())
	return root
}

// executeCommand runs a cobra command with the given input and args and captures stdout/stderr.
func executeCommand(root *cobra.Command, input string, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetIn(strings.NewReader(input))
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

func TestChat(t *testing.T) {
	useFakes(t)

	tcs := []struct {
		name   string
		args   []string
		input  string
		exp    []string
		notExp []string
	}{
		{
			name:  "exit",
			args:  []string{"chat", "-c", "testdata/config.yaml"},
			input: "hello\nexit\nnot sent\n",
			exp: []string{
				"DevOps AI Agent",
				"Provider: Gemini (echo-model)",
				"MCP servers connected: 1",
				"echo: hello",
				"Goodbye!",
			},
			notExp: []string{"echo: not sent"},
		},
		{
			name:  "default command and EOF",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "ask what is up\n\nQUIT",
			exp:   []string{"echo: what is up"},
		},
		{
			name:  "EOF",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "hello",
			exp:   []string{"echo: hello", "Exiting due to EOF"},
		},
		{
			name:  "commands",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "help\ntools\nstatus\nclear\nask\n",
			exp: []string{
				"ask <question>",
				"execute_command",
				"mcp_fs_read_file",
				"mcp_server_status",
				"PROVIDER",
				"Gemini",
				"Filesystem",
				"Conversation history cleared",
				"Usage: ask <question>",
				"Exiting due to EOF",
			},
			notExp: []string{"broken-server", "off-server"},
		},
		{
			name:  "confirmed tool call",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "run echo hi\ny\n",
			exp: []string{
				`AI wants to use tool: execute_command with args: {"command":"echo hi"}`,
				"Allow this action? [y/N]",
				"Executing tool execute_command",
				"done: STDOUT:\nhi",
			},
			notExp: []string{"Input:", "unsafe mode"},
		},
		{
			name:  "declined tool call",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "run echo hi\nno\nhello\n",
			exp: []string{
				"Allow this action? [y/N]",
				`done: {"error":"tool execution cancelled by user"}`,
				"echo: hello",
			},
			notExp: []string{"STDOUT"},
		},
		{
			name:  "EOF declines tool call",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "run echo hi\n",
			exp: []string{
				`done: {"error":"tool execution cancelled by user"}`,
				"Exiting due to EOF",
			},
		},
		{
			name:   "unsafe mode from config",
			args:   []string{"-c", "testdata/unsafe.yaml"},
			input:  "run echo hi\n",
			exp:    []string{"Running in unsafe mode", "done: STDOUT:\nhi"},
			notExp: []string{"Allow this action"},
		},
		{
			name:  "unsafe verbose tool call",
			args:  []string{"-c", "testdata/config.yaml", "--verbose", "--unsafe"},
			input: "run echo hi\n",
			exp: []string{
				"Running in unsafe mode",
				"Executing tool execute_command",
				`Input: {"command":"echo hi"}`,
				"done: STDOUT:\nhi",
			},
			notExp: []string{"Allow this action"},
		},
		{
			name:  "failed turn continues",
			args:  []string{"-c", "testdata/config.yaml"},
			input: "fail\nhello\n",
			exp: []string{
				"Error: gemini: empty response from model",
				"echo: hello",
			},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			out, _, err := executeCommand(newTestRoot(), tc.input, tc.args...)
			require.NoError(t, err)
			for _, exp := range tc.exp {
				assert.Contains(t, out, exp)
			}
			for _, exp := range tc.notExp {
				assert.NotContains(t, out, exp)
			}
		})
	}
}

func TestTools(t *testing.T) {
	useFakes(t)

	out, _, err := executeCommand(newTestRoot(), "", "tools", "-c", "testdata/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Execute a shell command on the system")
	assert.Contains(t, out, "mcp_fs_read_file")

	out, _, err = executeCommand(newTestRoot(), "", "tools", "-c", "testdata/config.yaml", "-o", "json")
	require.NoError(t, err)
	var list []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.NotEmpty(t, list)
	assert.Equal(t, "execute_command", list[0]["name"])

	out, _, err = executeCommand(newTestRoot(), "", "tools", "-c", "testdata/config.yaml", "-o", "yaml")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &list))
	assert.Equal(t, "execute_command", list[0]["name"])

	_, _, err = executeCommand(newTestRoot(), "", "tools", "-c", "testdata/config.yaml", "-o", "xml")
	assert.EqualError(t, err, `unsupported output format "xml"`)
}

func TestStatus(t *testing.T) {
	useFakes(t)

	out, _, err := executeCommand(newTestRoot(), "", "status", "-c", "testdata/config.yaml", "-o", "json")
	require.NoError(t, err)

	var st Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, []llmfactory.ProviderStatus{
		{Name: "Gemini", Enabled: true, IsDefault: true},
		{Name: "OpenAI", Enabled: false, IsDefault: false},
	}, st.Providers)
	assert.Equal(t, []mcp.ServerStatus{
		{ID: "fs", Name: "Filesystem", Command: "fs-server", Args: []string{"/tmp"}, Enabled: true, Connected: true},
	}, st.Servers)

	out, _, err = executeCommand(newTestRoot(), "", "status", "-c", "testdata/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "SERVER")
	assert.Contains(t, out, "fs-server /tmp")
}

func TestStartAgent_Errors(t *testing.T) {
	useFakes(t)

	tcs := []struct {
		name   string
		args   []string
		expErr string
	}{
		{name: "missing config", args: []string{"status", "-c", "testdata/missing.yaml"}},
		{name: "no provider", args: []string{"status", "-c", "testdata/no_provider.yaml"}, expErr: "failed to initialize agent"},
		{name: "log level", args: []string{"status", "-c", "testdata/config.yaml", "--log-level", "loud"}, expErr: `invalid log level "loud"`},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := executeCommand(newTestRoot(), "", tc.args...)
			require.Error(t, err)
			if tc.expErr != "" {
				assert.Contains(t, err.Error(), tc.expErr)
			}
		})
	}
}

func TestConfirmer(t *testing.T) {
	color.NoColor = true
	tcs := []struct {
		input string
		exp   bool
	}{
		{input: "y\n", exp: true},
		{input: " YES \n", exp: true},
		{input: "n\n", exp: false},
		{input: "\n", exp: false},
		{input: "sure\n", exp: false},
		{input: "", exp: false},
	}
	for _, tc := range tcs {
		var out bytes.Buffer
		c := newConfirmer(newScanner(strings.NewReader(tc.input)), &out)
		ok, err := c.Confirm(context.Background(), "kubectl", map[string]any{"command": "delete pod web"})
		require.NoError(t, err)
		assert.Equal(t, tc.exp, ok, "input %q", tc.input)
		assert.Contains(t, out.String(), `AI wants to use tool: kubectl with args: {"command":"delete pod web"}`)
	}
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\nb\n\tc\n"))
}

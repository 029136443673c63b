package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/mcp/mcptest"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/opsagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProxy(t *testing.T) {
	t.Parallel()

	m := mcp.NewManager(nil)
	tcs := []struct {
		name        string
		inputSchema string
		expRequired []string
		expProps    int
	}{
		{name: "schema", inputSchema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`, expRequired: []string{"path"}, expProps: 1},
		{name: "no type", inputSchema: `{"properties":{"path":{"type":"string"}}}`, expProps: 1},
		{name: "empty", inputSchema: ``},
		{name: "null", inputSchema: `null`},
		{name: "unparseable", inputSchema: `{"type":["object","null"]}`},
		{name: "not object", inputSchema: `{"type":"string"}`},
		{name: "bad pattern", inputSchema: `{"type":"object","properties":{"path":{"type":"string","pattern":"["}},"required":["path"]}`},
		{name: "unknown dialect", inputSchema: `{"$schema":"https://example.com/custom","type":"object","required":["path"]}`},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			p := mcp.NewProxy(m, mcp.ToolDescriptor{
				ServerID:   "fs",
				ServerName: "Filesystem",
				ToolDefinition: mcp.ToolDefinition{
					Name:        "read_file",
					Description: "Reads a file",
					InputSchema: json.RawMessage(tc.inputSchema),
				},
			})
			assert.Equal(t, "mcp_fs_read_file", p.Name())
			assert.Equal(t, "[Filesystem] Reads a file", p.Description())
			assert.Equal(t, "fs", p.ServerID())
			assert.Nil(t, p.Output())

			params := p.Parameters()
			require.NotNil(t, params)
			assert.Equal(t, "object", params.Type)
			assert.Equal(t, tc.expRequired, params.Required)
			if tc.expProps > 0 {
				require.NotNil(t, params.Properties)
				assert.Equal(t, tc.expProps, params.Properties.Len())
			}
		})
	}
}

func TestProxy_Call(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := mcp.NewManager(mcptest.Dialer(map[string]*mcptest.Server{
		"test": newTestServer("test"),
	}))
	t.Cleanup(func() {
		_ = m.DisconnectAll(context.Background())
	})
	require.NoError(t, m.Connect(ctx, "test", &mcp.ServerConfig{Name: "Test", Command: "test"}))

	proxies := mcp.ProxyTools(ctx, m)
	require.Len(t, proxies, 2)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(proxies...))

	echo, ok := registry.Find("mcp_test_echo")
	require.True(t, ok)
	assert.Equal(t, "[Test] Echoes the input", echo.Description())

	args := map[string]any{"input": "hello"}
	require.NoError(t, schema.Validate(echo.Parameters(), args))
	assert.Error(t, schema.Validate(echo.Parameters(), map[string]any{}))

	res, err := echo.Call(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, []mcp.Content{{Type: "text", Text: "echo:hello"}}, res)

	fail, ok := registry.Find("mcp_test_fail")
	require.True(t, ok)
	_, err = fail.Call(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, "MCP tool fail failed: permission denied", err.Error())
	assert.True(t, errors.Is(err, mcp.ErrUpstreamTool))

	require.NoError(t, m.Disconnect(ctx, "test"))
	_, err = echo.Call(ctx, args)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrServerNotConnected))
	assert.Equal(t, "MCP tool echo failed: server test: MCP server is not connected", err.Error())
}

func TestProxyTools_SameToolTwoServers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := mcp.NewManager(mcptest.Dialer(map[string]*mcptest.Server{
		"one": newTestServer("one"),
		"two": newTestServer("two"),
	}))
	t.Cleanup(func() {
		_ = m.DisconnectAll(context.Background())
	})
	require.NoError(t, m.Connect(ctx, "one", &mcp.ServerConfig{Command: "one"}))
	require.NoError(t, m.Connect(ctx, "two", &mcp.ServerConfig{Command: "two"}))

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(mcp.ProxyTools(ctx, m)...))
	assert.Equal(t, []string{"mcp_one_echo", "mcp_one_fail", "mcp_two_echo", "mcp_two_fail"}, registry.Names())

	// registering the same server again collides
	err := registry.Register(mcp.ProxyTools(ctx, m)...)
	assert.True(t, errors.Is(err, tools.ErrDuplicateToolName))
}

package mcp_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/mcp/mcptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(name string) *mcptest.Server {
	return mcptest.NewServer(name).
		AddTextTool("echo", "Echoes the input",
			`{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`,
			func(args map[string]any) (string, error) {
				input, _ := args["input"].(string)
				return "echo:" + input, nil
			}).
		AddTextTool("fail", "Always fails", "", func(map[string]any) (string, error) {
			return "", errors.New("permission denied")
		}).
		AddResource(mcp.Resource{URI: "file:///etc/hosts", Name: "hosts", MimeType: "text/plain"}, "127.0.0.1 localhost").
		AddPrompt(mcp.Prompt{
			Name:      "review",
			Arguments: []mcp.PromptArgument{{Name: "file", Required: true}},
		}, func(args map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{{
					Role:    "user",
					Content: mcp.Content{Type: "text", Text: "review " + args["file"]},
				}},
			}, nil
		})
}

func TestClient(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestServer("test-server")
	client, err := server.Client("test")
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, mcp.ProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, "test-server", res.ServerInfo.Name)
	assert.Equal(t, res, client.ServerInfo())
	assert.Equal(t, mcp.ClientName, server.ClientInfo().Name)
	assert.Eventually(t, server.Initialized, 5*time.Second, 10*time.Millisecond)

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`, string(tools[0].InputSchema))

	result, err := client.CallTool(ctx, "echo", map[string]any{"input": "hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "echo:hello", result.Text())

	result, err = client.CallTool(ctx, "fail", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "permission denied", result.Text())

	_, err = client.CallTool(ctx, "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool: missing")

	resources, err := client.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	contents, err := client.ReadResource(ctx, "file:///etc/hosts")
	require.NoError(t, err)
	require.Len(t, contents.Contents, 1)
	assert.Equal(t, "127.0.0.1 localhost", contents.Contents[0].Text)

	prompts, err := client.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.True(t, prompts[0].Arguments[0].Required)
	rendered, err := client.GetPrompt(ctx, "review", map[string]string{"file": "main.go"})
	require.NoError(t, err)
	require.Len(t, rendered.Messages, 1)
	assert.Equal(t, "review main.go", rendered.Messages[0].Content.Text)

	require.NoError(t, client.Close())
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done was not closed")
	}
	_, err = client.ListTools(ctx)
	assert.Error(t, err)
}

func TestClient_Pagination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := mcptest.NewServer("paged")
	server.PageSize = 2
	for i := range 5 {
		server.AddTextTool("tool"+strconv.Itoa(i), "", "", func(map[string]any) (string, error) {
			return "ok", nil
		})
	}

	client, err := server.Client("paged")
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Initialize(ctx)
	require.NoError(t, err)

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 5)
	for i, tool := range tools {
		assert.Equal(t, "tool"+strconv.Itoa(i), tool.Name)
	}
	// 3 pages
	assert.Equal(t, 3, server.Requests())
}

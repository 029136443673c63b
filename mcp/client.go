package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp/internal/protocol"
	"github.com/effective-security/opsagent/mcp/transport"
	"github.com/effective-security/opsagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

const (
	// ProtocolVersion is the MCP protocol version requested by the client
	ProtocolVersion = "2024-11-05"
	// ClientName is the name the client reports to the servers
	ClientName = "opsagent"
	// ClientVersion is the version the client reports to the servers
	ClientVersion = "1.0.0"

	// maxPages limits the number of pages of a single list request
	maxPages = 100
)

// Implementation describes the client or the server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of the handshake
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// ToolDefinition is a tool exposed by the server
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is a resource exposed by the server
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes an argument of the prompt
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a prompt template exposed by the server
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ResourceContents is the content of a resource
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Content is a part of a tool result or a prompt message
type Content struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// CallToolResult is the result of a tool call
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the text parts of the result joined with new lines
func (r *CallToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type != "text" {
			continue
		}
		if text := strings.TrimSpace(c.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// ReadResourceResult is the result of resources/read
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptMessage is a message of the rendered prompt
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the result of prompts/get
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Client is a MCP client session with a single server
type Client struct {
	serverID string
	timeout  time.Duration
	tr       transport.Transport
	protocol *protocol.Protocol
	done     chan struct{}
	doneOnce sync.Once
	server   *InitializeResult
}

// NewClient returns the client over the transport,
// Initialize must be called before other requests.
// The timeout applies to every request,
// protocol.DefaultRequestTimeout is used when it is zero.
func NewClient(serverID string, tr transport.Transport, timeout time.Duration) *Client {
	c := &Client{
		serverID: serverID,
		timeout:  timeout,
		tr:       tr,
		protocol: protocol.NewProtocol(&protocol.ProtocolOptions{RequestTimeout: timeout}),
		done:     make(chan struct{}),
	}
	c.protocol.OnClose = func() {
		c.doneOnce.Do(func() { close(c.done) })
	}
	c.protocol.OnError = func(err error) {
		logger.KV(xlog.DEBUG, "server", serverID, "err", err.Error())
	}
	return c
}

// Initialize connects the transport and performs the handshake
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	if err := c.protocol.Connect(c.tr); err != nil {
		return nil, errors.Wrap(err, "failed to connect transport")
	}

	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo": Implementation{
			Name:    ClientName,
			Version: ClientVersion,
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
	}

	res := new(InitializeResult)
	if err := c.call(ctx, "initialize", params, res); err != nil {
		return nil, errors.WithMessage(err, "initialize failed")
	}
	if err := c.protocol.Notification("notifications/initialized", nil); err != nil {
		return nil, errors.Wrap(err, "failed to send initialized notification")
	}

	c.server = res
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", c.serverID,
		"name", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	return res, nil
}

// ServerInfo returns the result of the handshake, nil before Initialize
func (c *Client) ServerInfo() *InitializeResult {
	return c.server
}

// Done is closed when the connection is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection
func (c *Client) Close() error {
	return c.protocol.Close()
}

// ListTools returns all tools of the server
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var list []ToolDefinition
	err := c.list(ctx, "tools/list", func(p *listPage) {
		list = append(list, p.Tools...)
	})
	return list, err
}

// ListResources returns all resources of the server
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var list []Resource
	err := c.list(ctx, "resources/list", func(p *listPage) {
		list = append(list, p.Resources...)
	})
	return list, err
}

// ListPrompts returns all prompts of the server
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var list []Prompt
	err := c.list(ctx, "prompts/list", func(p *listPage) {
		list = append(list, p.Prompts...)
	})
	return list, err
}

// CallTool calls the tool.
// A result with IsError set is returned without error,
// the caller decides how to report it.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	res := new(CallToolResult)
	if err := c.call(ctx, "tools/call", params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ReadResource reads the resource
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	res := new(ReadResourceResult)
	if err := c.call(ctx, "resources/read", map[string]any{"uri": uri}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetPrompt renders the prompt with the arguments
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	params := map[string]any{
		"name": name,
	}
	if len(args) > 0 {
		params["arguments"] = args
	}
	res := new(GetPromptResult)
	if err := c.call(ctx, "prompts/get", params, res); err != nil {
		return nil, err
	}
	return res, nil
}

type listPage struct {
	Tools      []ToolDefinition `json:"tools"`
	Resources  []Resource       `json:"resources"`
	Prompts    []Prompt         `json:"prompts"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// list follows nextCursor until the last page
func (c *Client) list(ctx context.Context, method string, collect func(*listPage)) error {
	cursor := ""
	for range maxPages {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}

		page := new(listPage)
		if err := c.call(ctx, method, params, page); err != nil {
			return err
		}
		collect(page)

		if page.NextCursor == "" {
			return nil
		}
		if page.NextCursor == cursor {
			return errors.Newf("%s: server returned the same cursor %q", method, cursor)
		}
		cursor = page.NextCursor
	}
	return errors.Newf("%s: too many pages", method)
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	started := time.Now()
	raw, err := c.protocol.Request(ctx, method, params, &protocol.RequestOptions{Timeout: c.timeout})
	metricskey.PerfMCPCall.MeasureSince(started, c.serverID, method)
	if err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, c.serverID, method)
		return errors.WithMessagef(err, "%s", method)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err = json.Unmarshal(raw, result); err != nil {
		return errors.Wrapf(err, "%s: failed to unmarshal result", method)
	}
	return nil
}

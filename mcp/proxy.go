package mcp

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

// Proxy is a local tool that forwards the calls to the remote tool
type Proxy struct {
	manager     *Manager
	serverID    string
	toolName    string
	name        string
	description string
	params      *jsonschema.Schema
}

var _ tools.Tool = (*Proxy)(nil)

// ProxyName returns the name of the local tool for the remote tool
func ProxyName(serverID, toolName string) string {
	return "mcp_" + serverID + "_" + toolName
}

// NewProxy returns the local tool for the remote tool
func NewProxy(manager *Manager, desc ToolDescriptor) *Proxy {
	return &Proxy{
		manager:     manager,
		serverID:    desc.ServerID,
		toolName:    desc.Name,
		name:        ProxyName(desc.ServerID, desc.Name),
		description: "[" + desc.ServerName + "] " + desc.Description,
		params:      inputSchema(desc),
	}
}

// inputSchema returns the remote schema,
// or the object schema accepting any properties if it can not be compiled.
// The remote server validates the arguments anyway.
func inputSchema(desc ToolDescriptor) *jsonschema.Schema {
	raw := strings.TrimSpace(string(desc.InputSchema))
	if raw == "" || raw == "null" {
		return schema.Object()
	}
	s, err := schema.Parse(desc.InputSchema)
	if err != nil {
		logger.KV(xlog.WARNING,
			"status", "invalid_input_schema",
			"server", desc.ServerID,
			"tool", desc.Name,
			"err", err.Error(),
		)
		return schema.Object()
	}
	if s.Type == "" {
		s.Type = "object"
	}
	if s.Type != "object" {
		logger.KV(xlog.WARNING,
			"status", "invalid_input_schema",
			"server", desc.ServerID,
			"tool", desc.Name,
			"type", s.Type,
		)
		return schema.Object()
	}
	if _, err = schema.Compile(s); err != nil {
		logger.KV(xlog.WARNING,
			"status", "invalid_input_schema",
			"server", desc.ServerID,
			"tool", desc.Name,
			"err", err.Error(),
		)
		return schema.Object()
	}
	return s
}

// Name returns mcp_<server>_<tool>
func (p *Proxy) Name() string {
	return p.name
}

// Description returns the remote description prefixed with the server name
func (p *Proxy) Description() string {
	return p.description
}

// Parameters returns the remote input schema
func (p *Proxy) Parameters() *jsonschema.Schema {
	return p.params
}

// Output returns nil, the remote tools have no output contract
func (p *Proxy) Output() *jsonschema.Schema {
	return nil
}

// ServerID returns the id of the server hosting the tool
func (p *Proxy) ServerID() string {
	return p.serverID
}

// Call calls the remote tool and returns its content list
func (p *Proxy) Call(ctx context.Context, args map[string]any) (any, error) {
	res, err := p.manager.CallTool(ctx, p.serverID, p.toolName, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "MCP tool %s failed", p.toolName)
	}
	return res, nil
}

// ProxyTools returns the proxies for the tools of all connected servers
func ProxyTools(ctx context.Context, manager *Manager) []tools.Tool {
	descriptors := manager.ListTools(ctx)
	list := make([]tools.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		list = append(list, NewProxy(manager, desc))
	}
	return list
}

package mcp

import (
	"context"

	"github.com/effective-security/opsagent/tools"
)

// Names of the management tools
const (
	ToolListTools     = "mcp_list_tools"
	ToolListResources = "mcp_list_resources"
	ToolListPrompts   = "mcp_list_prompts"
	ToolServerStatus  = "mcp_server_status"
)

// NoInput is the input of the tools without parameters
type NoInput struct{}

// ToolInfo describes a remote tool
type ToolInfo struct {
	Server      string `json:"server" yaml:"server"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// ListToolsOutput is the output of mcp_list_tools
type ListToolsOutput struct {
	Tools []ToolInfo `json:"tools" yaml:"tools"`
	Total int        `json:"total" yaml:"total"`
}

// ResourceInfo describes a remote resource
type ResourceInfo struct {
	Server      string `json:"server" yaml:"server"`
	Name        string `json:"name" yaml:"name"`
	URI         string `json:"uri" yaml:"uri"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

// ListResourcesOutput is the output of mcp_list_resources
type ListResourcesOutput struct {
	Resources []ResourceInfo `json:"resources" yaml:"resources"`
	Total     int            `json:"total" yaml:"total"`
}

// PromptInfo describes a remote prompt
type PromptInfo struct {
	Server      string           `json:"server" yaml:"server"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// ListPromptsOutput is the output of mcp_list_prompts
type ListPromptsOutput struct {
	Prompts []PromptInfo `json:"prompts" yaml:"prompts"`
	Total   int          `json:"total" yaml:"total"`
}

// ServerStatusOutput is the output of mcp_server_status
type ServerStatusOutput struct {
	Servers []ServerStatus `json:"servers" yaml:"servers"`
	Total   int            `json:"total" yaml:"total"`
}

// ManagementTools returns the tools to inspect the connected servers
func ManagementTools(manager *Manager) ([]tools.Tool, error) {
	listTools, err := tools.New(ToolListTools,
		"List all available tools from connected MCP servers",
		func(ctx context.Context, _ *NoInput) (*ListToolsOutput, error) {
			list := manager.ListTools(ctx)
			res := &ListToolsOutput{
				Tools: make([]ToolInfo, 0, len(list)),
				Total: len(list),
			}
			for _, t := range list {
				res.Tools = append(res.Tools, ToolInfo{
					Server:      t.ServerName,
					Name:        t.Name,
					Description: t.Description,
				})
			}
			return res, nil
		})
	if err != nil {
		return nil, err
	}

	listResources, err := tools.New(ToolListResources,
		"List all available resources from connected MCP servers",
		func(ctx context.Context, _ *NoInput) (*ListResourcesOutput, error) {
			list := manager.ListResources(ctx)
			res := &ListResourcesOutput{
				Resources: make([]ResourceInfo, 0, len(list)),
				Total:     len(list),
			}
			for _, r := range list {
				res.Resources = append(res.Resources, ResourceInfo{
					Server:      r.ServerName,
					Name:        r.Name,
					URI:         r.URI,
					Description: r.Description,
					MimeType:    r.MimeType,
				})
			}
			return res, nil
		})
	if err != nil {
		return nil, err
	}

	listPrompts, err := tools.New(ToolListPrompts,
		"List all available prompts from connected MCP servers",
		func(ctx context.Context, _ *NoInput) (*ListPromptsOutput, error) {
			list := manager.ListPrompts(ctx)
			res := &ListPromptsOutput{
				Prompts: make([]PromptInfo, 0, len(list)),
				Total:   len(list),
			}
			for _, p := range list {
				res.Prompts = append(res.Prompts, PromptInfo{
					Server:      p.ServerName,
					Name:        p.Name,
					Description: p.Description,
					Arguments:   p.Arguments,
				})
			}
			return res, nil
		})
	if err != nil {
		return nil, err
	}

	serverStatus, err := tools.New(ToolServerStatus,
		"Show status of connected MCP servers",
		func(_ context.Context, _ *NoInput) (*ServerStatusOutput, error) {
			list := manager.Servers()
			return &ServerStatusOutput{
				Servers: list,
				Total:   len(list),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	return []tools.Tool{listTools, listResources, listPrompts, serverStatus}, nil
}

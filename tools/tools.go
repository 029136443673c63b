package tools

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Tool is a tool for the llm agent to interact with the environment.
type Tool interface {
	// Name returns the name of the Tool, unique in the Registry.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the input contract of the tool.
	Parameters() *jsonschema.Schema
	// Output returns the output contract of the tool,
	// nil means any JSON value is accepted.
	Output() *jsonschema.Schema

	// Call executes the tool with arguments that already satisfy Parameters.
	// The returned value must be JSON serializable.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolSet is a read-only view of the tools available for a turn.
type ToolSet interface {
	List() []Tool
	Find(name string) (Tool, bool)
}

// Callback receives tool execution events.
// The callbacks may be invoked concurrently.
type Callback interface {
	OnToolStart(ctx context.Context, tool Tool, input string)
	OnToolEnd(ctx context.Context, tool Tool, input string, output string)
	OnToolError(ctx context.Context, tool Tool, input string, err error)
	OnToolNotFound(ctx context.Context, name string)
}

// Description describes a tool for listing
type Description struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// GetDescriptions returns the names and descriptions of the tools
func GetDescriptions(list ...Tool) []Description {
	res := make([]Description, 0, len(list))
	for _, tool := range list {
		res = append(res, Description{
			Name:        tool.Name(),
			Description: tool.Description(),
		})
	}
	return res
}

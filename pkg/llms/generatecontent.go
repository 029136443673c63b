package llms

import (
	"fmt"

	"github.com/effective-security/opsagent/tools"
)

// Role is the type of chat message.
type Role string

const (
	// RoleAI is a message sent by an AI.
	RoleAI Role = "assistant"
	// RoleHuman is a message sent by a human.
	RoleHuman Role = "user"
	// RoleSystem is a message sent by the system.
	RoleSystem Role = "system"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// HumanMessage returns a message from the user
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AIMessage returns a message from the model
func AIMessage(content string) Message {
	return Message{Role: RoleAI, Content: content}
}

// Request is the input of a turn. It must not be modified during the turn.
type Request struct {
	// SystemPrompt is the instructions for the model.
	SystemPrompt string
	// Messages is the ordered conversation history, ending with the user message.
	Messages []Message
	// Tools is the set of tools the model may call, nil means no tools.
	Tools tools.ToolSet
	// Callback is an optional handler of tool events.
	Callback tools.Callback
}

// ToolList returns the tools of the request
func (r *Request) ToolList() []tools.Tool {
	if r == nil || r.Tools == nil {
		return nil
	}
	return r.Tools.List()
}

// Response is the result of a turn.
type Response struct {
	// Content is the final text of the model.
	Content string
	// ToolResults is the results of the tool calls made during the turn.
	ToolResults []ToolResult
	// InputTokens is the total of input tokens of all completion calls.
	InputTokens int64
	// OutputTokens is the total of output tokens of all completion calls.
	OutputTokens int64
}

// FunctionCall is the name and arguments of a function call.
type FunctionCall struct {
	// The name of the function to call.
	Name string `json:"name"`
	// The arguments to pass to the function, as a JSON string.
	Arguments string `json:"arguments"`
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call.
	ID string `json:"id"`
	// Type is the type of the tool call. Typically, this would be "function".
	Type string `json:"type"`
	// FunctionCall is the function call to be executed.
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

// Name returns the name of the function to call
func (tc ToolCall) Name() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// Arguments returns the raw JSON arguments
func (tc ToolCall) Arguments() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Arguments
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name(), tc.Arguments())
}

// Completion is the result of a single completion call.
type Completion struct {
	// Content is the textual content of a response.
	Content string `json:"content"`
	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason"`
	// ToolCalls is a list of tool calls the model asks to invoke.
	ToolCalls []ToolCall `json:"tool_calls"`
	// Model is the model that produced the completion.
	Model string `json:"model"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

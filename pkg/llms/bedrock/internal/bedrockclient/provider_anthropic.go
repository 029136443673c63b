package bedrockclient

import (
	"encoding/json"
)

// Ref: https://docs.aws.amazon.com/bedrock/latest/userguide/model-parameters-anthropic-claude-messages.html
// Also: https://docs.anthropic.com/claude/reference/messages_post

// AnthropicContent is a single content block of a message.
type AnthropicContent struct {
	// The type of the content. Required.
	// One of: "text", "tool_use", "tool_result"
	Type string `json:"type"`
	// The text content. Required if type is "text"
	Text string `json:"text,omitempty"`
	// Tool use fields
	ID    string          `json:"id,omitempty"`    // Required if type is "tool_use"
	Name  string          `json:"name,omitempty"`  // Required if type is "tool_use"
	Input json.RawMessage `json:"input,omitempty"` // Required if type is "tool_use"
	// Tool result fields
	ToolUseID string `json:"tool_use_id,omitempty"` // Required if type is "tool_result"
	Content   string `json:"content,omitempty"`     // Required if type is "tool_result"
	IsError   bool   `json:"is_error,omitempty"`    // Optional for type "tool_result"
}

// AnthropicMessage is a single message in the input.
type AnthropicMessage struct {
	// The role of the message. Required
	// One of: ["user", "assistant"]
	// For system prompt, use the system field in the input
	Role string `json:"role"`
	// The content of the message. Required
	Content []AnthropicContent `json:"content"`
}

// AnthropicTool represents a tool that can be used by the model
type AnthropicTool struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	InputSchema AnthropicInputSchema `json:"input_schema"`
}

// AnthropicInputSchema represents the JSON schema for tool input
type AnthropicInputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// AnthropicToolChoice controls how the model uses the tools
type AnthropicToolChoice struct {
	// One of: "auto", "any", "tool", "none"
	Type string `json:"type"`
}

// AnthropicRequest is the input to the model.
type AnthropicRequest struct {
	// The version of the model to use. Required
	AnthropicVersion string `json:"anthropic_version"`
	// The maximum number of tokens to generate per result. Required
	MaxTokens int `json:"max_tokens"`
	// The system prompt to use. Optional
	System string `json:"system,omitempty"`
	// The messages to use. Required
	Messages []AnthropicMessage `json:"messages"`
	// The amount of randomness injected into the response. Optional, default = 1
	Temperature *float64 `json:"temperature,omitempty"`
	// Tools to use. Optional
	Tools []AnthropicTool `json:"tools,omitempty"`
	// ToolChoice to use. Optional, default = auto
	ToolChoice *AnthropicToolChoice `json:"tool_choice,omitempty"`
}

// AnthropicOutputContent represents a content block in the output
type AnthropicOutputContent struct {
	Type string `json:"type"`
	// Text content fields
	Text string `json:"text,omitempty"`
	// Tool use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AnthropicResponse is the generated output.
type AnthropicResponse struct {
	// Type of the content.
	// For messages, it is "message"
	Type string `json:"type"`
	// Conversational role of the generated message.
	// This will always be "assistant".
	Role  string `json:"role"`
	Model string `json:"model"`
	// This is an array of content blocks, each of which has a type that determines its shape.
	// Can be "text" or "tool_use".
	Content []AnthropicOutputContent `json:"content"`
	// The reason for the completion of the generation.
	// One of: ["end_turn", "max_tokens", "stop_sequence", "tool_use"]
	StopReason string `json:"stop_reason"`
	// Which custom stop sequence was matched, if any.
	StopSequence string `json:"stop_sequence"`
	Usage        struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Finish reason for the completion of the generation.
const (
	AnthropicCompletionReasonEndTurn      = "end_turn"
	AnthropicCompletionReasonMaxTokens    = "max_tokens"
	AnthropicCompletionReasonStopSequence = "stop_sequence"
	AnthropicCompletionReasonToolUse      = "tool_use"
)

// The latest version of the model.
const (
	AnthropicLatestVersion = "bedrock-2023-05-31"
)

// Role attribute for the anthropic message.
const (
	AnthropicRoleUser      = "user"
	AnthropicRoleAssistant = "assistant"
)

// Type attribute for the anthropic message.
const (
	AnthropicMessageTypeText       = "text"
	AnthropicMessageTypeToolUse    = "tool_use"
	AnthropicMessageTypeToolResult = "tool_result"
)

// Tool choice types.
const (
	AnthropicToolChoiceAuto = "auto"
	AnthropicToolChoiceNone = "none"
)

// TextContent returns a text block
func TextContent(text string) AnthropicContent {
	return AnthropicContent{
		Type: AnthropicMessageTypeText,
		Text: text,
	}
}

package anthropic_test

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/llms/anthropic"
	"github.com/effective-security/opsagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	responses []string
	err       error
	calls     []sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.calls = append(f.calls, body)
	if f.err != nil {
		return nil, f.err
	}
	res := &sdk.Message{}
	if err := json.Unmarshal([]byte(f.responses[len(f.calls)-1]), res); err != nil {
		return nil, err
	}
	return res, nil
}

const textMessage = `{
	"id": "msg_2",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-20250514",
	"stop_reason": "end_turn",
	"content": [{"type": "text", "text": "The /tmp folder has file1 and file2."}],
	"usage": {"input_tokens": 120, "output_tokens": 14}
}`

const toolUseMessage = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-20250514",
	"stop_reason": "tool_use",
	"content": [
		{"type": "text", "text": "Let me check."},
		{"type": "tool_use", "id": "toolu_1", "name": "execute_command", "input": {"command": "ls /tmp"}},
		{"type": "tool_use", "id": "toolu_2", "name": "get_weather", "input": {}}
	],
	"usage": {"input_tokens": 100, "output_tokens": 40}
}`

type commandRequest struct {
	Command string `json:"command" jsonschema:"description=The shell command to execute"`
}

func newRegistry(t *testing.T) *tools.Registry {
	tool, err := tools.New("execute_command", "Executes a shell command",
		func(_ context.Context, in *commandRequest) (string, error) {
			return "STDOUT:\nfile1\nfile2\n", nil
		})
	require.NoError(t, err)
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tool))
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []llms.Option
		err  error
	}{
		{name: "missing key", err: llms.ErrProviderUninitialized},
		{name: "placeholder key", opts: []llms.Option{llms.WithAPIKey(llms.PlaceholderAPIKey)}, err: llms.ErrProviderUninitialized},
		{name: "too hot", opts: []llms.Option{llms.WithAPIKey("key"), llms.WithTemperature(1.5)}, err: llms.ErrProviderConfigInvalid},
		{name: "negative tokens", opts: []llms.Option{llms.WithAPIKey("key"), llms.WithMaxTokens(-1)}, err: llms.ErrProviderConfigInvalid},
		{name: "valid", opts: []llms.Option{llms.WithAPIKey("key")}},
		{name: "custom base URL", opts: []llms.Option{llms.WithAPIKey("key"), llms.WithEndpoint("https://custom.anthropic.com")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := anthropic.New(tc.opts...)
			if tc.err != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.err), err.Error())
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "anthropic", p.Name())
			assert.Equal(t, anthropic.DefaultModel, p.Model())
			assert.Equal(t, llms.ProviderAnthropic, p.Type())
			assert.Nil(t, p.Options().Temperature)
			assert.Equal(t, anthropic.DefaultMaxTokens, p.Options().MaxTokens)
		})
	}
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		messages     []llms.Message
		wantMessages int
		wantSystem   string
		errContains  string
	}{
		{
			name:     "empty messages",
			messages: []llms.Message{},
		},
		{
			name: "multiple system messages",
			messages: []llms.Message{
				{Role: llms.RoleSystem, Content: "You are a helpful assistant."},
				{Role: llms.RoleSystem, Content: "Always be polite and respectful."},
			},
			wantSystem: "You are a helpful assistant.\nAlways be polite and respectful.",
		},
		{
			name: "conversation",
			messages: []llms.Message{
				llms.HumanMessage("Hello, how are you?"),
				llms.AIMessage("Fine"),
				llms.HumanMessage("List pods"),
			},
			wantMessages: 3,
		},
		{
			name:        "unsupported role",
			messages:    []llms.Message{{Role: "function", Content: "x"}},
			errContains: `anthropic: role "function" not supported`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			messages, system, err := anthropic.ProcessMessages(tc.messages)
			if tc.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Len(t, messages, tc.wantMessages)
			assert.Equal(t, tc.wantSystem, system)
		})
	}
}

func TestToTools(t *testing.T) {
	t.Parallel()

	assert.Nil(t, anthropic.ToTools(nil))

	list := anthropic.ToTools(newRegistry(t).List())
	require.Len(t, list, 1)
	require.NotNil(t, list[0].OfTool)
	assert.Equal(t, "execute_command", list[0].OfTool.Name)
	assert.Equal(t, "Executes a shell command", list[0].OfTool.Description.Value)
	assert.Equal(t, []string{"command"}, list[0].OfTool.InputSchema.Required)
	assert.Contains(t, list[0].OfTool.InputSchema.Properties, "command")
}

func TestConverse_NoTools(t *testing.T) {
	t.Parallel()

	fake := &fakeMessages{responses: []string{textMessage}}
	p, err := anthropic.NewWithClient(fake, llms.WithAPIKey("key"), llms.WithTemperature(0.3))
	require.NoError(t, err)

	resp, err := p.Converse(context.Background(), &llms.Request{
		SystemPrompt: "You are a DevOps assistant.",
		Messages:     []llms.Message{llms.HumanMessage("what is in /tmp?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "The /tmp folder has file1 and file2.", resp.Content)
	assert.Equal(t, int64(120), resp.InputTokens)
	assert.Equal(t, int64(14), resp.OutputTokens)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, anthropic.DefaultModel, string(call.Model))
	assert.Equal(t, int64(anthropic.DefaultMaxTokens), call.MaxTokens)
	assert.InDelta(t, 0.3, call.Temperature.Value, 0.0001)
	assert.Empty(t, call.Tools)
	require.Len(t, call.System, 1)
	assert.Equal(t, "You are a DevOps assistant.", call.System[0].Text)
	require.Len(t, call.Messages, 1)
}

func TestConverse_ToolRound(t *testing.T) {
	t.Parallel()

	fake := &fakeMessages{responses: []string{toolUseMessage, textMessage}}
	p, err := anthropic.NewWithClient(fake, llms.WithAPIKey("key"))
	require.NoError(t, err)

	resp, err := p.Converse(context.Background(), &llms.Request{
		SystemPrompt: "You are a DevOps assistant.",
		Messages:     []llms.Message{llms.HumanMessage("list /tmp")},
		Tools:        newRegistry(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "The /tmp folder has file1 and file2.", resp.Content)
	assert.Equal(t, int64(220), resp.InputTokens)
	assert.Equal(t, int64(54), resp.OutputTokens)

	require.Len(t, resp.ToolResults, 2)
	assert.Equal(t, "toolu_1", resp.ToolResults[0].ToolCallID)
	assert.False(t, resp.ToolResults[0].Failed())
	assert.Equal(t, "toolu_2", resp.ToolResults[1].ToolCallID)
	assert.True(t, errors.Is(resp.ToolResults[1].Err, llms.ErrToolNotFound))

	require.Len(t, fake.calls, 2)
	first := fake.calls[0]
	require.Len(t, first.Tools, 1)
	assert.Nil(t, first.ToolChoice.OfNone)

	second := fake.calls[1]
	// tool blocks in the history require declarations
	require.Len(t, second.Tools, 1)
	assert.NotNil(t, second.ToolChoice.OfNone)

	require.Len(t, second.Messages, 3)
	assistant := second.Messages[1]
	assert.Equal(t, sdk.MessageParamRoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 3)
	assert.NotNil(t, assistant.Content[0].OfText)
	require.NotNil(t, assistant.Content[1].OfToolUse)
	assert.Equal(t, "toolu_1", assistant.Content[1].OfToolUse.ID)

	results := second.Messages[2]
	assert.Equal(t, sdk.MessageParamRoleUser, results.Role)
	require.Len(t, results.Content, 2)

	ok := results.Content[0].OfToolResult
	require.NotNil(t, ok)
	assert.Equal(t, "toolu_1", ok.ToolUseID)
	assert.False(t, ok.IsError.Value)

	failed := results.Content[1].OfToolResult
	require.NotNil(t, failed)
	assert.Equal(t, "toolu_2", failed.ToolUseID)
	assert.True(t, failed.IsError.Value)
}

func TestConverse_Errors(t *testing.T) {
	t.Parallel()

	t.Run("upstream", func(t *testing.T) {
		p, err := anthropic.NewWithClient(&fakeMessages{err: errors.New("overloaded")}, llms.WithAPIKey("key"))
		require.NoError(t, err)
		_, err = p.Converse(context.Background(), &llms.Request{Messages: []llms.Message{llms.HumanMessage("hi")}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, llms.ErrUpstream))
		assert.EqualError(t, err, "anthropic: failed to create message: overloaded")
	})

	t.Run("empty", func(t *testing.T) {
		fake := &fakeMessages{responses: []string{`{"id":"msg","type":"message","role":"assistant","content":[],"usage":{"input_tokens":5}}`}}
		p, err := anthropic.NewWithClient(fake, llms.WithAPIKey("key"))
		require.NoError(t, err)
		_, err = p.Converse(context.Background(), &llms.Request{Messages: []llms.Message{llms.HumanMessage("hi")}})
		assert.True(t, errors.Is(err, llms.ErrEmptyUpstreamResponse))
	})
}

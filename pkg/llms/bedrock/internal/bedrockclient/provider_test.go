package bedrockclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProvider(t *testing.T) {
	tests := []struct {
		name     string
		modelID  string
		expected string
	}{
		{
			name:     "Direct Anthropic model ID",
			modelID:  "anthropic.claude-3-sonnet-20240229-v1:0",
			expected: "anthropic",
		},
		{
			name:     "Inference Profile with US region",
			modelID:  "us.anthropic.claude-3-5-sonnet-20241022-v2:0",
			expected: "anthropic",
		},
		{
			name:     "Inference Profile with EU region",
			modelID:  "eu.anthropic.claude-3-haiku-20240307-v1:0",
			expected: "anthropic",
		},
		{
			name:     "Direct Amazon model ID",
			modelID:  "amazon.titan-text-premier-v1:0",
			expected: "amazon",
		},
		{
			name:     "Inference Profile with Meta",
			modelID:  "us.meta.llama3-2-11b-instruct-v1:0",
			expected: "meta",
		},
		{
			name:     "Single part model ID",
			modelID:  "anthropic",
			expected: "anthropic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetProvider(tt.modelID))
		})
	}
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestInvokeAnthropic(t *testing.T) {
	fake := &fakeInvoker{body: `{
		"type": "message",
		"role": "assistant",
		"content": [{"type": "tool_use", "id": "toolu_1", "name": "execute_command", "input": {"command": "ls"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 4}
	}`}
	c := NewClient(fake)

	res, err := c.InvokeAnthropic(context.Background(), "anthropic.claude", &AnthropicRequest{
		MaxTokens:  100,
		Messages:   []AnthropicMessage{{Role: AnthropicRoleUser, Content: []AnthropicContent{TextContent("hi")}}},
		ToolChoice: &AnthropicToolChoice{Type: AnthropicToolChoiceNone},
	})
	require.NoError(t, err)
	assert.Equal(t, AnthropicCompletionReasonToolUse, res.StopReason)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, `{"command":"ls"}`, string(res.Content[0].Input))
	assert.Equal(t, int64(10), res.Usage.InputTokens)

	assert.Equal(t, "anthropic.claude", aws.ToString(fake.input.ModelId))
	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.input.Body, &sent))
	assert.Equal(t, AnthropicLatestVersion, sent["anthropic_version"])
	assert.Equal(t, map[string]any{"type": "none"}, sent["tool_choice"])
	assert.NotContains(t, sent, "temperature")
	assert.NotContains(t, sent, "tools")

	fake.err = errors.New("throttled")
	_, err = c.InvokeAnthropic(context.Background(), "anthropic.claude", &AnthropicRequest{})
	assert.EqualError(t, err, "throttled")

	fake.err = nil
	fake.body = "not json"
	_, err = c.InvokeAnthropic(context.Background(), "anthropic.claude", &AnthropicRequest{})
	assert.ErrorContains(t, err, "failed to unmarshal response")
}

package llms_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{}

func (fakeProvider) Name() string            { return "fake" }
func (fakeProvider) Type() llms.ProviderType { return llms.ProviderOpenAI }
func (fakeProvider) Model() string           { return "fake-model" }
func (fakeProvider) Converse(context.Context, *llms.Request) (*llms.Response, error) {
	return nil, errors.New("not implemented")
}

// fakeExchange returns the scripted completions in order
type fakeExchange struct {
	completions []*llms.Completion
	errs        []error

	solicit  []bool
	appended [][]llms.ToolResult
}

func (f *fakeExchange) Complete(_ context.Context, solicitTools bool) (*llms.Completion, error) {
	i := len(f.solicit)
	f.solicit = append(f.solicit, solicitTools)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.completions[i], nil
}

func (f *fakeExchange) AppendToolResults(results []llms.ToolResult) error {
	f.appended = append(f.appended, results)
	return nil
}

func TestRunTurn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, executed := newRegistry(t)
	req := &llms.Request{
		Messages: []llms.Message{llms.HumanMessage("hi")},
		Tools:    r,
	}

	t.Run("no tool calls", func(t *testing.T) {
		ex := &fakeExchange{
			completions: []*llms.Completion{{Content: "Hello!", InputTokens: 10, OutputTokens: 2}},
		}
		resp, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		require.NoError(t, err)
		assert.Equal(t, "Hello!", resp.Content)
		assert.Equal(t, int64(10), resp.InputTokens)
		assert.Equal(t, []bool{true}, ex.solicit)
		assert.Empty(t, ex.appended)
		assert.Empty(t, resp.ToolResults)
	})

	t.Run("with tool calls", func(t *testing.T) {
		ex := &fakeExchange{
			completions: []*llms.Completion{
				{
					ToolCalls: []llms.ToolCall{
						call("a", "sleep", `{"millis": 30, "label": "first"}`),
						call("b", "execute_command", `{"command": "ls /tmp"}`),
					},
					InputTokens: 10,
				},
				{Content: "Here is the listing", InputTokens: 20, OutputTokens: 5},
			},
		}
		resp, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		require.NoError(t, err)
		assert.Equal(t, "Here is the listing", resp.Content)
		assert.Equal(t, int64(30), resp.InputTokens)
		assert.Equal(t, int64(5), resp.OutputTokens)
		assert.Equal(t, []bool{true, false}, ex.solicit)
		require.Len(t, ex.appended, 1)
		require.Len(t, ex.appended[0], 2)
		assert.Equal(t, "a", ex.appended[0][0].ToolCallID)
		assert.Equal(t, "b", ex.appended[0][1].ToolCallID)
		assert.Equal(t, "STDOUT:\nls /tmp", ex.appended[0][1].Content())
		assert.Equal(t, ex.appended[0], resp.ToolResults)
		assert.GreaterOrEqual(t, *executed, 1)
	})

	t.Run("empty response", func(t *testing.T) {
		ex := &fakeExchange{completions: []*llms.Completion{{Content: "  "}}}
		_, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		assert.True(t, errors.Is(err, llms.ErrEmptyUpstreamResponse))
	})

	t.Run("empty follow-up", func(t *testing.T) {
		ex := &fakeExchange{completions: []*llms.Completion{
			{ToolCalls: []llms.ToolCall{call("a", "unknown", `{}`)}},
			{Content: ""},
		}}
		_, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		assert.True(t, errors.Is(err, llms.ErrEmptyFollowUpResponse))
		require.Len(t, ex.appended, 1)
		assert.True(t, errors.Is(ex.appended[0][0].Err, llms.ErrToolNotFound))
	})

	t.Run("upstream failure", func(t *testing.T) {
		ex := &fakeExchange{errs: []error{errors.New("connection reset")}}
		_, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, llms.ErrUpstream))
		assert.EqualError(t, err, "fake: completion failed: connection reset")
	})

	t.Run("upstream failure on follow-up", func(t *testing.T) {
		ex := &fakeExchange{
			completions: []*llms.Completion{{ToolCalls: []llms.ToolCall{call("a", "execute_command", `{"command":"ls"}`)}}},
			errs:        []error{nil, llms.UpstreamError(errors.New("429"), "openai: failed to create completion")},
		}
		_, err := llms.RunTurn(ctx, fakeProvider{}, ex, req)
		assert.True(t, errors.Is(err, llms.ErrUpstream))
		assert.EqualError(t, err, "openai: failed to create completion: 429")
		assert.Equal(t, []bool{true, false}, ex.solicit)
	})
}

package llms

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Exchange holds the vendor messages of one turn.
// It is created by a provider for each request and is not safe for concurrent use.
type Exchange interface {
	// Complete sends the accumulated messages to the model.
	// When solicitTools is false, the model must not request tool calls.
	Complete(ctx context.Context, solicitTools bool) (*Completion, error)
	// AppendToolResults appends the assistant turn with the tool calls
	// of the last completion, followed by the tool results.
	AppendToolResults(results []ToolResult) error
}

// RunTurn runs a user turn over the exchange:
// a completion with tools, at most one round of tool calls,
// and a follow-up completion without tools.
func RunTurn(ctx context.Context, p Provider, ex Exchange, req *Request) (*Response, error) {
	providerName := p.Name()
	model := p.Model()

	first, err := complete(ctx, providerName, model, ex, true)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		InputTokens:  first.InputTokens,
		OutputTokens: first.OutputTokens,
	}

	if len(first.ToolCalls) == 0 {
		if strings.TrimSpace(first.Content) == "" {
			logger.ContextKV(ctx, xlog.WARNING,
				"provider", providerName,
				"status", "empty_response",
				"stop_reason", first.StopReason,
			)
			return nil, errors.WithMessagef(ErrEmptyUpstreamResponse, "%s", providerName)
		}
		resp.Content = first.Content
		return resp, nil
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"provider", providerName,
		"status", "tool_calls",
		"count", len(first.ToolCalls),
	)

	resp.ToolResults = ExecuteToolCalls(ctx, req.Tools, first.ToolCalls, req.Callback)

	if err = ex.AppendToolResults(resp.ToolResults); err != nil {
		return nil, errors.WithMessagef(err, "%s: failed to append tool results", providerName)
	}

	second, err := complete(ctx, providerName, model, ex, false)
	if err != nil {
		return nil, err
	}
	resp.InputTokens += second.InputTokens
	resp.OutputTokens += second.OutputTokens

	if strings.TrimSpace(second.Content) == "" {
		logger.ContextKV(ctx, xlog.WARNING,
			"provider", providerName,
			"status", "empty_follow_up_response",
			"stop_reason", second.StopReason,
		)
		return nil, errors.WithMessagef(ErrEmptyFollowUpResponse, "%s", providerName)
	}
	resp.Content = second.Content
	return resp, nil
}

func complete(ctx context.Context, providerName, model string, ex Exchange, solicitTools bool) (*Completion, error) {
	started := time.Now()
	c, err := ex.Complete(ctx, solicitTools)
	metricskey.PerfLLMCall.MeasureSince(started, providerName, model)
	if err != nil {
		metricskey.StatsLLMCallsFailed.IncrCounter(1, providerName)
		logger.ContextKV(ctx, xlog.ERROR,
			"provider", providerName,
			"status", "completion_failed",
			"with_tools", solicitTools,
			"err", err.Error(),
		)
		if !errors.Is(err, ErrUpstream) && ctx.Err() == nil {
			err = errors.Mark(errors.Wrapf(err, "%s: completion failed", providerName), ErrUpstream)
		}
		return nil, err
	}

	if c.InputTokens > 0 {
		metricskey.StatsLLMInputTokens.IncrCounter(float64(c.InputTokens), providerName, model)
	}
	if c.OutputTokens > 0 {
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(c.OutputTokens), providerName, model)
	}
	return c, nil
}

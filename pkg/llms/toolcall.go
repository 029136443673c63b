package llms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/metricskey"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/opsagent/utils"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg", "llms")

// ToolResult is the outcome of one tool call,
// either a JSON-compatible Value or an Err.
type ToolResult struct {
	// ToolCallID is the ID of the tool call this result is for.
	ToolCallID string `json:"tool_call_id"`
	// Name is the name of the tool that was called.
	Name string `json:"name"`
	// Value is the normalized output of the tool.
	Value any `json:"value,omitempty"`
	// Err is the failure of the call.
	Err error `json:"-"`
}

// Failed returns true if the call failed
func (r ToolResult) Failed() bool {
	return r.Err != nil
}

// Content returns the text sent back to the model:
// strings as is, Stringers formatted, other values as JSON,
// and failures as {"error": "<message>"}.
func (r ToolResult) Content() string {
	if r.Err != nil {
		return utils.ToJSON(map[string]string{"error": r.Err.Error()})
	}
	return utils.Stringify(r.Value)
}

// Response returns the result as a structured object,
// {"result": value} or {"error": "<message>"}.
func (r ToolResult) Response() map[string]any {
	if r.Err != nil {
		return map[string]any{"error": r.Err.Error()}
	}
	return map[string]any{"result": r.Value}
}

// ExecuteToolCalls executes the tool calls concurrently and returns the results
// in the order of the calls. A failed call never affects the other calls.
func ExecuteToolCalls(ctx context.Context, set tools.ToolSet, calls []ToolCall, cb tools.Callback) []ToolResult {
	results := make([]ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, toolCall := range calls {
		wg.Go(func() {
			results[i] = executeToolCall(ctx, set, toolCall, cb)
		})
	}

	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "tool_call_failed",
				"tool_call_id", res.ToolCallID,
				"tool", res.Name,
				"err", res.Err.Error(),
			)
		}
	}
	return results
}

func executeToolCall(ctx context.Context, set tools.ToolSet, tc ToolCall, cb tools.Callback) ToolResult {
	toolName := tc.Name()
	toolArgs := tc.Arguments()
	res := ToolResult{
		ToolCallID: tc.ID,
		Name:       toolName,
	}

	var tool tools.Tool
	found := false
	if set != nil {
		tool, found = set.Find(toolName)
	}
	if !found {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		if cb != nil {
			cb.OnToolNotFound(ctx, toolName)
		}
		res.Err = errors.Mark(errors.Newf("tool %q not found, available tools: %s", toolName, availableTools(set)), ErrToolNotFound)
		return res
	}

	if cb != nil {
		cb.OnToolStart(ctx, tool, toolArgs)
	}

	fail := func(err error) ToolResult {
		res.Err = err
		if cb != nil {
			cb.OnToolError(ctx, tool, toolArgs, err)
		}
		return res
	}

	args, err := utils.ParseArguments(toolArgs)
	if err == nil {
		err = schema.Validate(tool.Parameters(), args)
	}
	if err != nil {
		metricskey.StatsToolCallsInvalid.IncrCounter(1, toolName)
		return fail(errors.Mark(errors.WithMessagef(err, "invalid arguments for tool %q", toolName), ErrToolArgumentInvalid))
	}

	started := time.Now()
	value, err := callTool(ctx, tool, args)
	metricskey.PerfToolCall.MeasureSince(started, toolName)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		return fail(err)
	}

	value, err = schema.Normalize(value)
	if err == nil {
		err = schema.Validate(tool.Output(), value)
	}
	if err != nil {
		metricskey.StatsToolCallsInvalid.IncrCounter(1, toolName)
		return fail(errors.Mark(errors.WithMessagef(err, "invalid output of tool %q", toolName), ErrToolOutputInvalid))
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	res.Value = value
	if cb != nil {
		cb.OnToolEnd(ctx, tool, toolArgs, res.Content())
	}
	return res
}

// callTool converts a panic of the tool into an error
func callTool(ctx context.Context, tool tools.Tool, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("tool %q panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Call(ctx, args)
}

func availableTools(set tools.ToolSet) string {
	if set == nil {
		return "none"
	}
	list := set.List()
	if len(list) == 0 {
		return "none"
	}
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name())
	}
	return strings.Join(names, ", ")
}

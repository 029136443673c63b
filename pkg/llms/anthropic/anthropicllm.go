// Package anthropic implements the Anthropic provider with the official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg/llms", "anthropic")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
	MaxTemperature   = 1.0

	// DefaultRequestTimeout is the timeout of a single vendor request
	DefaultRequestTimeout = 5 * time.Minute
)

// MessagesClient is the subset of the Messages service used by the provider
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// LLM is an Anthropic provider.
type LLM struct {
	messages MessagesClient
	opts     *llms.Options
}

var _ llms.Provider = (*LLM)(nil)

// DefaultOptions returns the defaults of the provider,
// the temperature is left to the vendor.
func DefaultOptions() llms.Options {
	return llms.Options{
		Name:      "anthropic",
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
	}
}

// New creates a new Anthropic provider.
//
// Example usage:
//
//	llm, err := anthropic.New(
//	    llms.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
//	    llms.WithModel("claude-sonnet-4-20250514"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := llm.Converse(ctx, &llms.Request{
//	    Messages: []llms.Message{llms.HumanMessage("Hello")},
//	})
func New(opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithMaxRetries(2),
		option.WithRequestTimeout(DefaultRequestTimeout),
	}
	if o.Endpoint != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(o.Endpoint))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &LLM{
		messages: &client.Messages,
		opts:     o,
	}, nil
}

// NewWithClient creates a new Anthropic provider with the given client.
func NewWithClient(messages MessagesClient, opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{
		messages: messages,
		opts:     o,
	}, nil
}

func newOptions(opts ...llms.Option) (*llms.Options, error) {
	o := llms.NewOptions(DefaultOptions(), opts...)
	if !o.HasAPIKey() {
		return nil, llms.UninitializedError("anthropic: missing API key, set ANTHROPIC_API_KEY environment variable")
	}
	if err := o.ValidateSampling("anthropic", MaxTemperature); err != nil {
		return nil, err
	}
	return o, nil
}

// Name implements the Provider interface.
func (o *LLM) Name() string {
	return o.opts.Name
}

// Type implements the Provider interface.
func (o *LLM) Type() llms.ProviderType {
	return llms.ProviderAnthropic
}

// Model implements the Provider interface.
func (o *LLM) Model() string {
	return o.opts.Model
}

// Options returns the effective options
func (o *LLM) Options() llms.Options {
	return *o.opts
}

// Converse implements the Provider interface.
func (o *LLM) Converse(ctx context.Context, req *llms.Request) (*llms.Response, error) {
	ex, err := o.NewExchange(req)
	if err != nil {
		return nil, err
	}
	return llms.RunTurn(ctx, o, ex, req)
}

// NewExchange returns the exchange for the request.
func (o *LLM) NewExchange(req *llms.Request) (llms.Exchange, error) {
	history, system, err := ProcessMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	system = joinSystem(req.SystemPrompt, system)

	ex := &exchange{
		llm:          o,
		history:      history,
		declarations: ToTools(req.ToolList()),
	}
	if system != "" {
		ex.system = []anthropic.TextBlockParam{{Text: system}}
	}
	return ex, nil
}

// ToTools converts tools to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(list []tools.Tool) []anthropic.ToolUnionParam {
	if len(list) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, len(list))
	for i, tool := range list {
		params := tool.Parameters()
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema.PropertiesMap(params),
		}
		if params != nil && len(params.Required) > 0 {
			inputSchema.Required = params.Required
		}

		sdkTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name(),
				Description: anthropic.String(tool.Description()),
				InputSchema: inputSchema,
			},
		}
	}
	return sdkTools
}

// ProcessMessages converts the conversation history to Anthropic SDK message parameters.
// System messages are returned separately, as Anthropic takes them as a distinct parameter.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case llms.RoleSystem:
			system = append(system, msg.Content)
		case llms.RoleHuman:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case llms.RoleAI:
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return nil, "", errors.Newf("anthropic: role %q not supported", msg.Role)
		}
	}
	return chatMessages, strings.Join(system, "\n"), nil
}

func joinSystem(prompt, history string) string {
	if prompt == "" || history == "" {
		return values.StringsCoalesce(prompt, history)
	}
	return prompt + "\n" + history
}

type exchange struct {
	llm          *LLM
	system       []anthropic.TextBlockParam
	history      []anthropic.MessageParam
	declarations []anthropic.ToolUnionParam

	// last assistant turn with tool use blocks
	last *anthropic.MessageParam
	// tool blocks are in the history
	hasToolBlocks bool
}

func (e *exchange) Complete(ctx context.Context, solicitTools bool) (*llms.Completion, error) {
	opts := e.llm.opts
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  e.history,
		MaxTokens: int64(opts.MaxTokens),
		System:    e.system,
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(e.declarations) > 0 {
		switch {
		case solicitTools:
			params.Tools = e.declarations
		case e.hasToolBlocks:
			// the API rejects tool blocks in the history without declarations
			params.Tools = e.declarations
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfNone: &anthropic.ToolChoiceNoneParam{},
			}
		}
	}

	result, err := e.llm.messages.New(ctx, params)
	if err != nil {
		return nil, llms.UpstreamError(err, "anthropic: failed to create message")
	}
	return e.convertResponse(result)
}

func (e *exchange) convertResponse(result *anthropic.Message) (*llms.Completion, error) {
	c := &llms.Completion{
		Model:        values.StringsCoalesce(string(result.Model), e.llm.opts.Model),
		StopReason:   string(result.StopReason),
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}

	var text strings.Builder
	var blocks []anthropic.ContentBlockParamUnion
	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
			blocks = append(blocks, anthropic.NewTextBlock(content.Text))
		case anthropic.ToolUseBlock:
			args := string(content.Input)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			c.ToolCalls = append(c.ToolCalls, llms.ToolCall{
				ID:   content.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      content.Name,
					Arguments: args,
				},
			})
			blocks = append(blocks, anthropic.NewToolUseBlock(content.ID, json.RawMessage(args), content.Name))
		default:
			logger.KV(xlog.DEBUG,
				"status", "skipped_content_block",
				"type", contentBlock.Type,
			)
		}
	}
	c.Content = text.String()

	if len(c.ToolCalls) > 0 {
		turn := anthropic.NewAssistantMessage(blocks...)
		e.last = &turn
	}
	return c, nil
}

func (e *exchange) AppendToolResults(results []llms.ToolResult) error {
	if e.last == nil {
		return errors.New("anthropic: no tool calls to respond to")
	}

	contents := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		contents = append(contents, anthropic.NewToolResultBlock(r.ToolCallID, r.Content(), r.Failed()))
	}

	e.history = append(e.history, *e.last, anthropic.NewUserMessage(contents...))
	e.last = nil
	e.hasToolBlocks = true
	return nil
}

// Package bedrock implements the provider for Anthropic models hosted on AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/llms/bedrock/internal/bedrockclient"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg/llms", "bedrock")

const (
	DefaultModel     = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultMaxTokens = 4096
	MaxTemperature   = 1.0
)

// ModelInvoker is the subset of bedrockruntime.Client used by the provider
type ModelInvoker = bedrockclient.ModelInvoker

// LLM is a Bedrock provider.
type LLM struct {
	client *bedrockclient.Client
	opts   *llms.Options
}

var _ llms.Provider = (*LLM)(nil)

// DefaultOptions returns the defaults of the provider,
// the temperature is left to the vendor.
func DefaultOptions() llms.Options {
	return llms.Options{
		Name:      "bedrock",
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
	}
}

// New creates a new Bedrock provider.
// The credentials are resolved by the default AWS credential chain.
func New(ctx context.Context, opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bedrock: failed to load AWS config"), llms.ErrProviderUninitialized)
	}
	if cfg.Region == "" {
		return nil, llms.UninitializedError("bedrock: missing region, set it in the configuration or AWS_REGION environment variable")
	}
	o.Region = cfg.Region

	var clientOpts []func(*bedrockruntime.Options)
	if o.Endpoint != "" {
		endpoint := o.Endpoint
		clientOpts = append(clientOpts, func(bo *bedrockruntime.Options) {
			bo.BaseEndpoint = &endpoint
		})
	}

	return &LLM{
		client: bedrockclient.NewClient(bedrockruntime.NewFromConfig(cfg, clientOpts...)),
		opts:   o,
	}, nil
}

// NewWithClient creates a new Bedrock provider with the given client.
func NewWithClient(invoker ModelInvoker, opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{
		client: bedrockclient.NewClient(invoker),
		opts:   o,
	}, nil
}

func newOptions(opts ...llms.Option) (*llms.Options, error) {
	o := llms.NewOptions(DefaultOptions(), opts...)
	if provider := bedrockclient.GetProvider(o.Model); provider != "anthropic" {
		return nil, llms.ConfigError("bedrock: model %q is not supported, only Anthropic models are", o.Model)
	}
	if err := o.ValidateSampling("bedrock", MaxTemperature); err != nil {
		return nil, err
	}
	return o, nil
}

// Name implements the Provider interface.
func (l *LLM) Name() string {
	return l.opts.Name
}

// Type implements the Provider interface.
func (l *LLM) Type() llms.ProviderType {
	return llms.ProviderBedrock
}

// Model implements the Provider interface.
func (l *LLM) Model() string {
	return l.opts.Model
}

// Options returns the effective options
func (l *LLM) Options() llms.Options {
	return *l.opts
}

// Converse implements the Provider interface.
func (l *LLM) Converse(ctx context.Context, req *llms.Request) (*llms.Response, error) {
	ex, err := l.NewExchange(req)
	if err != nil {
		return nil, err
	}
	return llms.RunTurn(ctx, l, ex, req)
}

// NewExchange returns the exchange for the request.
func (l *LLM) NewExchange(req *llms.Request) (llms.Exchange, error) {
	history, system, err := processMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if req.SystemPrompt != "" {
		system = append([]string{req.SystemPrompt}, system...)
	}

	var declarations []bedrockclient.AnthropicTool
	for _, t := range req.ToolList() {
		params := t.Parameters()
		inputSchema := bedrockclient.AnthropicInputSchema{
			Type:       "object",
			Properties: schema.PropertiesMap(params),
		}
		if params != nil {
			inputSchema.Required = params.Required
		}
		declarations = append(declarations, bedrockclient.AnthropicTool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: inputSchema,
		})
	}

	return &exchange{
		llm:          l,
		system:       strings.Join(system, "\n"),
		history:      history,
		declarations: declarations,
	}, nil
}

func processMessages(messages []llms.Message) ([]bedrockclient.AnthropicMessage, []string, error) {
	history := make([]bedrockclient.AnthropicMessage, 0, len(messages))
	var system []string
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case llms.RoleSystem:
			system = append(system, msg.Content)
			continue
		case llms.RoleHuman:
			role = bedrockclient.AnthropicRoleUser
		case llms.RoleAI:
			role = bedrockclient.AnthropicRoleAssistant
		default:
			return nil, nil, errors.Newf("bedrock: role %q not supported", msg.Role)
		}
		history = append(history, bedrockclient.AnthropicMessage{
			Role:    role,
			Content: []bedrockclient.AnthropicContent{bedrockclient.TextContent(msg.Content)},
		})
	}
	return history, system, nil
}

type exchange struct {
	llm          *LLM
	system       string
	history      []bedrockclient.AnthropicMessage
	declarations []bedrockclient.AnthropicTool

	// last assistant turn with tool use blocks
	last *bedrockclient.AnthropicMessage
	// tool blocks are in the history
	hasToolBlocks bool
}

func (e *exchange) Complete(ctx context.Context, solicitTools bool) (*llms.Completion, error) {
	opts := e.llm.opts
	input := &bedrockclient.AnthropicRequest{
		MaxTokens:   opts.MaxTokens,
		System:      e.system,
		Messages:    e.history,
		Temperature: opts.Temperature,
	}
	if len(e.declarations) > 0 {
		switch {
		case solicitTools:
			input.Tools = e.declarations
		case e.hasToolBlocks:
			// the API rejects tool blocks in the history without declarations
			input.Tools = e.declarations
			input.ToolChoice = &bedrockclient.AnthropicToolChoice{Type: bedrockclient.AnthropicToolChoiceNone}
		}
	}

	output, err := e.llm.client.InvokeAnthropic(ctx, opts.Model, input)
	if err != nil {
		return nil, llms.UpstreamError(err, "bedrock: failed to invoke model")
	}
	if output.StopReason == bedrockclient.AnthropicCompletionReasonMaxTokens {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "max_tokens_reached",
			"model", opts.Model,
			"max_tokens", opts.MaxTokens,
		)
	}
	return e.convertResponse(output), nil
}

func (e *exchange) convertResponse(output *bedrockclient.AnthropicResponse) *llms.Completion {
	c := &llms.Completion{
		Model:        values.StringsCoalesce(output.Model, e.llm.opts.Model),
		StopReason:   output.StopReason,
		InputTokens:  output.Usage.InputTokens,
		OutputTokens: output.Usage.OutputTokens,
	}

	var text strings.Builder
	var blocks []bedrockclient.AnthropicContent
	for _, block := range output.Content {
		switch block.Type {
		case bedrockclient.AnthropicMessageTypeText:
			text.WriteString(block.Text)
			blocks = append(blocks, bedrockclient.TextContent(block.Text))
		case bedrockclient.AnthropicMessageTypeToolUse:
			args := strings.TrimSpace(string(block.Input))
			if args == "" || args == "null" {
				args = "{}"
			}
			c.ToolCalls = append(c.ToolCalls, llms.ToolCall{
				ID:   block.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
			blocks = append(blocks, bedrockclient.AnthropicContent{
				Type:  bedrockclient.AnthropicMessageTypeToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(args),
			})
		}
	}
	c.Content = text.String()

	if len(c.ToolCalls) > 0 {
		e.last = &bedrockclient.AnthropicMessage{
			Role:    bedrockclient.AnthropicRoleAssistant,
			Content: blocks,
		}
	}
	return c
}

func (e *exchange) AppendToolResults(results []llms.ToolResult) error {
	if e.last == nil {
		return errors.New("bedrock: no tool calls to respond to")
	}

	contents := make([]bedrockclient.AnthropicContent, 0, len(results))
	for _, r := range results {
		contents = append(contents, bedrockclient.AnthropicContent{
			Type:      bedrockclient.AnthropicMessageTypeToolResult,
			ToolUseID: r.ToolCallID,
			Content:   r.Content(),
			IsError:   r.Failed(),
		})
	}

	e.history = append(e.history, *e.last, bedrockclient.AnthropicMessage{
		Role:    bedrockclient.AnthropicRoleUser,
		Content: contents,
	})
	e.last = nil
	e.hasToolBlocks = true
	return nil
}

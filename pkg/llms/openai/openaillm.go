// Package openai implements the OpenAI and Azure OpenAI providers
// with the Chat Completions API.
package openai

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/schema"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg/llms", "openai")

const (
	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	MaxTemperature     = 2.0

	// DefaultAzureAPIVersion is the API version used when none is configured
	DefaultAzureAPIVersion = "2024-06-01"

	// DefaultRequestTimeout is the timeout of a single vendor request
	DefaultRequestTimeout = 5 * time.Minute
)

// ChatCompletions is the subset of the Chat Completions service used by the provider
type ChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// LLM is an OpenAI or Azure OpenAI provider.
type LLM struct {
	completions  ChatCompletions
	opts         *llms.Options
	providerType llms.ProviderType
}

var _ llms.Provider = (*LLM)(nil)

// DefaultOptions returns the defaults of the provider type
func DefaultOptions(providerType llms.ProviderType) llms.Options {
	o := llms.Options{
		Name:        "openai",
		Model:       DefaultModel,
		Temperature: llms.Float(DefaultTemperature),
		MaxTokens:   DefaultMaxTokens,
	}
	if providerType == llms.ProviderAzure {
		o.Name = "azure_openai"
		// the model is the deployment name, it has no default
		o.Model = ""
		o.APIVersion = DefaultAzureAPIVersion
	}
	return o
}

// New creates a new OpenAI provider.
func New(opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(llms.ProviderOpenAI, opts...)
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

	client := openai.NewClient(sdkOpts...)
	return &LLM{
		completions:  &client.Chat.Completions,
		opts:         o,
		providerType: llms.ProviderOpenAI,
	}, nil
}

// NewAzure creates a new Azure OpenAI provider,
// the model option is the deployment name.
func NewAzure(opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(llms.ProviderAzure, opts...)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(
		azure.WithEndpoint(o.Endpoint, o.APIVersion),
		azure.WithAPIKey(o.APIKey),
		option.WithMaxRetries(2),
		option.WithRequestTimeout(DefaultRequestTimeout),
	)
	return &LLM{
		completions:  &client.Chat.Completions,
		opts:         o,
		providerType: llms.ProviderAzure,
	}, nil
}

// NewWithClient creates a new provider of the given type with the given client.
func NewWithClient(completions ChatCompletions, providerType llms.ProviderType, opts ...llms.Option) (*LLM, error) {
	o, err := newOptions(providerType, opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{
		completions:  completions,
		opts:         o,
		providerType: providerType,
	}, nil
}

func newOptions(providerType llms.ProviderType, opts ...llms.Option) (*llms.Options, error) {
	vendor := strings.ToLower(string(providerType))
	switch providerType {
	case llms.ProviderOpenAI, llms.ProviderAzure:
	default:
		return nil, llms.ConfigError("openai: unsupported provider type %q", providerType)
	}

	o := llms.NewOptions(DefaultOptions(providerType), opts...)
	if !o.HasAPIKey() {
		if providerType == llms.ProviderAzure {
			return nil, llms.UninitializedError("azure: missing API key, set AZURE_OPENAI_API_KEY environment variable")
		}
		return nil, llms.UninitializedError("openai: missing API key, set OPENAI_API_KEY environment variable")
	}
	if providerType == llms.ProviderAzure {
		if o.Endpoint == "" {
			return nil, llms.UninitializedError("azure: missing endpoint")
		}
		if o.Model == "" {
			return nil, llms.UninitializedError("azure: missing deployment name")
		}
	}
	if err := o.ValidateSampling(vendor, MaxTemperature); err != nil {
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
	return o.providerType
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
	var declarations []openai.ChatCompletionToolUnionParam
	for idx, t := range req.ToolList() {
		params, err := schema.ToMap(t.Parameters())
		if err != nil {
			return nil, errors.Wrapf(err, "openai: tool [%d] %s", idx, t.Name())
		}
		declarations = append(declarations, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(params),
		}))
	}

	history := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		history = append(history, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llms.RoleSystem:
			history = append(history, openai.SystemMessage(msg.Content))
		case llms.RoleHuman:
			history = append(history, openai.UserMessage(msg.Content))
		case llms.RoleAI:
			history = append(history, openai.AssistantMessage(msg.Content))
		default:
			return nil, errors.Newf("openai: role %q not supported", msg.Role)
		}
	}

	return &exchange{
		llm:          o,
		history:      history,
		declarations: declarations,
	}, nil
}

type exchange struct {
	llm          *LLM
	history      []openai.ChatCompletionMessageParamUnion
	declarations []openai.ChatCompletionToolUnionParam

	// last assistant turn with tool calls
	last *openai.ChatCompletionMessageParamUnion
}

func (e *exchange) Complete(ctx context.Context, solicitTools bool) (*llms.Completion, error) {
	opts := e.llm.opts
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(opts.Model),
		Messages:    e.history,
		Temperature: openai.Float(opts.TemperatureOr(DefaultTemperature)),
	}
	if e.llm.providerType == llms.ProviderAzure {
		// older Azure API versions do not accept max_completion_tokens
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	} else {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if solicitTools && len(e.declarations) > 0 {
		params.Tools = e.declarations
	}

	resp, err := e.llm.completions.New(ctx, params)
	if err != nil {
		return nil, llms.UpstreamError(err, "%s: failed to create chat completion", e.llm.opts.Name)
	}
	return e.convertResponse(resp), nil
}

func (e *exchange) convertResponse(resp *openai.ChatCompletion) *llms.Completion {
	c := &llms.Completion{
		Model:        values.StringsCoalesce(resp.Model, e.llm.opts.Model),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		logger.KV(xlog.DEBUG, "status", "no_choices", "id", resp.ID)
		return c
	}

	choice := resp.Choices[0]
	c.StopReason = choice.FinishReason
	c.Content = choice.Message.Content

	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			// custom tools are never declared
			continue
		}
		c.ToolCalls = append(c.ToolCalls, llms.ToolCall{
			ID:   tc.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	if len(c.ToolCalls) > 0 {
		turn := choice.Message.ToParam()
		e.last = &turn
	}
	return c
}

func (e *exchange) AppendToolResults(results []llms.ToolResult) error {
	if e.last == nil {
		return errors.New("openai: no tool calls to respond to")
	}

	e.history = append(e.history, *e.last)
	for _, r := range results {
		e.history = append(e.history, openai.ToolMessage(r.Content(), r.ToolCallID))
	}
	e.last = nil
	return nil
}

// Package googleai implements the Gemini provider with the Google Gen AI SDK.
// See https://ai.google.dev/ for more details.
package googleai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/llms/googleai/internal/genaiutils"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg/llms", "googleai")

const (
	RoleModel = "model"
	RoleUser  = "user"

	DefaultModel       = "gemini-1.5-pro"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
	MaxTemperature     = 1.0

	// RecommendedMaxTokens is the limit above which a warning is logged
	RecommendedMaxTokens = 4096

	// SystemAcknowledgement is the model turn that follows the simulated system prompt
	SystemAcknowledgement = "I understand. I'm ready to help with DevOps tasks using the available tools."
)

// ContentGenerator is the subset of genai.Models used by the provider
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GoogleAI is a Gemini provider.
type GoogleAI struct {
	models ContentGenerator
	opts   *llms.Options
}

var _ llms.Provider = (*GoogleAI)(nil)

// DefaultOptions returns the defaults of the provider
func DefaultOptions() llms.Options {
	return llms.Options{
		Name:        "gemini",
		Model:       DefaultModel,
		Temperature: llms.Float(DefaultTemperature),
		MaxTokens:   DefaultMaxTokens,
	}
}

// New creates a new Gemini provider.
func New(ctx context.Context, opts ...llms.Option) (*GoogleAI, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	cfg := &genai.ClientConfig{
		APIKey:  o.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.Endpoint != "" {
		cfg.HTTPOptions.BaseURL = o.Endpoint
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "googleai: failed to create client"), llms.ErrProviderUninitialized)
	}
	return &GoogleAI{
		models: client.Models,
		opts:   o,
	}, nil
}

// NewWithClient creates a new Gemini provider with the given content generator.
func NewWithClient(models ContentGenerator, opts ...llms.Option) (*GoogleAI, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleAI{
		models: models,
		opts:   o,
	}, nil
}

func newOptions(opts ...llms.Option) (*llms.Options, error) {
	o := llms.NewOptions(DefaultOptions(), opts...)
	if !o.HasAPIKey() {
		return nil, llms.UninitializedError("googleai: missing API key, set GEMINI_API_KEY or GOOGLE_API_KEY environment variable")
	}
	if err := o.ValidateSampling("googleai", MaxTemperature); err != nil {
		return nil, err
	}
	if o.MaxTokens > RecommendedMaxTokens {
		logger.KV(xlog.WARNING,
			"status", "max_tokens_exceeds_recommended",
			"max_tokens", o.MaxTokens,
			"recommended", RecommendedMaxTokens,
		)
	}
	return o, nil
}

// Name implements the Provider interface.
func (g *GoogleAI) Name() string {
	return g.opts.Name
}

// Type implements the Provider interface.
func (g *GoogleAI) Type() llms.ProviderType {
	return llms.ProviderGoogleAI
}

// Model implements the Provider interface.
func (g *GoogleAI) Model() string {
	return g.opts.Model
}

// Options returns the effective options
func (g *GoogleAI) Options() llms.Options {
	return *g.opts
}

// Converse implements the Provider interface.
func (g *GoogleAI) Converse(ctx context.Context, req *llms.Request) (*llms.Response, error) {
	ex, err := g.NewExchange(req)
	if err != nil {
		return nil, err
	}
	return llms.RunTurn(ctx, g, ex, req)
}

// NewExchange returns the exchange for the request.
// Gemini has no system role, the system prompt is sent as the first user turn
// followed by the model acknowledgement.
func (g *GoogleAI) NewExchange(req *llms.Request) (llms.Exchange, error) {
	declarations, err := genaiutils.ConvertTools(req.ToolList())
	if err != nil {
		return nil, errors.Wrap(err, "googleai: failed to convert tools")
	}

	history := make([]*genai.Content, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		history = append(history,
			genai.NewContentFromText(req.SystemPrompt, RoleUser),
			genai.NewContentFromText(SystemAcknowledgement, RoleModel),
		)
	}
	for _, msg := range req.Messages {
		content, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		history = append(history, content)
	}

	return &exchange{
		g:            g,
		history:      history,
		declarations: declarations,
	}, nil
}

func convertMessage(msg llms.Message) (*genai.Content, error) {
	switch msg.Role {
	case llms.RoleHuman, llms.RoleSystem:
		return genai.NewContentFromText(msg.Content, RoleUser), nil
	case llms.RoleAI:
		return genai.NewContentFromText(msg.Content, RoleModel), nil
	default:
		return nil, errors.Newf("googleai: role %q not supported", msg.Role)
	}
}

type exchange struct {
	g            *GoogleAI
	history      []*genai.Content
	declarations []*genai.Tool

	// last model turn with function calls
	last *genai.Content
	// IDs generated for calls that had none
	generated map[string]bool
}

func (e *exchange) Complete(ctx context.Context, solicitTools bool) (*llms.Completion, error) {
	opts := e.g.opts
	cfg := &genai.GenerateContentConfig{
		Temperature:     genaiutils.Float32Ptr(float32(opts.TemperatureOr(DefaultTemperature))),
		MaxOutputTokens: int32(opts.MaxTokens), //nolint:gosec // bounded by ValidateSampling
	}
	if solicitTools && len(e.declarations) > 0 {
		cfg.Tools = e.declarations
	}

	resp, err := e.g.models.GenerateContent(ctx, opts.Model, e.history, cfg)
	if err != nil {
		return nil, llms.UpstreamError(err, "googleai: failed to generate content")
	}

	return e.convertResponse(resp)
}

func (e *exchange) convertResponse(resp *genai.GenerateContentResponse) (*llms.Completion, error) {
	c := &llms.Completion{
		Model: values.StringsCoalesce(resp.ModelVersion, e.g.opts.Model),
	}
	if resp.UsageMetadata != nil {
		c.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		c.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil {
			c.StopReason = string(resp.PromptFeedback.BlockReason)
		}
		return c, nil
	}

	candidate := resp.Candidates[0]
	c.StopReason = string(candidate.FinishReason)

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
			continue
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, errors.Wrap(err, "googleai: failed to marshal function call arguments")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
				if e.generated == nil {
					e.generated = make(map[string]bool)
				}
				e.generated[id] = true
			}
			c.ToolCalls = append(c.ToolCalls, llms.ToolCall{
				ID:   id,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.Text != "":
			text.WriteString(part.Text)
		}
	}
	c.Content = text.String()

	if len(c.ToolCalls) > 0 {
		e.last = &genai.Content{
			Role:  RoleModel,
			Parts: candidate.Content.Parts,
		}
	}
	return c, nil
}

func (e *exchange) AppendToolResults(results []llms.ToolResult) error {
	if e.last == nil {
		return errors.New("googleai: no function calls to respond to")
	}

	parts := make([]*genai.Part, 0, len(results))
	for _, r := range results {
		fr := &genai.FunctionResponse{
			Name:     r.Name,
			Response: r.Response(),
		}
		if !e.generated[r.ToolCallID] {
			fr.ID = r.ToolCallID
		}
		parts = append(parts, &genai.Part{FunctionResponse: fr})
	}

	e.history = append(e.history, e.last, &genai.Content{
		Role:  RoleUser,
		Parts: parts,
	})
	e.last = nil
	return nil
}

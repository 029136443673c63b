package llms

import (
	"context"
)

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the type of provider.
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderAzure is the type of provider.
	ProviderAzure ProviderType = "AZURE"
	// ProviderBedrock is the type of provider.
	ProviderBedrock ProviderType = "BEDROCK"
	// ProviderGoogleAI is the type of provider.
	ProviderGoogleAI ProviderType = "GOOGLEAI"
	// ProviderOpenAI is the type of provider.
	ProviderOpenAI ProviderType = "OPENAI"
)

// Provider is a vendor adapter that runs one user turn,
// including at most one round of tool calls.
type Provider interface {
	// Name returns the configured name of the provider.
	Name() string
	// Type returns the type of provider.
	Type() ProviderType
	// Model returns the model or deployment name.
	Model() string
	// Converse sends the request to the model,
	// executes the requested tool calls and returns the final text.
	Converse(ctx context.Context, req *Request) (*Response, error)
}

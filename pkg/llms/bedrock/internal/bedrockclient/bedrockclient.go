package bedrockclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
)

// ModelInvoker is the subset of bedrockruntime.Client used by the provider
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client is a Bedrock client.
type Client struct {
	invoker ModelInvoker
}

// NewClient creates a new Bedrock client.
func NewClient(invoker ModelInvoker) *Client {
	return &Client{
		invoker: invoker,
	}
}

// GetProvider returns the model vendor of the model ID.
func GetProvider(modelID string) string {
	// Handle Inference Profiles (e.g., "us.anthropic.claude-3-5-sonnet-20241022-v2:0")
	// and direct model IDs (e.g., "anthropic.claude-3-sonnet-20240229-v1:0")
	parts := strings.Split(modelID, ".")
	if len(parts) >= 2 {
		// Check if first part is a region (like "us", "eu", etc.)
		if len(parts[0]) == 2 && strings.ToLower(parts[0]) == parts[0] {
			// This looks like a region prefix, use the second part as provider
			return parts[1]
		}
		// Otherwise use the first part as provider (direct model ID)
		return parts[0]
	}
	return parts[0]
}

// InvokeAnthropic sends the Anthropic Messages request to the model.
func (c *Client) InvokeAnthropic(ctx context.Context, modelID string, input *AnthropicRequest) (*AnthropicResponse, error) {
	if input.AnthropicVersion == "" {
		input.AnthropicVersion = AnthropicLatestVersion
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	resp, err := c.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Accept:      aws.String("*/*"),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	var output AnthropicResponse
	if err = json.Unmarshal(resp.Body, &output); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &output, nil
}

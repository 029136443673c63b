package llmfactory

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// Provider names
const (
	ProviderGemini      = "gemini"
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderAnthropic   = "anthropic"
	ProviderBedrock     = "bedrock"
)

var displayNames = map[string]string{
	ProviderGemini:      "Gemini",
	ProviderOpenAI:      "OpenAI",
	ProviderAzureOpenAI: "Azure OpenAI",
	ProviderAnthropic:   "Anthropic",
	ProviderBedrock:     "Bedrock",
}

var providerTypes = map[string]llms.ProviderType{
	ProviderGemini:      llms.ProviderGoogleAI,
	ProviderOpenAI:      llms.ProviderOpenAI,
	ProviderAzureOpenAI: llms.ProviderAzure,
	ProviderAnthropic:   llms.ProviderAnthropic,
	ProviderBedrock:     llms.ProviderBedrock,
}

// apiKeyEnvs lists the environment variables checked, in order,
// when the API key is not configured.
var apiKeyEnvs = map[string][]string{
	ProviderGemini:      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	ProviderOpenAI:      {"OPENAI_API_KEY"},
	ProviderAzureOpenAI: {"AZURE_OPENAI_API_KEY"},
	ProviderAnthropic:   {"ANTHROPIC_API_KEY"},
}

// Config specifies the providers
type Config struct {
	// DefaultProvider specifies the name of the provider to use,
	// if it is not enabled, the first enabled provider is used.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	// Providers specifies the list of providers, in the order of preference
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
}

// ProviderConfig specifies the configuration of a provider
type ProviderConfig struct {
	// Name of the provider: gemini|openai|azure_openai|anthropic|bedrock
	Name    string `json:"name" yaml:"name" validate:"required,oneof=gemini openai azure_openai anthropic bedrock"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	// Temperature is the sampling temperature, nil means the provider default
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	// Endpoint is the base URL of the vendor API, required for Azure
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// Region is the AWS region, used by Bedrock
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// ProviderStatus describes a configured provider
type ProviderStatus struct {
	Name      string `json:"name" yaml:"name"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	IsDefault bool   `json:"is_default" yaml:"is_default"`
}

// DisplayName returns the human readable name of the provider
func DisplayName(name string) string {
	return values.StringsCoalesce(displayNames[name], name)
}

// ProviderType returns the type of the provider
func (c *ProviderConfig) ProviderType() llms.ProviderType {
	return providerTypes[c.Name]
}

// ResolveAPIKey returns the configured API key,
// or the value of the first environment variable that is set.
func (c *ProviderConfig) ResolveAPIKey() string {
	if llms.IsValidAPIKey(c.APIKey) {
		return c.APIKey
	}
	for _, env := range apiKeyEnvs[c.Name] {
		if key := os.Getenv(env); llms.IsValidAPIKey(key) {
			return key
		}
	}
	return ""
}

// Options returns the provider options
func (c *ProviderConfig) Options() []llms.Option {
	opts := []llms.Option{
		llms.WithName(c.Name),
	}
	if key := c.ResolveAPIKey(); key != "" {
		opts = append(opts, llms.WithAPIKey(key))
	}
	if c.Model != "" {
		opts = append(opts, llms.WithModel(c.Model))
	}
	if c.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*c.Temperature))
	}
	if c.MaxTokens != 0 {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.Endpoint != "" {
		opts = append(opts, llms.WithEndpoint(c.Endpoint))
	}
	if c.APIVersion != "" {
		opts = append(opts, llms.WithAPIVersion(c.APIVersion))
	}
	if c.Region != "" {
		opts = append(opts, llms.WithRegion(c.Region))
	}
	return opts
}

// Find returns the provider by name
func (c *Config) Find(name string) *ProviderConfig {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// Select returns the default provider if it is enabled,
// otherwise the first enabled provider in the configured order.
func (c *Config) Select() (*ProviderConfig, error) {
	if c.DefaultProvider != "" {
		if p := c.Find(c.DefaultProvider); p != nil && p.Enabled {
			return p, nil
		}
	}
	for _, p := range c.Providers {
		if p.Enabled {
			return p, nil
		}
	}
	return nil, errors.WithStack(ErrNoEnabledProvider)
}

// Status returns the status of the configured providers,
// the active provider is marked as default.
func (c *Config) Status(active string) []ProviderStatus {
	res := make([]ProviderStatus, 0, len(c.Providers))
	for _, p := range c.Providers {
		res = append(res, ProviderStatus{
			Name:      DisplayName(p.Name),
			Enabled:   p.Enabled,
			IsDefault: active != "" && p.Name == active,
		})
	}
	return res
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid providers configuration")
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if seen[p.Name] {
			return errors.Newf("provider %q is configured more than once", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

package llms

import (
	"math"
	"strings"
)

// PlaceholderAPIKey is the value shipped in sample configurations
const PlaceholderAPIKey = "YOUR_API_KEY_HERE" //nolint:gosec

// Option is a function that configures the Options.
type Option func(*Options)

// Options is a set of options for a provider. Not all vendors use all options.
type Options struct {
	// Name is the configured name of the provider.
	Name string
	// APIKey is the credential of the vendor API.
	APIKey string
	// Model is the model to use, for Azure it is the deployment name.
	Model string
	// Temperature is the temperature for sampling,
	// nil means the provider default.
	Temperature *float64
	// MaxTokens is the maximum number of tokens to generate,
	// zero means the provider default.
	MaxTokens int

	// Endpoint is the base URL of the vendor API.
	Endpoint string
	// APIVersion is the version of the vendor API, used by Azure.
	APIVersion string
	// Region is the cloud region, used by Bedrock.
	Region string
}

// NewOptions returns the options with the defaults applied
// for values that are not set.
func NewOptions(defaults Options, opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Name == "" {
		o.Name = defaults.Name
	}
	if o.Model == "" {
		o.Model = defaults.Model
	}
	if o.Temperature == nil && defaults.Temperature != nil {
		o.Temperature = Float(*defaults.Temperature)
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = defaults.MaxTokens
	}
	if o.Endpoint == "" {
		o.Endpoint = defaults.Endpoint
	}
	if o.APIVersion == "" {
		o.APIVersion = defaults.APIVersion
	}
	if o.Region == "" {
		o.Region = defaults.Region
	}
	return o
}

// WithName specifies the configured name of the provider.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithAPIKey specifies the API key of the vendor.
func WithAPIKey(key string) Option {
	return func(o *Options) {
		o.APIKey = key
	}
}

// WithModel specifies which model name to use.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithTemperature specifies the model temperature, a hyperparameter that
// regulates the randomness, or creativity, of the AI's responses.
func WithTemperature(temperature float64) Option {
	return func(o *Options) {
		o.Temperature = Float(temperature)
	}
}

// WithMaxTokens specifies the max number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Options) {
		o.MaxTokens = maxTokens
	}
}

// WithEndpoint specifies the base URL of the vendor API.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
	}
}

// WithAPIVersion specifies the version of the vendor API.
func WithAPIVersion(version string) Option {
	return func(o *Options) {
		o.APIVersion = version
	}
}

// WithRegion specifies the cloud region.
func WithRegion(region string) Option {
	return func(o *Options) {
		o.Region = region
	}
}

// Float returns a pointer to the value
func Float(v float64) *float64 {
	return &v
}

// HasAPIKey returns false if the key is blank or a placeholder
func (o *Options) HasAPIKey() bool {
	return IsValidAPIKey(o.APIKey)
}

// IsValidAPIKey returns false if the key is blank or a placeholder
func IsValidAPIKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && key != PlaceholderAPIKey
}

// TemperatureOr returns the configured temperature, or the default
func (o *Options) TemperatureOr(def float64) float64 {
	if o.Temperature == nil {
		return def
	}
	return *o.Temperature
}

// ValidateSampling checks that temperature is in [0, maxTemperature]
// and max tokens is in [1, math.MaxInt32], the widest limit every vendor accepts.
func (o *Options) ValidateSampling(vendor string, maxTemperature float64) error {
	if o.Temperature != nil {
		t := *o.Temperature
		if t < 0 || t > maxTemperature {
			return ConfigError("%s: temperature must be between 0 and %g, got %g", vendor, maxTemperature, t)
		}
	}
	if o.MaxTokens <= 0 {
		return ConfigError("%s: max tokens must be greater than 0, got %d", vendor, o.MaxTokens)
	}
	if o.MaxTokens > math.MaxInt32 {
		return ConfigError("%s: max tokens must not exceed %d, got %d", vendor, math.MaxInt32, o.MaxTokens)
	}
	return nil
}

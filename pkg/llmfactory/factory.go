package llmfactory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/pkg/llms/anthropic"
	"github.com/effective-security/opsagent/pkg/llms/bedrock"
	"github.com/effective-security/opsagent/pkg/llms/googleai"
	"github.com/effective-security/opsagent/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/pkg", "llmfactory")

// ErrNoEnabledProvider is returned when no provider is enabled
var ErrNoEnabledProvider = errors.New("no enabled LLM provider found in configuration")

// NewProvider is a wrapper for CreateProvider to allow for overriding the default implementation.
var NewProvider = CreateProvider

// Factory is the interface for creating and managing LLM providers.
type Factory interface {
	// DefaultProvider returns the selected provider:
	// the configured default if it is enabled, otherwise the first enabled one.
	DefaultProvider(ctx context.Context) (llms.Provider, error)
	// ProviderByName returns the provider by its configured name.
	ProviderByName(ctx context.Context, name string) (llms.Provider, error)
	// Status returns the status of the configured providers.
	Status() []ProviderStatus
}

// Load returns the factory with configuration from the file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	active string
	byName map[string]llms.Provider
	lock   sync.Mutex
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	return &factory{
		cfg:    cfg,
		byName: make(map[string]llms.Provider),
	}
}

// CreateProvider creates the provider from the configuration
func CreateProvider(ctx context.Context, cfg *ProviderConfig) (llms.Provider, error) {
	opts := cfg.Options()
	switch cfg.Name {
	case ProviderGemini:
		return googleai.New(ctx, opts...)
	case ProviderOpenAI:
		return openai.New(opts...)
	case ProviderAzureOpenAI:
		return openai.NewAzure(opts...)
	case ProviderAnthropic:
		return anthropic.New(opts...)
	case ProviderBedrock:
		return bedrock.New(ctx, opts...)
	}
	return nil, errors.Mark(errors.Newf("unsupported provider: %s", cfg.Name), llms.ErrProviderConfigInvalid)
}

func (f *factory) DefaultProvider(ctx context.Context) (llms.Provider, error) {
	cfg, err := f.cfg.Select()
	if err != nil {
		return nil, err
	}
	return f.ProviderByName(ctx, cfg.Name)
}

func (f *factory) ProviderByName(ctx context.Context, name string) (llms.Provider, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if p, ok := f.byName[name]; ok {
		f.active = name
		return p, nil
	}

	cfg := f.cfg.Find(name)
	if cfg == nil {
		return nil, errors.Newf("provider not found: %s", name)
	}
	if !cfg.Enabled {
		return nil, errors.Newf("provider is not enabled: %s", name)
	}

	p, err := NewProvider(ctx, cfg)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "NewProvider",
			"name", cfg.Name,
			"err", err.Error(),
		)
		return nil, err
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "created_provider",
		"name", cfg.Name,
		"type", p.Type(),
		"model", p.Model(),
	)

	f.byName[name] = p
	f.active = name
	return p, nil
}

func (f *factory) Status() []ProviderStatus {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.cfg.Status(f.active)
}

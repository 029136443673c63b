package llmfactory_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	model string
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) Type() llms.ProviderType { return "FAKE" }
func (f *fakeProvider) Model() string           { return f.model }
func (f *fakeProvider) Converse(context.Context, *llms.Request) (*llms.Response, error) {
	return &llms.Response{Content: "ok"}, nil
}

func useFakeProvider(t *testing.T) *int {
	created := new(int)
	llmfactory.NewProvider = func(_ context.Context, cfg *llmfactory.ProviderConfig) (llms.Provider, error) {
		*created++
		return &fakeProvider{name: cfg.Name, model: cfg.Model}, nil
	}
	t.Cleanup(func() {
		llmfactory.NewProvider = llmfactory.CreateProvider
	})
	return created
}

func Test_LoadConfig(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "gemini-key")

	cfg, err := llmfactory.LoadConfig("testdata/providers.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 5)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)

	gemini := cfg.Find("gemini")
	require.NotNil(t, gemini)
	assert.Equal(t, "gemini-key", gemini.APIKey)
	require.NotNil(t, gemini.Temperature)
	assert.Equal(t, 0.2, *gemini.Temperature)
	assert.Equal(t, 1024, gemini.MaxTokens)
	assert.Equal(t, llms.ProviderGoogleAI, gemini.ProviderType())

	azure := cfg.Find("AZURE_OPENAI")
	require.NotNil(t, azure)
	assert.Equal(t, "2024-06-01", azure.APIVersion)
	assert.Equal(t, llms.ProviderAzure, azure.ProviderType())
	assert.Equal(t, "us-east-1", cfg.Find("bedrock").Region)
	assert.Nil(t, cfg.Find("mistral"))

	empty, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, empty.Providers)

	_, err = llmfactory.LoadConfig("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid providers configuration")

	_, err = llmfactory.LoadConfig("testdata/duplicate.yaml")
	assert.EqualError(t, err, `provider "openai" is configured more than once`)
}

func Test_Select(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       *llmfactory.Config
		exp       string
		expStatus []llmfactory.ProviderStatus
	}{
		{
			name: "only gemini enabled",
			cfg: &llmfactory.Config{
				DefaultProvider: "gemini",
				Providers: []*llmfactory.ProviderConfig{
					{Name: "gemini", Enabled: true},
				},
			},
			exp: "gemini",
			expStatus: []llmfactory.ProviderStatus{
				{Name: "Gemini", Enabled: true, IsDefault: true},
			},
		},
		{
			name: "default disabled falls back to first enabled",
			cfg: &llmfactory.Config{
				DefaultProvider: "anthropic",
				Providers: []*llmfactory.ProviderConfig{
					{Name: "anthropic"},
					{Name: "bedrock"},
					{Name: "openai", Enabled: true},
					{Name: "azure_openai", Enabled: true},
				},
			},
			exp: "openai",
			expStatus: []llmfactory.ProviderStatus{
				{Name: "Anthropic"},
				{Name: "Bedrock"},
				{Name: "OpenAI", Enabled: true, IsDefault: true},
				{Name: "Azure OpenAI", Enabled: true},
			},
		},
		{
			name: "default wins over order",
			cfg: &llmfactory.Config{
				DefaultProvider: "azure_openai",
				Providers: []*llmfactory.ProviderConfig{
					{Name: "openai", Enabled: true},
					{Name: "azure_openai", Enabled: true},
				},
			},
			exp: "azure_openai",
			expStatus: []llmfactory.ProviderStatus{
				{Name: "OpenAI", Enabled: true},
				{Name: "Azure OpenAI", Enabled: true, IsDefault: true},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.cfg.Select()
			require.NoError(t, err)
			assert.Equal(t, tc.exp, p.Name)
			assert.Equal(t, tc.expStatus, tc.cfg.Status(p.Name))
		})
	}

	none := &llmfactory.Config{
		DefaultProvider: "gemini",
		Providers:       []*llmfactory.ProviderConfig{{Name: "gemini"}},
	}
	_, err := none.Select()
	assert.True(t, errors.Is(err, llmfactory.ErrNoEnabledProvider))
	assert.Equal(t, []llmfactory.ProviderStatus{{Name: "Gemini"}}, none.Status(""))
}

func Test_ResolveAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OPENAI_API_KEY", llms.PlaceholderAPIKey)
	t.Setenv("AZURE_OPENAI_API_KEY", "azure-key")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")

	tests := []struct {
		cfg llmfactory.ProviderConfig
		exp string
	}{
		{cfg: llmfactory.ProviderConfig{Name: "gemini"}, exp: "google-key"},
		{cfg: llmfactory.ProviderConfig{Name: "gemini", APIKey: "configured"}, exp: "configured"},
		{cfg: llmfactory.ProviderConfig{Name: "gemini", APIKey: llms.PlaceholderAPIKey}, exp: "google-key"},
		{cfg: llmfactory.ProviderConfig{Name: "openai"}, exp: ""},
		{cfg: llmfactory.ProviderConfig{Name: "azure_openai"}, exp: "azure-key"},
		{cfg: llmfactory.ProviderConfig{Name: "anthropic"}, exp: "anthropic-key"},
		{cfg: llmfactory.ProviderConfig{Name: "bedrock"}, exp: ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.exp, tc.cfg.ResolveAPIKey(), tc.cfg.Name)
	}

	t.Setenv("GEMINI_API_KEY", "gemini-key")
	assert.Equal(t, "gemini-key", (&llmfactory.ProviderConfig{Name: "gemini"}).ResolveAPIKey())
}

func Test_Factory(t *testing.T) {
	created := useFakeProvider(t)

	f := llmfactory.New(&llmfactory.Config{
		DefaultProvider: "gemini",
		Providers: []*llmfactory.ProviderConfig{
			{Name: "gemini", Enabled: false},
			{Name: "openai", Enabled: true, Model: "gpt-4o-mini"},
			{Name: "anthropic", Enabled: true},
		},
	})

	assert.Equal(t, []llmfactory.ProviderStatus{
		{Name: "Gemini"},
		{Name: "OpenAI", Enabled: true},
		{Name: "Anthropic", Enabled: true},
	}, f.Status())

	p, err := f.DefaultProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4o-mini", p.Model())
	assert.True(t, f.Status()[1].IsDefault)

	// cached
	p2, err := f.DefaultProvider(context.Background())
	require.NoError(t, err)
	assert.Same(t, p, p2)
	assert.Equal(t, 1, *created)

	p, err = f.ProviderByName(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, f.Status()[2].IsDefault)
	assert.False(t, f.Status()[1].IsDefault)

	_, err = f.ProviderByName(context.Background(), "gemini")
	assert.EqualError(t, err, "provider is not enabled: gemini")
	_, err = f.ProviderByName(context.Background(), "bedrock")
	assert.EqualError(t, err, "provider not found: bedrock")

	_, err = llmfactory.New(&llmfactory.Config{}).DefaultProvider(context.Background())
	assert.True(t, errors.Is(err, llmfactory.ErrNoEnabledProvider))
}

func Test_CreateProvider(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("AZURE_OPENAI_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "")

	ctx := context.Background()
	tests := []struct {
		cfg     llmfactory.ProviderConfig
		expType llms.ProviderType
		err     error
	}{
		{cfg: llmfactory.ProviderConfig{Name: "gemini"}, err: llms.ErrProviderUninitialized},
		{cfg: llmfactory.ProviderConfig{Name: "gemini", APIKey: "key", Temperature: llms.Float(1.5)}, err: llms.ErrProviderConfigInvalid},
		{cfg: llmfactory.ProviderConfig{Name: "gemini", APIKey: "key"}, expType: llms.ProviderGoogleAI},
		{cfg: llmfactory.ProviderConfig{Name: "openai", Temperature: llms.Float(1.5)}, expType: llms.ProviderOpenAI},
		{cfg: llmfactory.ProviderConfig{Name: "azure_openai"}, err: llms.ErrProviderUninitialized},
		{cfg: llmfactory.ProviderConfig{Name: "azure_openai", Endpoint: "https://x.openai.azure.com", Model: "dep"}, expType: llms.ProviderAzure},
		{cfg: llmfactory.ProviderConfig{Name: "anthropic"}, err: llms.ErrProviderUninitialized},
		{cfg: llmfactory.ProviderConfig{Name: "anthropic", APIKey: "key"}, expType: llms.ProviderAnthropic},
		{cfg: llmfactory.ProviderConfig{Name: "mistral"}, err: llms.ErrProviderConfigInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.cfg.Name, func(t *testing.T) {
			p, err := llmfactory.CreateProvider(ctx, &tc.cfg)
			if tc.err != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expType, p.Type())
			assert.Equal(t, tc.cfg.Name, p.Name())
		})
	}
}

func Test_DisplayName(t *testing.T) {
	assert.Equal(t, "Gemini", llmfactory.DisplayName("gemini"))
	assert.Equal(t, "Azure OpenAI", llmfactory.DisplayName("azure_openai"))
	assert.Equal(t, "custom", llmfactory.DisplayName("custom"))
}

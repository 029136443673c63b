package agent

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config is the configuration of the agent
type Config struct {
	llmfactory.Config `json:",inline" yaml:",inline"`

	// SystemPromptFile overrides the embedded system prompt
	SystemPromptFile string `json:"system_prompt_file,omitempty" yaml:"system_prompt_file,omitempty"`
	// UnsafeMode runs the command line tools without asking for confirmation
	UnsafeMode bool `json:"unsafe_mode,omitempty" yaml:"unsafe_mode,omitempty"`
	// MCPServers specifies the MCP servers to connect to
	MCPServers []*mcp.ServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty" validate:"dive"`
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid MCP servers configuration")
	}

	seen := map[string]bool{}
	for _, s := range c.MCPServers {
		if seen[s.ID] {
			return errors.Newf("MCP server %q is configured more than once", s.ID)
		}
		seen[s.ID] = true
		if _, err := s.RequestTimeout(); err != nil {
			return err
		}
	}
	return nil
}

// SystemPrompt returns the system prompt:
// the content of SystemPromptFile if set, otherwise the embedded prompt.
func (c *Config) SystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read system prompt")
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.Newf("system prompt is empty: %s", c.SystemPromptFile)
	}
	return prompt, nil
}

// LoadConfig from file, environment variables in the file are expanded
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

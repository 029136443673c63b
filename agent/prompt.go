package agent

import (
	_ "embed"
	"strings"
)

//go:embed prompt.md
var systemPrompt string

// DefaultSystemPrompt is the instructions for the DevOps assistant
var DefaultSystemPrompt = strings.TrimSpace(systemPrompt)

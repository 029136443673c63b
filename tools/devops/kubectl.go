package devops

import (
	"context"

	"github.com/effective-security/opsagent/tools"
)

// KubectlToolName is the name of the kubectl tool
const KubectlToolName = "kubectl"

// KubectlRequest is the input of the kubectl tool
type KubectlRequest struct {
	Command   string `json:"command" yaml:"command" jsonschema:"description=The kubectl command to execute (without the 'kubectl' prefix)"`
	Context   string `json:"context,omitempty" yaml:"context,omitempty" jsonschema:"description=The Kubernetes context to use (optional)"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" jsonschema:"description=The Kubernetes namespace to use (optional)"`
	Output    string `json:"output,omitempty" yaml:"output,omitempty" jsonschema:"description=The output format such as json or yaml or wide (optional)"`
}

// NewKubectl returns the kubectl tool, binary defaults to kubectl in PATH
func NewKubectl(binary string) (*tools.Typed[KubectlRequest, Result], error) {
	if binary == "" {
		binary = KubectlToolName
	}
	return tools.New(KubectlToolName, "Execute a kubectl command and return the result",
		func(ctx context.Context, req *KubectlRequest) (Result, error) {
			var flags []string
			flags = append(flags, flag("context", req.Context)...)
			flags = append(flags, flag("namespace", req.Namespace)...)
			flags = append(flags, flag("output", req.Output)...)
			return run(ctx, KubectlToolName, binary, flags, req.Command)
		})
}

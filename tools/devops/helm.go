package devops

import (
	"context"

	"github.com/effective-security/opsagent/tools"
)

// HelmToolName is the name of the helm tool
const HelmToolName = "helm"

// HelmRequest is the input of the helm tool
type HelmRequest struct {
	Command     string `json:"command" yaml:"command" jsonschema:"description=The helm command to execute (without the 'helm' prefix)"`
	KubeContext string `json:"kubecontext,omitempty" yaml:"kubecontext,omitempty" jsonschema:"description=The Kubernetes context to use for Helm (optional)"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty" jsonschema:"description=The Kubernetes namespace to use for Helm (optional)"`
	Output      string `json:"output,omitempty" yaml:"output,omitempty" jsonschema:"description=The output format such as json or yaml or table (optional)"`
}

// NewHelm returns the helm tool, binary defaults to helm in PATH
func NewHelm(binary string) (*tools.Typed[HelmRequest, Result], error) {
	if binary == "" {
		binary = HelmToolName
	}
	return tools.New(HelmToolName, "Execute a helm command and return the result",
		func(ctx context.Context, req *HelmRequest) (Result, error) {
			var flags []string
			flags = append(flags, flag("kube-context", req.KubeContext)...)
			flags = append(flags, flag("namespace", req.Namespace)...)
			// not every helm subcommand accepts --output
			flags = append(flags, flag("output", req.Output)...)
			return run(ctx, HelmToolName, binary, flags, req.Command)
		})
}

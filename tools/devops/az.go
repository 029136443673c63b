package devops

import (
	"context"

	"github.com/effective-security/opsagent/tools"
)

// AzToolName is the name of the Azure CLI tool
const AzToolName = "az"

// AzRequest is the input of the Azure CLI tool
type AzRequest struct {
	Command       string `json:"command" yaml:"command" jsonschema:"description=The Azure CLI command to execute (without the 'az' prefix)"`
	Subscription  string `json:"subscription,omitempty" yaml:"subscription,omitempty" jsonschema:"description=The Azure subscription ID or name to use (optional)"`
	ResourceGroup string `json:"resource_group,omitempty" yaml:"resource_group,omitempty" jsonschema:"description=The Azure resource group to use (optional)"`
	Output        string `json:"output,omitempty" yaml:"output,omitempty" jsonschema:"description=The output format such as json or yaml or table or tsv (optional)"`
}

// NewAz returns the Azure CLI tool, binary defaults to az in PATH
func NewAz(binary string) (*tools.Typed[AzRequest, Result], error) {
	if binary == "" {
		binary = AzToolName
	}
	return tools.New(AzToolName, "Execute an Azure CLI command and return the result",
		func(ctx context.Context, req *AzRequest) (Result, error) {
			var flags []string
			flags = append(flags, flag("subscription", req.Subscription)...)
			flags = append(flags, flag("resource-group", req.ResourceGroup)...)
			flags = append(flags, flag("output", req.Output)...)
			return run(ctx, AzToolName, binary, flags, req.Command)
		})
}

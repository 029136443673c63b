// Package llmfactory provides configuration and construction of LLM providers,
// with environment credential fallback and default provider selection.
package llmfactory

// Package llms provides unified support for interacting with different Language Models (LLMs) from various providers.
//
// Each subpackage adapts one vendor SDK to the Provider interface. The vendor
// specifics are confined to an Exchange, which builds the vendor request and
// keeps the vendor message history for the duration of a turn. The turn itself
// is shared by all vendors and implemented by RunTurn:
// completion with tools, concurrent execution of the requested tool calls,
// and a follow-up completion without tools.
//
// The `generatecontent.go` file contains the normalized messages and responses.
//
// The `options.go` file provides the options and bounds to configure the providers.
package llms

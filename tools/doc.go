// Package tools defines the Tool interface for the agent, the Registry of
// uniquely named tools and typed tools with contracts reflected from Go types.
// Tools enable the model to interact with the local host and remote tool servers
// in a structured, validated way.
package tools

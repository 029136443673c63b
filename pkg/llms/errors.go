package llms

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrProviderUninitialized is returned when the provider credentials are missing.
	ErrProviderUninitialized = errors.New("provider is not initialized")
	// ErrProviderConfigInvalid is returned when the provider options are out of bounds.
	ErrProviderConfigInvalid = errors.New("invalid provider configuration")

	// ErrUpstream is returned when the vendor call fails.
	ErrUpstream = errors.New("upstream call failed")
	// ErrEmptyUpstreamResponse is returned when the model returns neither text nor tool calls.
	ErrEmptyUpstreamResponse = errors.New("empty response from model")
	// ErrEmptyFollowUpResponse is returned when the model returns no text after the tool calls.
	ErrEmptyFollowUpResponse = errors.New("empty response from model after tool calls")

	// ErrToolNotFound is returned when the model calls an unknown tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolArgumentInvalid is returned when the arguments do not satisfy the tool input contract.
	ErrToolArgumentInvalid = errors.New("invalid tool arguments")
	// ErrToolOutputInvalid is returned when the tool result does not satisfy the tool output contract.
	ErrToolOutputInvalid = errors.New("invalid tool output")
)

// UpstreamError marks the vendor failure as ErrUpstream
func UpstreamError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUpstream)
}

// ConfigError returns ErrProviderConfigInvalid with the message
func ConfigError(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrProviderConfigInvalid)
}

// UninitializedError returns ErrProviderUninitialized with the message
func UninitializedError(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrProviderUninitialized)
}

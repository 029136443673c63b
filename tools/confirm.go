package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent", "tools")

// ErrDeclined is returned when the user does not allow the tool to run
var ErrDeclined = errors.New("tool execution cancelled by user")

// ConfirmFunc asks whether the tool may run with the arguments
type ConfirmFunc func(ctx context.Context, name string, args map[string]any) (bool, error)

// Confirmed is a tool that asks for confirmation before each call
type Confirmed struct {
	Tool
	confirm ConfirmFunc
}

// WithConfirmation wraps the tool, a nil confirm returns the tool as is
func WithConfirmation(tool Tool, confirm ConfirmFunc) Tool {
	if confirm == nil {
		return tool
	}
	return &Confirmed{Tool: tool, confirm: confirm}
}

// Call runs the tool if confirmed, otherwise returns ErrDeclined
func (t *Confirmed) Call(ctx context.Context, args map[string]any) (any, error) {
	ok, err := t.confirm(ctx, t.Name(), args)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to confirm tool %q", t.Name())
	}
	if !ok {
		logger.ContextKV(ctx, xlog.INFO,
			"status", "declined",
			"tool", t.Name(),
		)
		return nil, errors.WithStack(ErrDeclined)
	}
	return t.Tool.Call(ctx, args)
}

package callbacks

import (
	"context"
	"io"
	"sync"

	"github.com/effective-security/opsagent/chatmodel"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/xlog"
	"github.com/fatih/color"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ tools.Callback = (*Noop)(nil)
	_ tools.Callback = (*Printer)(nil)
	_ tools.Callback = (*PackageLogger)(nil)
	_ tools.Callback = (*Fanout)(nil)
	_ tools.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []tools.Callback
}

func NewFanout(callbacks ...tools.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback tools.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnToolStart(ctx context.Context, tool tools.Tool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool tools.Tool, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool tools.Tool, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, input, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, name string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, name)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnToolStart(ctx context.Context, tool tools.Tool, input string)              {}
func (l *Noop) OnToolEnd(ctx context.Context, tool tools.Tool, input string, output string) {}
func (l *Noop) OnToolError(ctx context.Context, tool tools.Tool, input string, err error)   {}
func (l *Noop) OnToolNotFound(ctx context.Context, name string)                             {}

// Printer is a callback handler that prints to the Writer.
// The colors are controlled by color.NoColor.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

var (
	toolColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	dimColor   = color.New(color.FgHiBlack)
)

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnToolStart(ctx context.Context, tool tools.Tool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	toolColor.Fprintf(l.Out, "Executing tool %s\n", tool.Name())
	if l.Mode == ModeVerbose {
		dimColor.Fprintf(l.Out, "Input: %s\n", input)
	}
}

func (l *Printer) OnToolEnd(ctx context.Context, tool tools.Tool, input string, output string) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	dimColor.Fprintf(l.Out, "Output: %s\n", output)
}

func (l *Printer) OnToolError(ctx context.Context, tool tools.Tool, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	errorColor.Fprintf(l.Out, "Tool %s failed: %s\n", tool.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, name string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	errorColor.Fprintf(l.Out, "Tool not found: %s\n", name)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool tools.Tool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"chat_id", chatmodel.GetChatID(ctx),
		"tool", tool.Name(),
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool tools.Tool, input string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"chat_id", chatmodel.GetChatID(ctx),
		"tool", tool.Name(),
		"output", output,
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool tools.Tool, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"chat_id", chatmodel.GetChatID(ctx),
		"tool", tool.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, name string) {
	l.logger.ContextKV(ctx, xlog.WARNING,
		"event", "tool_not_found",
		"chat_id", chatmodel.GetChatID(ctx),
		"tool", name,
	)
}

// Package stdio implements the MCP transport over newline-delimited JSON-RPC
// on the standard input and output of a server process.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/mcp/transport", "stdio")

// ErrClosed is returned when sending over a closed transport
var ErrClosed = errors.New("transport is closed")

const readBufferSize = 64 * 1024

// Transport reads messages from reader, one per line,
// and writes messages to writer.
type Transport struct {
	reader  *bufio.Reader
	writer  io.Writer
	closers []func() error

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	writeMu        sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New returns the transport over the given streams,
// the closers are called in order when the transport is closed.
func New(reader io.Reader, writer io.Writer, closers ...func() error) *Transport {
	return &Transport{
		reader:  bufio.NewReaderSize(reader, readBufferSize),
		writer:  writer,
		closers: closers,
		done:    make(chan struct{}),
	}
}

// Start starts reading messages
func (t *Transport) Start(ctx context.Context) error {
	select {
	case <-t.done:
		return errors.WithStack(ErrClosed)
	default:
	}
	t.startOnce.Do(func() {
		go t.readLoop()
	})
	return nil
}

func (t *Transport) readLoop() {
	ctx := context.Background()
	for {
		line, err := t.reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			t.dispatch(ctx, line)
		}
		if err != nil {
			select {
			case <-t.done:
			default:
				if !errors.Is(err, io.EOF) {
					t.reportError(errors.Wrap(err, "failed to read message"))
				}
			}
			t.shutdown()
			return
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, line []byte) {
	msg, err := transport.ParseMessage(line)
	if err != nil {
		// servers may print diagnostics on stdout
		logger.KV(xlog.DEBUG, "status", "skipped_line", "err", err.Error())
		t.reportError(err)
		return
	}

	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

// Send writes the message followed by a new line
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	select {
	case <-t.done:
		return errors.WithStack(ErrClosed)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	default:
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err = t.writer.Write(data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Close closes the streams
func (t *Transport) Close() error {
	t.shutdown()
	return t.closeErr
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		for _, closer := range t.closers {
			if err := closer(); err != nil {
				t.closeErr = errors.CombineErrors(t.closeErr, err)
			}
		}

		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
}

func (t *Transport) reportError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// SetErrorHandler sets the callback for when an error occurs.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetCloseHandler sets the callback for when the connection is closed for any reason.
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetMessageHandler sets the callback for when a message is received over the connection.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

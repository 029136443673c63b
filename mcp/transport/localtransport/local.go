// Package localtransport provides an in-process transport pair,
// used to host MCP servers in the same process as the client.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp/transport"
)

// ErrClosed is returned when sending over a closed pair
var ErrClosed = errors.New("transport is closed")

const inboxSize = 64

// Transport is one side of the in-process pair.
// Messages are passed in their wire form.
type Transport struct {
	peer  *Transport
	inbox chan []byte
	conn  *connection

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	startOnce      sync.Once
}

// connection is shared by both sides of the pair
type connection struct {
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// NewPair returns the connected client and server sides
func NewPair() (client *Transport, server *Transport) {
	conn := &connection{done: make(chan struct{})}
	client = &Transport{
		inbox: make(chan []byte, inboxSize),
		conn:  conn,
	}
	server = &Transport{
		inbox: make(chan []byte, inboxSize),
		conn:  conn,
	}
	client.peer = server
	server.peer = client
	return client, server
}

// Start starts delivering the received messages to the message handler
func (t *Transport) Start(ctx context.Context) error {
	select {
	case <-t.conn.done:
		return errors.WithStack(ErrClosed)
	default:
	}
	t.startOnce.Do(func() {
		go t.deliver()
	})
	return nil
}

func (t *Transport) deliver() {
	ctx := context.Background()
	for {
		select {
		case <-t.conn.done:
			return
		case data := <-t.inbox:
			msg, err := transport.ParseMessage(data)
			if err != nil {
				t.reportError(err)
				continue
			}
			t.mu.RLock()
			handler := t.messageHandler
			t.mu.RUnlock()
			if handler != nil {
				handler(ctx, msg)
			}
		}
	}
}

// Send sends a JSON-RPC message to the peer.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	select {
	case <-t.conn.done:
		return errors.WithStack(ErrClosed)
	default:
	}

	select {
	case t.peer.inbox <- data:
		return nil
	case <-t.conn.done:
		return errors.WithStack(ErrClosed)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Close closes both sides of the pair.
func (t *Transport) Close() error {
	t.conn.closeOnce.Do(func() {
		close(t.conn.done)
		t.notifyClose()
		t.peer.notifyClose()
	})
	return nil
}

func (t *Transport) notifyClose() {
	t.mu.RLock()
	handler := t.closeHandler
	t.mu.RUnlock()
	if handler != nil {
		handler()
	}
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

// Package protocol implements JSON-RPC request and response correlation
// on top of a pluggable transport.
//
// The Protocol handles:
//   - request IDs, per-request timeouts and context cancellation,
//     with the `notifications/cancelled` notification sent to the remote side
//   - notifications in both directions
//   - progress notifications for long running requests
//   - `ping` requests from the remote side
//   - failing all pending requests when the transport is closed
//
// Usage:
//
//	p := protocol.NewProtocol(nil)
//	if err := p.Connect(tr); err != nil {
//		return err
//	}
//	defer p.Close()
//
//	result, err := p.Request(ctx, "tools/list", nil, &protocol.RequestOptions{
//		Timeout: 5 * time.Second,
//	})
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent/mcp/internal", "protocol")

// DefaultRequestTimeout is used when the request options do not specify one
const DefaultRequestTimeout = 60 * time.Second

var (
	// ErrNotConnected is returned when the protocol has no transport
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionClosed is returned for requests pending when the transport is closed
	ErrConnectionClosed = errors.New("connection closed")
	// ErrRequestTimeout is returned when the remote side does not respond in time
	ErrRequestTimeout = errors.New("request timeout")
)

// RPCError is the error returned by the remote side
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Progress represents a progress update
type Progress struct {
	Progress int64 `json:"progress"`
	Total    int64 `json:"total"`
}

// ProgressCallback is a callback for progress notifications
type ProgressCallback func(progress Progress)

// ProtocolOptions contains additional initialization options
type ProtocolOptions struct {
	// RequestTimeout is the default timeout of requests,
	// DefaultRequestTimeout is used if not specified
	RequestTimeout time.Duration
}

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// OnProgress is called when progress notifications are received from the remote end
	OnProgress ProgressCallback
	// Timeout specifies a timeout for this request,
	// the protocol default is used if not specified
	Timeout time.Duration
}

// RequestHandlerExtra contains extra data given to request handlers
type RequestHandlerExtra struct {
	// Context used to communicate if the request was cancelled from the sender's side
	Context context.Context
}

// RequestHandler handles the request and returns the result
type RequestHandler func(context.Context, *transport.BaseJSONRPCRequest, RequestHandlerExtra) (transport.JsonRpcBody, error)

// NotificationHandler handles the notification
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol implements MCP protocol framing on top of a pluggable transport,
// including features like request/response linking, notifications, and progress
type Protocol struct {
	transport transport.Transport
	timeout   time.Duration

	requestMessageID transport.RequestId
	closed           bool
	mu               sync.RWMutex

	// Maps method name to request handler
	requestHandlers map[string]RequestHandler
	// Maps request ID to cancellation function
	requestCancellers map[transport.RequestId]context.CancelFunc
	// Maps method name to notification handler
	notificationHandlers map[string]NotificationHandler
	// Maps message ID to response handler
	responseHandlers map[transport.RequestId]chan *responseEnvelope
	// Maps message ID to progress handler
	progressHandlers map[transport.RequestId]ProgressCallback

	// Callback for when the connection is closed for any reason
	OnClose func()
	// Callback for when an error occurs
	OnError func(error)
}

type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// NewProtocol creates a new Protocol instance
func NewProtocol(options *ProtocolOptions) *Protocol {
	p := &Protocol{
		timeout:              DefaultRequestTimeout,
		requestHandlers:      make(map[string]RequestHandler),
		requestCancellers:    make(map[transport.RequestId]context.CancelFunc),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
		progressHandlers:     make(map[transport.RequestId]ProgressCallback),
	}
	if options != nil && options.RequestTimeout > 0 {
		p.timeout = options.RequestTimeout
	}

	p.SetRequestHandler("ping", handlePing)
	p.SetNotificationHandler("notifications/cancelled", p.handleCancelledNotification)
	p.SetNotificationHandler("notifications/progress", p.handleProgressNotification)

	return p
}

// Connect attaches to the given transport, starts it, and starts listening for messages
func (p *Protocol) Connect(tr transport.Transport) error {
	p.mu.Lock()
	p.transport = tr
	p.closed = false
	p.mu.Unlock()

	tr.SetCloseHandler(p.handleClose)
	tr.SetErrorHandler(p.handleError)
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse.Id, &responseEnvelope{result: message.JsonRpcResponse.Result})
		case transport.BaseMessageTypeJSONRPCErrorType:
			p.handleResponse(message.JsonRpcError.Id, &responseEnvelope{err: &RPCError{
				Code:    message.JsonRpcError.Error.Code,
				Message: message.JsonRpcError.Error.Message,
			}})
		}
	})

	return tr.Start(context.Background())
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for _, cancel := range p.requestCancellers {
		cancel()
	}
	// fail all pending requests
	for id, ch := range p.responseHandlers {
		select {
		case ch <- &responseEnvelope{err: errors.WithStack(ErrConnectionClosed)}:
		default:
		}
		delete(p.responseHandlers, id)
	}
	p.requestCancellers = make(map[transport.RequestId]context.CancelFunc)
	p.progressHandlers = make(map[transport.RequestId]ProgressCallback)
	onClose := p.OnClose
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	logger.KV(xlog.DEBUG, "status", "transport_error", "err", err.Error())
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "method", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.Wrap(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"method", request.Method,
		"id", request.Id,
	)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	if handler == nil {
		p.sendErrorResponse(request.Id, transport.ErrorCodeMethodNotFound, "method not found: "+request.Method)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.requestCancellers[request.Id] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requestCancellers, request.Id)
			p.mu.Unlock()
			cancel()
		}()

		result, err := handler(ctx, request, RequestHandlerExtra{Context: ctx})
		if err != nil {
			logger.KV(xlog.DEBUG, "method", request.Method, "id", request.Id, "err", err.Error())
			p.sendErrorResponse(request.Id, transport.ErrorCodeServerError, err.Error())
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			p.sendErrorResponse(request.Id, transport.ErrorCodeInternalError, "failed to marshal result")
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JsonRpcVersion,
			Id:      request.Id,
			Result:  jsonResult,
		}

		if err := p.send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func handlePing(context.Context, *transport.BaseJSONRPCRequest, RequestHandlerExtra) (transport.JsonRpcBody, error) {
	return map[string]any{}, nil
}

func (p *Protocol) handleProgressNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		Progress      int64               `json:"progress"`
		Total         int64               `json:"total"`
		ProgressToken transport.RequestId `json:"progressToken"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal progress params")
	}

	p.mu.RLock()
	handler := p.progressHandlers[params.ProgressToken]
	p.mu.RUnlock()

	if handler != nil {
		handler(Progress{
			Progress: params.Progress,
			Total:    params.Total,
		})
	}

	return nil
}

func (p *Protocol) handleCancelledNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		RequestId transport.RequestId `json:"requestId"`
		Reason    string              `json:"reason"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal cancelled params")
	}

	p.mu.RLock()
	cancel := p.requestCancellers[params.RequestId]
	p.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

func (p *Protocol) handleResponse(id transport.RequestId, envelope *responseEnvelope) {
	p.mu.RLock()
	ch := p.responseHandlers[id]
	p.mu.RUnlock()

	if ch == nil {
		logger.KV(xlog.DEBUG, "status", "unexpected_response", "id", id)
		return
	}
	select {
	case ch <- envelope:
	default:
		// duplicate response
	}
}

// Close closes the connection
func (p *Protocol) Close() error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()

	if tr == nil {
		return nil
	}
	err := tr.Close()
	// the transport may not report the close
	p.handleClose()
	return err
}

// Request sends a request and waits for a response
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	p.mu.Lock()
	if p.transport == nil {
		p.mu.Unlock()
		return nil, errors.WithStack(ErrNotConnected)
	}
	if p.closed {
		p.mu.Unlock()
		return nil, errors.WithStack(ErrConnectionClosed)
	}
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	if opts.OnProgress != nil {
		p.progressHandlers[id] = opts.OnProgress
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		delete(p.progressHandlers, id)
		p.mu.Unlock()
	}()

	requestParams := params
	if opts.OnProgress != nil {
		meta := map[string]any{
			"progressToken": id,
		}
		if params == nil {
			requestParams = map[string]any{
				"_meta": meta,
			}
		} else if paramsMap, ok := params.(map[string]any); ok {
			paramsMap["_meta"] = meta
			requestParams = paramsMap
		} else {
			return nil, errors.New("params must be nil or map[string]any when using progress")
		}
	}

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  method,
		Id:      id,
	}
	if requestParams != nil {
		marshalledParams, err := json.Marshal(requestParams)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		request.Params = marshalledParams
	}

	if err := p.send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil
	case <-ctx.Done():
		p.sendCancelNotification(id, ctx.Err().Error())
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
		p.sendCancelNotification(id, "request timeout")
		return nil, errors.Wrapf(ErrRequestTimeout, "%s: no response after %v", method, timeout)
	}
}

func (p *Protocol) send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()
	if tr == nil {
		return errors.WithStack(ErrNotConnected)
	}
	return tr.Send(ctx, message)
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) {
	params := map[string]any{
		"requestId": requestID,
		"reason":    reason,
	}
	if err := p.Notification("notifications/cancelled", params); err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, code int, message string) {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: transport.JsonRpcVersion,
		Id:      requestID,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    code,
			Message: message,
		},
	}
	if err := p.send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send error response"))
	}
}

// Notification emits a notification, which is a one-way message that does not expect a response
func (p *Protocol) Notification(method string, params any) error {
	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  method,
	}
	if params != nil {
		marshalled, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		notification.Params = marshalled
	}

	return p.send(context.Background(), transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler to invoke when this protocol object receives a request with the given method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler to invoke when this protocol object receives a notification with the given method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}

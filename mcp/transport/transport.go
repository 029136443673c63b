// Package transport provides the JSON-RPC 2.0 message model
// and the Transport interface used by MCP clients.
package transport

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JsonRpcVersion is the version of JSON-RPC used by MCP
const JsonRpcVersion = "2.0"

// Standard JSON-RPC error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
	ErrorCodeServerError    = -32000
)

// Transport describes the minimal contract for a MCP transport that a client or server can communicate over.
type Transport interface {
	// Start starts processing messages on the transport, including any connection steps that might need to be taken.
	//
	// This method should only be called after callbacks are installed, or else messages may be lost.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC message (request, notification or response).
	Send(ctx context.Context, message *BaseJsonRpcMessage) error

	// Close closes the connection.
	Close() error

	// SetCloseHandler sets the callback for when the connection is closed for any reason.
	// This should be invoked when Close() is called as well.
	SetCloseHandler(handler func())

	// SetErrorHandler sets the callback for when an error occurs.
	// Note that errors are not necessarily fatal; they are used for reporting any kind of exceptional condition out of band.
	SetErrorHandler(handler func(error))

	// SetMessageHandler sets the callback for when a message (request, notification or response) is received over the connection.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}

// RequestId is the ID of a request, correlating it with the response
type RequestId int64

// JsonRpcBody is the result of a request handler, serialized as the response result
type JsonRpcBody any

// BaseJSONRPCRequest is a request that expects a response
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCNotification is a notification which does not expect a response
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful (non-error) response to a request
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCErrorInner is the error of a failed request
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is a response to a request that indicates an error occurred
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Error   BaseJSONRPCErrorInner `json:"error"`
	Id      RequestId             `json:"id"`
}

// BaseMessageType is the kind of the message
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is a union of the JSON-RPC messages,
// only the member matching Type is set.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// MarshalJSON returns the wire form of the message
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	default:
		return nil, errors.Newf("unknown message type: %q", m.Type)
	}
}

// NewBaseMessageRequest returns the message for the request
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification returns the message for the notification
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse returns the message for the response
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError returns the message for the error response
func NewBaseMessageError(response *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: response,
	}
}

// envelope has the union of the fields of all message kinds
type envelope struct {
	Jsonrpc string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  json.RawMessage        `json:"params"`
	Id      *RequestId             `json:"id"`
	Result  json.RawMessage        `json:"result"`
	Error   *BaseJSONRPCErrorInner `json:"error"`
}

// ParseMessage decodes a single JSON-RPC message
func ParseMessage(data []byte) (*BaseJsonRpcMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}
	if env.Jsonrpc != JsonRpcVersion {
		return nil, errors.Newf("unsupported jsonrpc version: %q", env.Jsonrpc)
	}

	switch {
	case env.Method != "" && env.Id != nil:
		return NewBaseMessageRequest(&BaseJSONRPCRequest{
			Jsonrpc: env.Jsonrpc,
			Method:  env.Method,
			Params:  env.Params,
			Id:      *env.Id,
		}), nil
	case env.Method != "":
		return NewBaseMessageNotification(&BaseJSONRPCNotification{
			Jsonrpc: env.Jsonrpc,
			Method:  env.Method,
			Params:  env.Params,
		}), nil
	case env.Id == nil:
		return nil, errors.New("message has neither method nor id")
	case env.Error != nil:
		return NewBaseMessageError(&BaseJSONRPCError{
			Jsonrpc: env.Jsonrpc,
			Error:   *env.Error,
			Id:      *env.Id,
		}), nil
	default:
		return NewBaseMessageResponse(&BaseJSONRPCResponse{
			Jsonrpc: env.Jsonrpc,
			Result:  env.Result,
			Id:      *env.Id,
		}), nil
	}
}

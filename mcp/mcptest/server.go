// Package mcptest provides an in-process MCP server for tests.
package mcptest

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/mcp/internal/protocol"
	"github.com/effective-security/opsagent/mcp/transport"
	"github.com/effective-security/opsagent/mcp/transport/localtransport"
)

// ToolHandler implements a tool of the server
type ToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// PromptHandler renders a prompt of the server
type PromptHandler func(args map[string]string) (*mcp.GetPromptResult, error)

// Server is a fake MCP server
type Server struct {
	// Name is reported in the handshake
	Name string
	// PageSize splits the lists into pages when positive
	PageSize int

	lock      sync.RWMutex
	tools     []mcp.ToolDefinition
	handlers  map[string]ToolHandler
	resources []mcp.Resource
	contents  map[string]string
	prompts   []mcp.Prompt
	renderers map[string]PromptHandler

	initialized atomic.Bool
	requests    atomic.Int32
	clientInfo  atomic.Value
}

// NewServer returns an empty server
func NewServer(name string) *Server {
	return &Server{
		Name:      name,
		handlers:  make(map[string]ToolHandler),
		contents:  make(map[string]string),
		renderers: make(map[string]PromptHandler),
	}
}

// AddTool adds the tool
func (s *Server) AddTool(def mcp.ToolDefinition, handler ToolHandler) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tools = append(s.tools, def)
	s.handlers[def.Name] = handler
	return s
}

// AddTextTool adds the tool which returns the text produced by fn
func (s *Server) AddTextTool(name, description, inputSchema string, fn func(args map[string]any) (string, error)) *Server {
	def := mcp.ToolDefinition{
		Name:        name,
		Description: description,
	}
	if inputSchema != "" {
		def.InputSchema = json.RawMessage(inputSchema)
	}
	return s.AddTool(def, func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		text, err := fn(args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{{Type: "text", Text: text}},
		}, nil
	})
}

// AddResource adds the resource with the text content
func (s *Server) AddResource(r mcp.Resource, text string) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.resources = append(s.resources, r)
	s.contents[r.URI] = text
	return s
}

// AddPrompt adds the prompt
func (s *Server) AddPrompt(p mcp.Prompt, render PromptHandler) *Server {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.prompts = append(s.prompts, p)
	s.renderers[p.Name] = render
	return s
}

// Initialized returns true when the client sent notifications/initialized
func (s *Server) Initialized() bool {
	return s.initialized.Load()
}

// Requests returns the number of requests received, excluding initialize
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// ClientInfo returns the client reported in the handshake
func (s *Server) ClientInfo() mcp.Implementation {
	info, _ := s.clientInfo.Load().(mcp.Implementation)
	return info
}

// Serve serves the requests received over the transport
func (s *Server) Serve(tr transport.Transport) error {
	p := protocol.NewProtocol(nil)
	p.SetRequestHandler("initialize", s.handleInitialize)
	p.SetNotificationHandler("notifications/initialized", func(*transport.BaseJSONRPCNotification) error {
		s.initialized.Store(true)
		return nil
	})
	p.SetRequestHandler("tools/list", s.handleListTools)
	p.SetRequestHandler("tools/call", s.handleCallTool)
	p.SetRequestHandler("resources/list", s.handleListResources)
	p.SetRequestHandler("resources/read", s.handleReadResource)
	p.SetRequestHandler("prompts/list", s.handleListPrompts)
	p.SetRequestHandler("prompts/get", s.handleGetPrompt)
	return p.Connect(tr)
}

// Client returns a client connected to the server, not initialized
func (s *Server) Client(serverID string) (*mcp.Client, error) {
	client, server := localtransport.NewPair()
	if err := s.Serve(server); err != nil {
		return nil, err
	}
	return mcp.NewClient(serverID, client, 0), nil
}

// Dial returns an initialized session with the server
func (s *Server) Dial(ctx context.Context, cfg *mcp.ServerConfig) (mcp.Session, error) {
	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	client, server := localtransport.NewPair()
	if err = s.Serve(server); err != nil {
		return nil, err
	}
	c := mcp.NewClient(cfg.ID, client, timeout)
	if _, err = c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Dialer returns the dialer which connects the ids to the servers,
// unknown ids fail to connect.
func Dialer(servers map[string]*Server) mcp.Dialer {
	return func(ctx context.Context, cfg *mcp.ServerConfig) (mcp.Session, error) {
		s, ok := servers[cfg.ID]
		if !ok {
			return nil, errors.Newf("failed to start %q: executable file not found", cfg.Command)
		}
		return s.Dial(ctx, cfg)
	}
}

func (s *Server) handleInitialize(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	var params struct {
		ProtocolVersion string             `json:"protocolVersion"`
		ClientInfo      mcp.Implementation `json:"clientInfo"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Wrap(err, "invalid initialize params")
	}
	s.clientInfo.Store(params.ClientInfo)

	return &mcp.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo: mcp.Implementation{
			Name:    s.Name,
			Version: "0.0.1",
		},
	}, nil
}

type listParams struct {
	Cursor string `json:"cursor"`
}

// page returns the page of the list starting at the cursor
func page[T any](s *Server, list []T, raw json.RawMessage) ([]T, string, error) {
	var params listParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, "", errors.Wrap(err, "invalid list params")
		}
	}
	if s.PageSize <= 0 {
		return list, "", nil
	}

	start := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 || n > len(list) {
			return nil, "", errors.Newf("invalid cursor: %q", params.Cursor)
		}
		start = n
	}
	end := min(start+s.PageSize, len(list))
	next := ""
	if end < len(list) {
		next = strconv.Itoa(end)
	}
	return list[start:end], next, nil
}

func (s *Server) handleListTools(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	s.lock.RLock()
	list := slices.Clone(s.tools)
	s.lock.RUnlock()

	items, next, err := page(s, list, req.Params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"tools":      items,
		"nextCursor": next,
	}, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Wrap(err, "invalid call params")
	}

	s.lock.RLock()
	handler := s.handlers[params.Name]
	s.lock.RUnlock()
	if handler == nil {
		return nil, errors.Newf("unknown tool: %s", params.Name)
	}
	return handler(ctx, params.Arguments)
}

func (s *Server) handleListResources(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	s.lock.RLock()
	list := slices.Clone(s.resources)
	s.lock.RUnlock()

	items, next, err := page(s, list, req.Params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"resources":  items,
		"nextCursor": next,
	}, nil
}

func (s *Server) handleReadResource(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Wrap(err, "invalid read params")
	}

	s.lock.RLock()
	text, ok := s.contents[params.URI]
	s.lock.RUnlock()
	if !ok {
		return nil, errors.Newf("resource not found: %s", params.URI)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{
			URI:      params.URI,
			MimeType: "text/plain",
			Text:     text,
		}},
	}, nil
}

func (s *Server) handleListPrompts(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	s.lock.RLock()
	list := slices.Clone(s.prompts)
	s.lock.RUnlock()

	items, next, err := page(s, list, req.Params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"prompts":    items,
		"nextCursor": next,
	}, nil
}

func (s *Server) handleGetPrompt(_ context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	s.requests.Add(1)
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Wrap(err, "invalid prompt params")
	}

	s.lock.RLock()
	render := s.renderers[params.Name]
	s.lock.RUnlock()
	if render == nil {
		return nil, errors.Newf("prompt not found: %s", params.Name)
	}
	return render(params.Arguments)
}

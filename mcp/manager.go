package mcp

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/mcp/transport/stdio"
	"github.com/effective-security/opsagent/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var (
	// ErrServerNotConnected is returned when the server is not connected
	ErrServerNotConnected = errors.New("MCP server is not connected")
	// ErrUpstreamTool is returned when the server fails the request
	ErrUpstreamTool = errors.New("MCP request failed")
)

// ConnectionState is the state of the server connection
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// ServerConfig specifies the MCP server process
type ServerConfig struct {
	ID      string            `json:"id" yaml:"id" validate:"required"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Command string            `json:"command" yaml:"command" validate:"required"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	// Timeout is the request timeout, for example "30s"
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DisplayName returns the name, or ID if the name is not set
func (c *ServerConfig) DisplayName() string {
	return values.StringsCoalesce(c.Name, c.ID)
}

// RequestTimeout returns the parsed Timeout, zero if not set
func (c *ServerConfig) RequestTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "server %s: invalid timeout", c.ID)
	}
	if d < 0 {
		return 0, errors.Newf("server %s: negative timeout", c.ID)
	}
	return d, nil
}

// ServerStatus describes the server
type ServerStatus struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Command   string   `json:"command" yaml:"command"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Connected bool     `json:"connected" yaml:"connected"`
}

// ToolDescriptor is a tool discovered on a server
type ToolDescriptor struct {
	ServerID   string
	ServerName string
	ToolDefinition
}

// ResourceDescriptor is a resource discovered on a server
type ResourceDescriptor struct {
	ServerID   string
	ServerName string
	Resource
}

// PromptDescriptor is a prompt discovered on a server
type PromptDescriptor struct {
	ServerID   string
	ServerName string
	Prompt
}

// Session is a connection with a server
type Session interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error)
	Close() error
}

var _ Session = (*Client)(nil)

// Dialer establishes the initialized session with the server
type Dialer func(ctx context.Context, cfg *ServerConfig) (Session, error)

// DialStdio starts the server process and performs the handshake
func DialStdio(ctx context.Context, cfg *ServerConfig) (Session, error) {
	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}

	tr, err := stdio.Spawn(stdio.Command{
		Name:    cfg.ID,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
	})
	if err != nil {
		return nil, err
	}

	client := NewClient(cfg.ID, tr, timeout)
	if _, err = client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

type server struct {
	id      string
	cfg     *ServerConfig
	session Session
	state   ConnectionState
}

// Manager holds the connections with the MCP servers
type Manager struct {
	dialer Dialer

	lock    sync.RWMutex
	servers map[string]*server
}

// NewManager returns a manager, DialStdio is used if dialer is nil
func NewManager(dialer Dialer) *Manager {
	if dialer == nil {
		dialer = DialStdio
	}
	return &Manager{
		dialer:  dialer,
		servers: make(map[string]*server),
	}
}

// Connect connects to the server with the given id.
// The call is no-op if the id is already connected,
// a lost connection is replaced by a new one.
func (m *Manager) Connect(ctx context.Context, id string, cfg *ServerConfig) error {
	if id == "" {
		return errors.New("server id is empty")
	}
	if cfg == nil {
		return errors.Newf("server %s: configuration is nil", id)
	}

	var stale Session
	m.lock.Lock()
	if prev, ok := m.servers[id]; ok {
		switch prev.state {
		case StateConnected:
			m.lock.Unlock()
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "already_connected",
				"server", id,
			)
			return nil
		case StateConnecting:
			m.lock.Unlock()
			return errors.Newf("server %s: connection is in progress", id)
		}
		delete(m.servers, id)
		stale = prev.session
	}
	c := *cfg
	c.ID = id
	s := &server{
		id:    id,
		cfg:   &c,
		state: StateConnecting,
	}
	m.servers[id] = s
	m.lock.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			logger.ContextKV(ctx, xlog.DEBUG,
				"reason", "close_stale",
				"server", id,
				"err", err.Error(),
			)
		}
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "connecting",
		"server", id,
		"name", c.DisplayName(),
		"command", c.Command,
	)

	session, err := m.dialer(ctx, &c)
	if err != nil {
		m.lock.Lock()
		delete(m.servers, id)
		m.lock.Unlock()

		metricskey.StatsMCPConnectFailed.IncrCounter(1, id)
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"server", id,
			"err", err.Error(),
		)
		return errors.WithMessagef(err, "failed to connect to MCP server %s", id)
	}

	m.lock.Lock()
	if m.servers[id] != s {
		m.lock.Unlock()
		// disconnected while connecting
		_ = session.Close()
		return errors.Wrapf(ErrServerNotConnected, "server %s was disconnected while connecting", id)
	}
	s.session = session
	s.state = StateConnected
	m.lock.Unlock()

	if d, ok := session.(interface{ Done() <-chan struct{} }); ok {
		go m.watch(s, d.Done())
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"server", id,
		"name", c.DisplayName(),
	)
	return nil
}

// watch marks the server disconnected when the connection is lost
func (m *Manager) watch(s *server, done <-chan struct{}) {
	<-done

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.servers[s.id] != s {
		// disconnected by the manager
		return
	}
	s.state = StateDisconnected
	logger.KV(xlog.WARNING,
		"status", "connection_lost",
		"server", s.id,
	)
}

// Disconnect closes the session and removes the server.
// Unknown id is ignored.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.lock.Lock()
	s, ok := m.servers[id]
	if ok {
		delete(m.servers, id)
	}
	m.lock.Unlock()

	if !ok {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "not_connected",
			"server", id,
		)
		return nil
	}

	if s.session != nil {
		if err := s.session.Close(); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "disconnect_failed",
				"server", id,
				"err", err.Error(),
			)
			return errors.WithMessagef(err, "failed to disconnect from MCP server %s", id)
		}
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "disconnected",
		"server", id,
	)
	return nil
}

// DisconnectAll disconnects all servers concurrently.
// All servers are removed, the close errors are joined.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	ids := m.ids(false)

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			errs[i] = m.Disconnect(ctx, id)
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

// IsConnected returns true if the server is connected
func (m *Manager) IsConnected(id string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.servers[id]
	return ok && s.state == StateConnected
}

// State returns the state of the server
func (m *Manager) State(id string) ConnectionState {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if s, ok := m.servers[id]; ok {
		return s.state
	}
	return StateDisconnected
}

// Servers returns the status of the servers, sorted by id
func (m *Manager) Servers() []ServerStatus {
	m.lock.RLock()
	defer m.lock.RUnlock()

	list := make([]ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		list = append(list, ServerStatus{
			ID:        s.id,
			Name:      s.cfg.DisplayName(),
			Command:   s.cfg.Command,
			Args:      s.cfg.Args,
			Enabled:   s.cfg.Enabled,
			Connected: s.state == StateConnected,
		})
	}
	slices.SortFunc(list, func(a, b ServerStatus) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return list
}

// ids returns the sorted ids of the servers
func (m *Manager) ids(connectedOnly bool) []string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id, s := range m.servers {
		if connectedOnly && s.state != StateConnected {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// connected returns the connected server
func (m *Manager) connected(id string) (*server, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.servers[id]
	if !ok || s.state != StateConnected {
		return nil, errors.Wrapf(ErrServerNotConnected, "server %s", id)
	}
	return s, nil
}

// ListTools returns the tools of all connected servers.
// A failing server is logged and skipped.
func (m *Manager) ListTools(ctx context.Context) []ToolDescriptor {
	var list []ToolDescriptor
	for _, id := range m.ids(true) {
		s, err := m.connected(id)
		if err != nil {
			continue
		}
		tools, err := s.session.ListTools(ctx)
		if err != nil {
			logListFailed(ctx, id, "tools", err)
			continue
		}
		for _, t := range tools {
			list = append(list, ToolDescriptor{
				ServerID:       id,
				ServerName:     s.cfg.DisplayName(),
				ToolDefinition: t,
			})
		}
	}
	return list
}

// ListResources returns the resources of all connected servers.
// A failing server is logged and skipped.
func (m *Manager) ListResources(ctx context.Context) []ResourceDescriptor {
	var list []ResourceDescriptor
	for _, id := range m.ids(true) {
		s, err := m.connected(id)
		if err != nil {
			continue
		}
		resources, err := s.session.ListResources(ctx)
		if err != nil {
			logListFailed(ctx, id, "resources", err)
			continue
		}
		for _, r := range resources {
			list = append(list, ResourceDescriptor{
				ServerID:   id,
				ServerName: s.cfg.DisplayName(),
				Resource:   r,
			})
		}
	}
	return list
}

// ListPrompts returns the prompts of all connected servers.
// A failing server is logged and skipped.
func (m *Manager) ListPrompts(ctx context.Context) []PromptDescriptor {
	var list []PromptDescriptor
	for _, id := range m.ids(true) {
		s, err := m.connected(id)
		if err != nil {
			continue
		}
		prompts, err := s.session.ListPrompts(ctx)
		if err != nil {
			logListFailed(ctx, id, "prompts", err)
			continue
		}
		for _, p := range prompts {
			list = append(list, PromptDescriptor{
				ServerID:   id,
				ServerName: s.cfg.DisplayName(),
				Prompt:     p,
			})
		}
	}
	return list
}

func logListFailed(ctx context.Context, id, kind string, err error) {
	logger.ContextKV(ctx, xlog.ERROR,
		"status", "list_failed",
		"server", id,
		"kind", kind,
		"err", err.Error(),
	)
}

// CallTool calls the tool on the server and returns the content list of the result.
// The result flagged as error by the server is returned as ErrUpstreamTool.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args map[string]any) ([]Content, error) {
	s, err := m.connected(serverID)
	if err != nil {
		return nil, err
	}

	res, err := s.session.CallTool(ctx, name, args)
	if err != nil {
		return nil, upstreamError(ctx, err, serverID, name)
	}
	if res.IsError {
		msg := values.StringsCoalesce(res.Text(), "tool reported an error")
		return nil, upstreamError(ctx, errors.New(msg), serverID, name)
	}
	return res.Content, nil
}

// ReadResource reads the resource from the server and returns its contents
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) ([]ResourceContents, error) {
	s, err := m.connected(serverID)
	if err != nil {
		return nil, err
	}

	res, err := s.session.ReadResource(ctx, uri)
	if err != nil {
		return nil, upstreamError(ctx, err, serverID, uri)
	}
	return res.Contents, nil
}

// GetPrompt renders the prompt on the server and returns its messages
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) ([]PromptMessage, error) {
	s, err := m.connected(serverID)
	if err != nil {
		return nil, err
	}

	res, err := s.session.GetPrompt(ctx, name, args)
	if err != nil {
		return nil, upstreamError(ctx, err, serverID, name)
	}
	return res.Messages, nil
}

func upstreamError(ctx context.Context, err error, serverID, target string) error {
	err = errors.Mark(err, ErrUpstreamTool)
	logger.ContextKV(ctx, xlog.ERROR,
		"status", "request_failed",
		"server", serverID,
		"target", target,
		"err", err.Error(),
	)
	return err
}

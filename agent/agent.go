// Package agent implements the DevOps assistant: it keeps the conversation,
// registers the local tools and the tools of the MCP servers,
// and runs each user turn through the selected LLM provider.
package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/opsagent/callbacks"
	"github.com/effective-security/opsagent/chatmodel"
	"github.com/effective-security/opsagent/mcp"
	"github.com/effective-security/opsagent/pkg/llmfactory"
	"github.com/effective-security/opsagent/pkg/llms"
	"github.com/effective-security/opsagent/store"
	"github.com/effective-security/opsagent/tools"
	"github.com/effective-security/opsagent/tools/devops"
	"github.com/effective-security/opsagent/tools/shell"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/opsagent", "agent")

var (
	// ErrNotInitialized is returned when the agent is used before Initialize
	ErrNotInitialized = errors.New("agent is not initialized, call Initialize first")
	// ErrAgentDisposed is returned when the agent is used after Dispose
	ErrAgentDisposed = errors.New("agent is disposed")
	// ErrTurnInProgress is returned when Converse is called while another turn is running
	ErrTurnInProgress = errors.New("another message is being processed")
)

// State is the lifecycle state of the agent
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	}
	return "uninitialized"
}

// Option configures the agent
type Option func(*Agent)

// WithDialer sets the dialer of the MCP servers
func WithDialer(dialer mcp.Dialer) Option {
	return func(a *Agent) {
		a.dialer = dialer
	}
}

// WithCallback adds the handler of the tool events
func WithCallback(cb tools.Callback) Option {
	return func(a *Agent) {
		a.callback.Add(cb)
	}
}

// WithTools adds local tools, registered after the built-in tools
func WithTools(list ...tools.Tool) Option {
	return func(a *Agent) {
		a.extraTools = append(a.extraTools, list...)
	}
}

// WithConfirmation sets the function asked before a command line tool runs,
// nil runs them without confirmation
func WithConfirmation(confirm tools.ConfirmFunc) Option {
	return func(a *Agent) {
		a.confirm = confirm
	}
}

// WithStore sets the history store
func WithStore(st store.MessageStore) Option {
	return func(a *Agent) {
		a.history = st
	}
}

// WithChatID sets the chat ID of the conversation
func WithChatID(chatID string) Option {
	return func(a *Agent) {
		a.chatID = chatID
	}
}

// Agent is the DevOps assistant
type Agent struct {
	cfg        *Config
	factory    llmfactory.Factory
	dialer     mcp.Dialer
	manager    *mcp.Manager
	registry   *tools.Registry
	history    store.MessageStore
	callback   *callbacks.Fanout
	scratchpad *callbacks.Scratchpad
	extraTools []tools.Tool
	confirm    tools.ConfirmFunc
	chatID     string

	lock         sync.RWMutex
	state        State
	provider     llms.Provider
	systemPrompt string
	lastRun      *callbacks.RunStats
	lastTrace    []byte

	// turn is held for the duration of Converse
	turn sync.Mutex
}

// New returns the agent, Initialize must be called before Converse
func New(cfg *Config, opts ...Option) *Agent {
	if cfg == nil {
		cfg = new(Config)
	}
	a := &Agent{
		cfg:        cfg,
		factory:    llmfactory.New(&cfg.Config),
		registry:   tools.NewRegistry(),
		scratchpad: callbacks.NewScratchpad(callbacks.ModeDefault),
	}
	a.callback = callbacks.NewFanout(a.scratchpad, callbacks.NewPackageLogger(logger))
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = store.NewMemoryStore()
	}
	if a.chatID == "" {
		a.chatID = chatmodel.NewChatID()
	}
	a.manager = mcp.NewManager(a.dialer)
	return a
}

// State returns the lifecycle state
func (a *Agent) State() State {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.state
}

// ChatID returns the ID of the conversation
func (a *Agent) ChatID() string {
	return a.chatID
}

// Manager returns the manager of the MCP servers
func (a *Agent) Manager() *mcp.Manager {
	return a.manager
}

// Initialize registers the tools, creates the provider
// and connects the enabled MCP servers. Servers that fail to connect are skipped.
func (a *Agent) Initialize(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	switch a.state {
	case StateDisposed:
		return errors.WithStack(ErrAgentDisposed)
	case StateReady:
		return nil
	}

	prompt, err := a.cfg.SystemPrompt()
	if err != nil {
		return err
	}

	if a.registry.Len() == 0 {
		if err = a.registerLocalTools(); err != nil {
			return err
		}
	}

	// the provider is selected first, so a failed Initialize
	// leaves no servers running and no proxies registered
	provider, err := a.factory.DefaultProvider(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "provider",
			"err", err.Error(),
		)
		return err
	}

	a.connectServers(ctx)

	a.provider = provider
	a.systemPrompt = prompt
	a.state = StateReady

	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialized",
		"provider", provider.Name(),
		"model", provider.Model(),
		"tools", a.registry.Len(),
		"servers", len(a.manager.Servers()),
	)
	return nil
}

func (a *Agent) registerLocalTools() error {
	cmd, err := shell.New()
	if err != nil {
		return err
	}
	kubectl, err := devops.NewKubectl("")
	if err != nil {
		return err
	}
	helm, err := devops.NewHelm("")
	if err != nil {
		return err
	}
	az, err := devops.NewAz("")
	if err != nil {
		return err
	}
	management, err := mcp.ManagementTools(a.manager)
	if err != nil {
		return err
	}

	// the tools changing the environment run only when confirmed
	list := []tools.Tool{
		tools.WithConfirmation(cmd, a.confirm),
		tools.WithConfirmation(kubectl, a.confirm),
		tools.WithConfirmation(helm, a.confirm),
		tools.WithConfirmation(az, a.confirm),
	}
	list = append(list, management...)
	list = append(list, a.extraTools...)
	return a.registry.Register(list...)
}

func (a *Agent) connectServers(ctx context.Context) {
	for _, cfg := range a.cfg.MCPServers {
		if !cfg.Enabled {
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "skip_disabled_server",
				"server", cfg.ID,
			)
			continue
		}
		if err := a.manager.Connect(ctx, cfg.ID, cfg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "connect",
				"server", cfg.ID,
				"err", err.Error(),
			)
		}
	}

	for _, proxy := range mcp.ProxyTools(ctx, a.manager) {
		if err := a.registry.Register(proxy); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"reason", "register",
				"tool", proxy.Name(),
				"err", err.Error(),
			)
		}
	}
}

func (a *Agent) activeProvider() (llms.Provider, string, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	switch a.state {
	case StateUninitialized:
		return nil, "", errors.WithStack(ErrNotInitialized)
	case StateDisposed:
		return nil, "", errors.WithStack(ErrAgentDisposed)
	}
	return a.provider, a.systemPrompt, nil
}

// Converse sends the message with the conversation history to the model
// and returns the reply. The history is updated only when the turn succeeds.
func (a *Agent) Converse(ctx context.Context, text string) (string, error) {
	provider, prompt, err := a.activeProvider()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("message is empty")
	}
	if !a.turn.TryLock() {
		return "", errors.WithStack(ErrTurnInProgress)
	}
	defer a.turn.Unlock()

	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(a.chatID, nil))

	user := llms.HumanMessage(text)
	req := &llms.Request{
		SystemPrompt: prompt,
		Messages:     append(a.history.Messages(a.chatID), user),
		Tools:        a.registry,
		Callback:     a.callback,
	}

	a.scratchpad.StartRun(ctx)
	resp, err := provider.Converse(ctx, req)
	stats, trace := a.scratchpad.EndRun(ctx, resp)
	a.recordRun(ctx, stats, trace)
	if err != nil {
		return "", err
	}

	if err = a.history.Add(a.chatID, user, llms.AIMessage(resp.Content)); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *Agent) recordRun(ctx context.Context, stats *callbacks.RunStats, trace []byte) {
	if stats == nil {
		return
	}
	a.lock.Lock()
	a.lastRun = stats
	a.lastTrace = trace
	a.lock.Unlock()

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "run_ended",
		"chat_id", stats.ChatID,
		"run_id", stats.RunID,
		"duration", stats.Duration.String(),
		"tool_calls", stats.ToolsCalls,
		"tool_failures", stats.ToolsCallsFailed+stats.ToolNotFound,
		"input_tokens", stats.InputTokens,
		"output_tokens", stats.OutputTokens,
	)
}

// LastRun returns the stats and the tool trace of the last turn,
// nil if there was none
func (a *Agent) LastRun() (*callbacks.RunStats, []byte) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.lastRun, a.lastTrace
}

// ListTools returns the registered tools
func (a *Agent) ListTools() []tools.Tool {
	return a.registry.List()
}

// History returns a copy of the conversation history
func (a *Agent) History() []llms.Message {
	return a.history.Messages(a.chatID)
}

// ClearHistory removes the conversation history
func (a *Agent) ClearHistory() error {
	return a.history.Reset(a.chatID)
}

// Provider returns the active provider, nil before Initialize
func (a *Agent) Provider() llms.Provider {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.provider
}

// ProviderStatus returns the status of the configured providers
func (a *Agent) ProviderStatus() []llmfactory.ProviderStatus {
	return a.factory.Status()
}

// ServerStatus returns the status of the MCP servers
func (a *Agent) ServerStatus() []mcp.ServerStatus {
	return a.manager.Servers()
}

// Dispose disconnects the MCP servers, the agent can not be used after that
func (a *Agent) Dispose(ctx context.Context) error {
	a.lock.Lock()
	if a.state == StateDisposed {
		a.lock.Unlock()
		return nil
	}
	a.state = StateDisposed
	a.provider = nil
	a.lock.Unlock()

	err := a.manager.DisconnectAll(ctx)
	logger.ContextKV(ctx, xlog.INFO, "status", "disposed")
	return err
}

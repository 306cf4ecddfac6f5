package mcpmgr

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRequestTimeout = 30 * time.Second
	// streamableProbeTimeout caps the Streamable HTTP handshake so a hanging
	// endpoint cannot use up the budget SSE needs.
	streamableProbeTimeout = 3 * time.Second
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	Name   string
	Status ConnectionStatus
	Config ServerConfig
	// Transport is set while the server is connected.
	Transport TransportKind
}

// Manager orchestrates multiple MCP client sessions keyed by server name.
// It is safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	options      ManagerOptions
	logger       *slog.Logger
	transports   transportBuilder
	probeTimeout time.Duration

	servers map[string]*serverEntry

	notifications map[string]map[NotificationSchema][]*notificationRegistration

	elicitationHandlers map[string]ElicitationHandler
	globalElicitation   ElicitationHandler
	elicitationCallback GlobalElicitationCallback
	pendingElicitations map[string]*pendingElicitation

	serverRemovedHandlers []func(string)
}

// serverEntry is the registry record for one name. No entry means
// Unconfigured; pending != nil means a dial is in flight; conn != nil means
// connected; neither means disconnected with the config retained.
type serverEntry struct {
	config  ServerConfig
	timeout time.Duration

	conn    *connection
	pending *pendingConnect

	toolsMeta map[string]map[string]any
}

// connection is resolved once per successful dial; later operations never
// look at the config shape again.
type connection struct {
	client  *mcp.Client
	session *mcp.ClientSession
	kind    TransportKind
	tracker *sessionIDTracker
}

// pendingConnect is shared by every caller that arrives while a dial for the
// same name is in flight.
type pendingConnect struct {
	done    chan struct{}
	session *mcp.ClientSession
	err     error
}

func newPendingConnect() *pendingConnect {
	return &pendingConnect{done: make(chan struct{})}
}

func (p *pendingConnect) finish(session *mcp.ClientSession, err error) {
	p.session = session
	p.err = err
	close(p.done)
}

func (p *pendingConnect) wait(ctx context.Context) (*mcp.ClientSession, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.session, p.err
	}
}

// NewManager constructs a Manager with optional initial server configurations.
// Initial servers start disconnected with their config retained; when
// ManagerOptions.AutoConnect is set they are dialed in the background.
// Entries with empty names or invalid configs are logged and skipped.
func NewManager(cfg map[string]ServerConfig, opts *ManagerOptions) *Manager {
	options := opts.normalized()
	m := &Manager{
		options:             options,
		logger:              options.Logger,
		transports:          sdkTransports{},
		probeTimeout:        streamableProbeTimeout,
		servers:             make(map[string]*serverEntry),
		notifications:       make(map[string]map[NotificationSchema][]*notificationRegistration),
		elicitationHandlers: make(map[string]ElicitationHandler),
		pendingElicitations: make(map[string]*pendingElicitation),
	}
	for rawName, sc := range cfg {
		name, err := normalizeServerName(rawName)
		if err == nil {
			err = ValidateConfig(sc)
		}
		if err != nil {
			m.logger.Warn("skipping initial server", "server", rawName, "error", err)
			continue
		}
		m.servers[name] = &serverEntry{config: sc}
	}
	if options.AutoConnect {
		for _, name := range m.ListServers() {
			go func(name string) {
				if _, err := m.ConnectToServer(context.Background(), name, nil); err != nil {
					m.logger.Warn("autoconnect failed", "server", name, "error", err)
				}
			}(name)
		}
	}
	return m
}

func normalizeServerName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidServerName
	}
	return trimmed, nil
}

// ListServers returns every registered server name, sorted.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListConnectedServers returns the names with a live session, sorted.
func (m *Manager) ListConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, entry := range m.servers {
		if entry.conn != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HasServer reports whether a configuration is registered for serverName.
func (m *Manager) HasServer(serverName string) bool {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[name]
	return ok
}

// GetConnectionStatus reports the registry state for serverName. Unknown
// names are reported as disconnected.
func (m *Manager) GetConnectionStatus(serverName string) ConnectionStatus {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return StatusDisconnected
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return statusOf(m.servers[name])
}

func statusOf(entry *serverEntry) ConnectionStatus {
	switch {
	case entry == nil:
		return StatusDisconnected
	case entry.conn != nil:
		return StatusConnected
	case entry.pending != nil:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// GetConnectionStatusByAttemptingPing is like GetConnectionStatus but verifies
// a connected session with a short ping.
func (m *Manager) GetConnectionStatusByAttemptingPing(ctx context.Context, serverName string) ConnectionStatus {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return StatusDisconnected
	}
	m.mu.RLock()
	entry := m.servers[name]
	status := statusOf(entry)
	var session *mcp.ClientSession
	if status == StatusConnected {
		session = entry.conn.session
	}
	m.mu.RUnlock()
	if session == nil {
		return status
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := session.Ping(ctx, nil); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// GetServerSummaries returns a snapshot of every registered server, sorted by
// name.
func (m *Manager) GetServerSummaries() []ServerSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]ServerSummary, 0, len(m.servers))
	for name, entry := range m.servers {
		summary := ServerSummary{Name: name, Status: statusOf(entry), Config: entry.config}
		if entry.conn != nil {
			summary.Transport = entry.conn.kind
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// GetServerConfig returns the configuration registered for serverName, or nil.
func (m *Manager) GetServerConfig(serverName string) ServerConfig {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.servers[name]; ok {
		return entry.config
	}
	return nil
}

// GetClient exposes the underlying MCP client of a connected server, or nil.
func (m *Manager) GetClient(serverName string) *mcp.Client {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.servers[name]; ok && entry.conn != nil {
		return entry.conn.client
	}
	return nil
}

// GetSessionIDByServer returns the Streamable HTTP session id of a connected
// server. Stdio and SSE sessions return ErrSessionIDUnsupported.
func (m *Manager) GetSessionIDByServer(serverName string) (string, error) {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	entry, ok := m.servers[name]
	var conn *connection
	if ok {
		conn = entry.conn
	}
	m.mu.RUnlock()
	switch {
	case !ok:
		return "", unknownServer(name)
	case conn == nil:
		return "", errors.Wrapf(ErrNotConnected, "%q", name)
	case conn.kind != KindStreamableHTTP:
		return "", errors.Wrapf(ErrSessionIDUnsupported, "%q uses %s", name, conn.kind)
	}
	id := conn.session.ID()
	if id == "" && conn.tracker != nil {
		id = conn.tracker.Value()
	}
	if id == "" {
		return "", errors.Wrapf(ErrSessionIDUnavailable, "%q", name)
	}
	return id, nil
}

// ConnectToServer establishes (or reuses) a session for serverName. When cfg
// is nil the registered configuration is used.
//
// A connected server returns its existing session; a non-nil cfg replaces the
// stored config and timeout in place without reconnecting. Callers arriving
// while a dial is in flight share its outcome, so one name never dials twice
// concurrently; their cfg is ignored. A failed dial forgets the server
// entirely.
func (m *Manager) ConnectToServer(ctx context.Context, serverName string, cfg ServerConfig) (*mcp.ClientSession, error) {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if err := ValidateConfig(cfg); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	entry := m.servers[name]
	if entry == nil {
		if cfg == nil {
			m.mu.Unlock()
			return nil, unknownServer(name)
		}
		entry = &serverEntry{}
		m.servers[name] = entry
	}
	if p := entry.pending; p != nil {
		m.mu.Unlock()
		if cfg != nil {
			m.logger.Debug("dial in flight, ignoring config", "server", name)
		}
		return p.wait(ctx)
	}
	if cfg != nil {
		entry.config = cfg
		if entry.conn != nil {
			entry.timeout = m.configTimeout(cfg)
		}
	}
	if entry.conn != nil {
		session := entry.conn.session
		m.mu.Unlock()
		return session, nil
	}
	// The marker goes in before the lock is released so no other caller can
	// decide to dial the same name.
	p := newPendingConnect()
	entry.pending = p
	config := entry.config
	timeout := m.configTimeout(config)
	m.mu.Unlock()

	m.logger.Debug("connecting", "server", name, "transport", TransportOf(config))
	conn, dialErr := m.dial(ctx, name, config, timeout)

	m.mu.Lock()
	current := m.servers[name]
	if current == entry && entry.pending == p {
		entry.pending = nil
	}
	if dialErr == nil && current != entry {
		dialErr = errors.Newf("mcpmgr: server %q was removed while connecting", name)
		go func(session *mcp.ClientSession) { _ = session.Close() }(conn.session)
	}
	if dialErr != nil {
		if current == entry && entry.conn == nil {
			delete(m.servers, name)
		}
		m.mu.Unlock()
		p.finish(nil, dialErr)
		m.logger.Warn("connect failed", "server", name, "error", dialErr)
		return nil, dialErr
	}
	entry.conn = conn
	entry.timeout = timeout
	m.mu.Unlock()

	p.finish(conn.session, nil)
	m.logger.Debug("connected", "server", name, "transport", conn.kind)
	go m.monitorSession(name, conn, config.base().OnError)
	return conn.session, nil
}

// Reconnect closes any session for serverName and dials again with cfg, or
// with the stored config when cfg is nil.
func (m *Manager) Reconnect(ctx context.Context, serverName string, cfg ServerConfig) (*mcp.ClientSession, error) {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return nil, err
	}
	if cfg == nil && !m.HasServer(name) {
		return nil, unknownServer(name)
	}
	if err := m.DisconnectServer(ctx, name); err != nil {
		m.logger.Debug("disconnect before reconnect failed", "server", name, "error", err)
	}
	return m.ConnectToServer(ctx, name, cfg)
}

func (m *Manager) configTimeout(cfg ServerConfig) time.Duration {
	if cfg != nil {
		if t := cfg.base().Timeout; t > 0 {
			return t
		}
	}
	return m.options.DefaultTimeout
}

// monitorSession resets the registry when the server ends the session. The
// config is kept so the caller can reconnect.
func (m *Manager) monitorSession(name string, conn *connection, onError func(error)) {
	err := conn.session.Wait()
	m.mu.Lock()
	remote := false
	if entry := m.servers[name]; entry != nil && entry.conn == conn {
		entry.conn = nil
		remote = true
	}
	m.mu.Unlock()
	if !remote {
		return
	}
	m.logger.Info("server closed session", "server", name, "error", err)
	if err != nil && onError != nil {
		onError(err)
	}
}

// ensureConnected returns the live connection for name, dialing with the
// stored config when necessary.
func (m *Manager) ensureConnected(ctx context.Context, name string) (*serverEntry, *connection, error) {
	for {
		m.mu.RLock()
		entry := m.servers[name]
		if entry == nil {
			m.mu.RUnlock()
			return nil, nil, unknownServer(name)
		}
		if conn := entry.conn; conn != nil {
			m.mu.RUnlock()
			return entry, conn, nil
		}
		p := entry.pending
		m.mu.RUnlock()

		if p != nil {
			if _, err := p.wait(ctx); err != nil {
				return nil, nil, err
			}
			continue
		}
		if _, err := m.ConnectToServer(ctx, name, nil); err != nil {
			return nil, nil, err
		}
	}
}

// DisconnectServer closes the session for serverName and keeps its
// configuration for a later connect. An in-flight dial is awaited first and
// its error ignored. Unknown names are a no-op.
func (m *Manager) DisconnectServer(ctx context.Context, serverName string) error {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return err
	}
	m.mu.RLock()
	entry := m.servers[name]
	var p *pendingConnect
	if entry != nil {
		p = entry.pending
	}
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}
	if p != nil {
		if _, err := p.wait(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	m.mu.Lock()
	entry = m.servers[name]
	if entry == nil || entry.conn == nil {
		m.mu.Unlock()
		return nil
	}
	conn := entry.conn
	entry.conn = nil
	m.mu.Unlock()

	return closeSession(ctx, conn.session)
}

func closeSession(ctx context.Context, session *mcp.ClientSession) error {
	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// DisconnectAllServers disconnects every server concurrently and then clears
// all registry state, including notification and elicitation registrations.
// OnServerRemoved handlers run for every server it forgets.
func (m *Manager) DisconnectAllServers(ctx context.Context) error {
	names := m.ListServers()
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if err := m.DisconnectServer(ctx, name); err != nil {
				errs[i] = errors.Wrapf(err, "disconnect %q", name)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	forgotten := make([]string, 0, len(m.servers))
	for name := range m.servers {
		forgotten = append(forgotten, name)
	}
	m.servers = make(map[string]*serverEntry)
	m.notifications = make(map[string]map[NotificationSchema][]*notificationRegistration)
	m.elicitationHandlers = make(map[string]ElicitationHandler)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()

	sort.Strings(forgotten)
	for _, name := range forgotten {
		for _, h := range handlers {
			m.safeInvoke("server removed handler", name, func() { h(name) })
		}
	}

	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}
	return combined
}

// RemoveServer disconnects serverName and forgets its configuration,
// notification handlers, and elicitation handler. The server is removed even
// when closing the session fails; that error is returned.
func (m *Manager) RemoveServer(ctx context.Context, serverName string) error {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return err
	}
	disconnectErr := m.DisconnectServer(ctx, name)

	m.mu.Lock()
	_, existed := m.servers[name]
	delete(m.servers, name)
	delete(m.notifications, name)
	delete(m.elicitationHandlers, name)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()

	if existed {
		for _, h := range handlers {
			m.safeInvoke("server removed handler", name, func() { h(name) })
		}
	}
	return disconnectErr
}

// OnServerRemoved registers a callback invoked after RemoveServer or
// DisconnectAllServers deletes a server. Handlers run without the manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.mu.Unlock()
}

// safeInvoke runs a caller-supplied hook, logging instead of propagating a
// panic.
func (m *Manager) safeInvoke(what, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked", "handler", what, "server", name, "panic", r)
		}
	}()
	fn()
}

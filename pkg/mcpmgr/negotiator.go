package mcpmgr

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportBuilder produces the SDK transports for a config. Tests substitute
// their own to observe ordering and simulate failing endpoints.
type transportBuilder interface {
	Stdio(cfg *StdioServerConfig) (mcp.Transport, error)
	Streamable(cfg *HTTPServerConfig, client *http.Client) mcp.Transport
	SSE(cfg *HTTPServerConfig, client *http.Client) mcp.Transport
}

type sdkTransports struct{}

func (sdkTransports) Stdio(cfg *StdioServerConfig) (mcp.Transport, error) {
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve command %q", cfg.Command)
	}
	cmd := exec.Command(path, cfg.Args...)
	cmd.Env = stdioEnvironment(cfg.Env)
	cmd.Dir = cfg.Cwd
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (sdkTransports) Streamable(cfg *HTTPServerConfig, client *http.Client) mcp.Transport {
	t := &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: client}
	if cfg.ReconnectionOptions != nil {
		t.MaxRetries = cfg.ReconnectionOptions.MaxRetries
	}
	return t
}

func (sdkTransports) SSE(cfg *HTTPServerConfig, client *http.Client) mcp.Transport {
	return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: client}
}

// dialer carries everything one connection attempt needs, so the stdio and
// HTTP paths share the client construction and failure cleanup.
type dialer struct {
	m       *Manager
	name    string
	impl    *mcp.Implementation
	options mcp.ClientOptions
	rpc     RPCLogger
}

func (d *dialer) attempt(ctx context.Context, kind TransportKind, transport mcp.Transport) (*connection, error) {
	opts := d.options
	client := mcp.NewClient(d.impl, &opts)
	client.AddReceivingMiddleware(d.m.notificationMiddleware(d.name))
	observed := &observedTransport{serverName: d.name, delegate: transport, logger: d.rpc}
	session, err := client.Connect(ctx, observed, nil)
	if err != nil {
		observed.closeHalfOpen()
		return nil, markTimeout(ctx, err)
	}
	return &connection{client: client, session: session, kind: kind}, nil
}

// dial establishes a session for cfg within timeout.
func (m *Manager) dial(ctx context.Context, name string, cfg ServerConfig, timeout time.Duration) (*connection, error) {
	base := cfg.base()
	d := &dialer{
		m:       m,
		name:    name,
		impl:    &mcp.Implementation{Name: m.clientName(name), Version: m.clientVersion(base)},
		options: m.composeClientOptions(name, base),
		rpc:     m.resolveRPCLogger(base),
	}
	switch c := cfg.(type) {
	case *StdioServerConfig:
		transport, err := m.transports.Stdio(c)
		if err != nil {
			return nil, errors.Wrapf(err, "mcpmgr: connect %q", name)
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := d.attempt(connectCtx, KindStdio, transport)
		if err != nil {
			return nil, errors.Wrapf(err, "mcpmgr: connect %q over stdio", name)
		}
		return conn, nil
	case *HTTPServerConfig:
		return m.dialHTTP(ctx, d, c, timeout)
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unsupported config type %T", cfg)
	}
}

// dialHTTP tries Streamable HTTP with a capped budget, then SSE with the full
// timeout. Configs that prefer SSE skip the first attempt.
func (m *Manager) dialHTTP(ctx context.Context, d *dialer, cfg *HTTPServerConfig, timeout time.Duration) (*connection, error) {
	var streamHeaders, sseHeaders http.Header
	if cfg.RequestInit != nil {
		streamHeaders = cfg.RequestInit.Headers
	}
	if cfg.EventSourceInit != nil {
		sseHeaders = cfg.EventSourceInit.Headers
	}

	var streamErr error
	if !PrefersSSE(cfg) {
		tracker := newSessionIDTracker(cfg.SessionID)
		client := decorateHTTPClient(cfg.HTTPClient, mergeHeaders(streamHeaders), tracker, cfg.AuthProvider)
		probeCtx, cancel := context.WithTimeout(ctx, min(timeout, m.probeTimeout))
		conn, err := d.attempt(probeCtx, KindStreamableHTTP, m.transports.Streamable(cfg, client))
		cancel()
		if err == nil {
			if id := conn.session.ID(); id != "" {
				tracker.Set(id)
			}
			conn.tracker = tracker
			return conn, nil
		}
		streamErr = err
		m.logger.Debug("streamable http failed, trying sse", "server", d.name, "error", err)
	}

	client := decorateHTTPClient(cfg.HTTPClient, mergeHeaders(streamHeaders, sseHeaders), nil, cfg.AuthProvider)
	sseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := d.attempt(sseCtx, KindSSE, m.transports.SSE(cfg, client))
	if err == nil {
		return conn, nil
	}
	if streamErr != nil {
		return nil, errors.Wrapf(err, "mcpmgr: connect %q: streamable http: %v; sse", d.name, streamErr)
	}
	return nil, errors.Wrapf(err, "mcpmgr: connect %q over sse", d.name)
}

func (m *Manager) clientName(name string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return name
}

func (m *Manager) clientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

// composeClientOptions layers the server's options over the manager defaults.
// Elicitation is routed through the manager, and advertised to the server,
// only when something can answer it at connect time; a handler installed
// later applies from the next connection. Notifications are observed by
// middleware instead.
func (m *Manager) composeClientOptions(name string, base *BaseServerConfig) mcp.ClientOptions {
	opts := m.options.DefaultClientOptions
	mergeClientOptions(&opts, &base.ClientOptions)
	fallback := opts.ElicitationHandler
	if fallback == nil && !m.canElicit(name) {
		return opts
	}
	opts.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
		return m.handleElicitation(ctx, name, req, fallback)
	}
	return opts
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

func (m *Manager) resolveRPCLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	if base.LogJSONRPC || m.options.DefaultLogJSONRPC {
		logger := m.logger
		return func(evt RPCLogEvent) {
			logger.Debug("jsonrpc", "server", evt.ServerName, "direction", evt.Direction, "message", string(evt.Message))
		}
	}
	return nil
}

package mcpmgr

import (
	"context"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// RequestOption customizes a single façade call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
}

// WithTimeout bounds one call, overriding the server's timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// call is a façade request bound to a live session and its effective
// deadline.
type call struct {
	ctx     context.Context
	cancel  context.CancelFunc
	name    string
	entry   *serverEntry
	session *mcp.ClientSession
}

// prepare normalizes the name, makes sure a session exists, and resolves the
// timeout: explicit option, then the session's timeout, then the server's
// configured timeout, then the manager default.
func (m *Manager) prepare(ctx context.Context, serverName string, opts []RequestOption) (*call, error) {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return nil, err
	}
	entry, conn, err := m.ensureConnected(ctx, name)
	if err != nil {
		return nil, err
	}
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	timeout := ro.timeout
	if timeout <= 0 {
		m.mu.RLock()
		timeout = entry.timeout
		config := entry.config
		m.mu.RUnlock()
		if timeout <= 0 {
			timeout = m.configTimeout(config)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	return &call{ctx: callCtx, cancel: cancel, name: name, entry: entry, session: conn.session}, nil
}

func (c *call) fail(err error) error {
	return markTimeout(c.ctx, err)
}

// PingServer sends a ping to serverName.
func (m *Manager) PingServer(ctx context.Context, serverName string, opts ...RequestOption) error {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return err
	}
	defer c.cancel()
	return c.fail(c.session.Ping(c.ctx, nil))
}

// SetLoggingLevel asks serverName to emit log messages at level and above.
func (m *Manager) SetLoggingLevel(ctx context.Context, serverName string, level mcp.LoggingLevel, opts ...RequestOption) error {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return err
	}
	defer c.cancel()
	return c.fail(c.session.SetLoggingLevel(c.ctx, &mcp.SetLoggingLevelParams{Level: level}))
}

// ListTools lists the tools of serverName and records their _meta for
// GetAllToolsMetadata. Servers without tool support yield an empty list.
func (m *Manager) ListTools(ctx context.Context, serverName string, params *mcp.ListToolsParams, opts ...RequestOption) (*mcp.ListToolsResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.ListTools(c.ctx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			res = &mcp.ListToolsResult{Tools: []*mcp.Tool{}}
		} else {
			return nil, c.fail(err)
		}
	}
	meta := make(map[string]map[string]any)
	for _, tool := range res.Tools {
		if tool != nil && tool.Meta != nil {
			meta[tool.Name] = tool.Meta
		}
	}
	m.mu.Lock()
	c.entry.toolsMeta = meta
	m.mu.Unlock()
	return res, nil
}

// GetTools lists tools across serverNames (every registered server when
// empty) concurrently and flattens them in argument order. Duplicate names
// are queried once.
func (m *Manager) GetTools(ctx context.Context, serverNames ...string) ([]*mcp.Tool, error) {
	if len(serverNames) == 0 {
		serverNames = m.ListServers()
	}
	var names []string
	seen := make(map[string]bool, len(serverNames))
	for _, raw := range serverNames {
		name, err := normalizeServerName(raw)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	results := make([][]*mcp.Tool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			res, err := m.ListTools(gctx, name, nil)
			if err != nil {
				return err
			}
			results[i] = res.Tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	all := []*mcp.Tool{}
	for _, tools := range results {
		all = append(all, tools...)
	}
	return all, nil
}

// GetAllToolsMetadata returns the _meta captured by the last ListTools call
// for serverName, keyed by tool name.
func (m *Manager) GetAllToolsMetadata(serverName string) map[string]map[string]any {
	out := map[string]map[string]any{}
	name, err := normalizeServerName(serverName)
	if err != nil {
		return out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.servers[name]; ok {
		for tool, meta := range entry.toolsMeta {
			out[tool] = meta
		}
	}
	return out
}

// ExecuteTool calls toolName with args. A tool that fails reports it through
// CallToolResult.IsError; the returned error covers transport, protocol, and
// timeout failures only.
func (m *Manager) ExecuteTool(ctx context.Context, serverName, toolName string, args any, opts ...RequestOption) (*mcp.CallToolResult, error) {
	return m.ExecuteToolWithParams(ctx, serverName, &mcp.CallToolParams{Name: toolName, Arguments: args}, opts...)
}

// ExecuteToolWithParams is ExecuteTool with full control over the params,
// including _meta and the progress token.
func (m *Manager) ExecuteToolWithParams(ctx context.Context, serverName string, params *mcp.CallToolParams, opts ...RequestOption) (*mcp.CallToolResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.CallTool(c.ctx, params)
	if err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

// ListResources lists the resources of serverName.
func (m *Manager) ListResources(ctx context.Context, serverName string, params *mcp.ListResourcesParams, opts ...RequestOption) (*mcp.ListResourcesResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.ListResources(c.ctx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListResourcesResult{Resources: []*mcp.Resource{}}, nil
		}
		return nil, c.fail(err)
	}
	return res, nil
}

// ReadResource reads one resource from serverName.
func (m *Manager) ReadResource(ctx context.Context, serverName string, params *mcp.ReadResourceParams, opts ...RequestOption) (*mcp.ReadResourceResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.ReadResource(c.ctx, params)
	if err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

// SubscribeResource subscribes to updates for a resource on serverName.
// Updates arrive through OnResourceUpdated.
func (m *Manager) SubscribeResource(ctx context.Context, serverName string, params *mcp.SubscribeParams, opts ...RequestOption) error {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return err
	}
	defer c.cancel()
	return c.fail(c.session.Subscribe(c.ctx, params))
}

// UnsubscribeResource cancels a resource subscription on serverName.
func (m *Manager) UnsubscribeResource(ctx context.Context, serverName string, params *mcp.UnsubscribeParams, opts ...RequestOption) error {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return err
	}
	defer c.cancel()
	return c.fail(c.session.Unsubscribe(c.ctx, params))
}

// ListResourceTemplates lists the resource templates of serverName.
func (m *Manager) ListResourceTemplates(ctx context.Context, serverName string, params *mcp.ListResourceTemplatesParams, opts ...RequestOption) (*mcp.ListResourceTemplatesResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.ListResourceTemplates(c.ctx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListResourceTemplatesResult{ResourceTemplates: []*mcp.ResourceTemplate{}}, nil
		}
		return nil, c.fail(err)
	}
	return res, nil
}

// ListPrompts lists the prompts of serverName.
func (m *Manager) ListPrompts(ctx context.Context, serverName string, params *mcp.ListPromptsParams, opts ...RequestOption) (*mcp.ListPromptsResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.ListPrompts(c.ctx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{}}, nil
		}
		return nil, c.fail(err)
	}
	return res, nil
}

// GetPrompt renders a prompt on serverName.
func (m *Manager) GetPrompt(ctx context.Context, serverName string, params *mcp.GetPromptParams, opts ...RequestOption) (*mcp.GetPromptResult, error) {
	c, err := m.prepare(ctx, serverName, opts)
	if err != nil {
		return nil, err
	}
	defer c.cancel()
	res, err := c.session.GetPrompt(c.ctx, params)
	if err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

// isMethodUnavailableError recognizes JSON-RPC method-not-found replies from
// servers that do not implement a capability.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"method not found", "-32601", "not implemented", "unimplemented", "does not support"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

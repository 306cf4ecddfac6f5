package mcpgateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcpjam/inspector-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every server managed by
// an mcpmgr.Manager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex
	calls    *callTracker
	progress *progressTracker

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	serverMu sync.Mutex

	httpServerMu sync.Mutex
	httpServer   *http.Server

	hooksMu sync.Mutex
	hooks   map[string][]func()
}

// NewGateway builds a Gateway, synchronizes the initial feature snapshot, and
// watches every known server for list changes. Servers that fail the first
// sync are logged and can be retried with SyncServer.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, errors.New("mcpgateway: manager is required")
	}
	options, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
		calls:    newCallTracker(),
		progress: newProgressTracker(),
		hooks:    make(map[string][]func()),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		SubscribeHandler:   g.handleSubscribe,
		UnsubscribeHandler: g.handleUnsubscribe,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.buildMux()

	mgr.SetElicitationCallback(g.forwardElicitation)
	mgr.OnServerRemoved(g.DetachServer)

	for _, name := range mgr.ListServers() {
		g.watchServer(name)
	}
	if options.AutoConnect {
		ctx := context.Background()
		for _, name := range mgr.ListServers() {
			if _, err := mgr.ConnectToServer(ctx, name, nil); err != nil {
				options.Logger.Warn("autoconnect failed", "server", name, "error", err)
			}
		}
	}
	if err := g.SyncAll(context.Background()); err != nil {
		options.Logger.Warn("initial sync incomplete", "error", err)
	}
	return g, nil
}

// Handler returns the HTTP handler serving the MCP endpoint and any routes
// added through ServeMux.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux exposes the underlying mux so callers can mount extra routes, before
// or after serving starts.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe serves on Options.Addr until ctx is cancelled or the server
// stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		addr := g.httpServer.Addr
		g.httpServerMu.Unlock()
		return errors.Newf("mcpgateway: server already running on %s", addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the HTTP server started by ListenAndServe, if any.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SyncAll refreshes every known server concurrently. Servers that fail to sync
// are logged and reported together; the others still sync.
func (g *Gateway) SyncAll(ctx context.Context) error {
	names := g.manager.ListServers()
	errs := make([]error, len(names))
	var eg errgroup.Group
	for i, name := range names {
		eg.Go(func() error {
			if err := g.SyncServer(ctx, name); err != nil {
				g.logError("sync server", err, "server", name)
				errs[i] = errors.Wrapf(err, "sync %q", name)
			}
			return nil
		})
	}
	_ = eg.Wait()
	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}
	return combined
}

// SyncServer refreshes one server's tools, prompts, resources, and resource
// templates.
func (g *Gateway) SyncServer(ctx context.Context, serverName string) error {
	for _, step := range []func(context.Context, string) error{
		g.syncTools, g.syncPrompts, g.syncResources, g.syncResourceTemplates,
	} {
		if err := step(ctx, serverName); err != nil {
			return err
		}
	}
	return nil
}

// AttachServer adds a server to the gateway after construction. A non-nil cfg
// registers and connects it first.
func (g *Gateway) AttachServer(ctx context.Context, serverName string, cfg mcpmgr.ServerConfig) error {
	if cfg != nil || g.opts.AutoConnect {
		if _, err := g.manager.ConnectToServer(ctx, serverName, cfg); err != nil {
			return err
		}
	}
	g.watchServer(serverName)
	return g.SyncServer(ctx, serverName)
}

// DetachServer withdraws every feature of serverName from downstream clients.
// It runs automatically when the manager removes a server.
func (g *Gateway) DetachServer(serverName string) {
	removed := g.features.RemoveServer(serverName)
	g.serverMu.Lock()
	if len(removed.Tools) > 0 {
		g.server.RemoveTools(removed.Tools...)
	}
	if len(removed.Prompts) > 0 {
		g.server.RemovePrompts(removed.Prompts...)
	}
	if len(removed.Resources) > 0 {
		g.server.RemoveResources(removed.Resources...)
	}
	if len(removed.Templates) > 0 {
		g.server.RemoveResourceTemplates(removed.Templates...)
	}
	g.serverMu.Unlock()

	g.hooksMu.Lock()
	removers := g.hooks[serverName]
	delete(g.hooks, serverName)
	g.hooksMu.Unlock()
	for _, remove := range removers {
		remove()
	}
}

func (g *Gateway) syncTools(ctx context.Context, serverName string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	res, err := g.manager.ListTools(ctx, serverName, nil)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateTools(serverName, res.Tools)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Feature, g.toolHandler(reg.Target))
	}
	return nil
}

func (g *Gateway) syncPrompts(ctx context.Context, serverName string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	res, err := g.manager.ListPrompts(ctx, serverName, nil)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdatePrompts(serverName, res.Prompts)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemovePrompts(removed...)
	}
	for _, reg := range added {
		g.server.AddPrompt(reg.Feature, g.promptHandler(reg.Target))
	}
	return nil
}

func (g *Gateway) syncResources(ctx context.Context, serverName string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	res, err := g.manager.ListResources(ctx, serverName, nil)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateResources(serverName, res.Resources)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveResources(removed...)
	}
	for _, reg := range added {
		g.server.AddResource(reg.Feature, g.resourceHandler(reg.Target))
	}
	return nil
}

func (g *Gateway) syncResourceTemplates(ctx context.Context, serverName string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	res, err := g.manager.ListResourceTemplates(ctx, serverName, nil)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateResourceTemplates(serverName, res.ResourceTemplates)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveResourceTemplates(removed...)
	}
	for _, reg := range added {
		g.server.AddResourceTemplate(reg.Feature, g.templateHandler(reg.Target))
	}
	return nil
}

// watchServer resyncs serverName whenever it announces a list change. Each
// server is watched once until it is detached.
func (g *Gateway) watchServer(serverName string) {
	g.hooksMu.Lock()
	defer g.hooksMu.Unlock()
	if _, ok := g.hooks[serverName]; ok {
		return
	}

	// Handlers run on the session read path; syncing calls back into the same
	// session, so it happens on its own goroutine.
	resync := func(kind string, syncs ...func(context.Context, string) error) func() {
		return func() {
			go func() {
				for _, step := range syncs {
					if err := step(context.Background(), serverName); err != nil {
						g.logError("resync "+kind, err, "server", serverName)
					}
				}
			}()
		}
	}
	tools := resync("tools", g.syncTools)
	prompts := resync("prompts", g.syncPrompts)
	resources := resync("resources", g.syncResources, g.syncResourceTemplates)

	removers := []func(){}
	watch := func(remove func(), err error) {
		if err != nil {
			g.logError("watch server", err, "server", serverName)
			return
		}
		removers = append(removers, remove)
	}
	watch(g.manager.OnToolListChanged(serverName, func(context.Context, *mcp.ToolListChangedRequest) { tools() }))
	watch(g.manager.OnPromptListChanged(serverName, func(context.Context, *mcp.PromptListChangedRequest) { prompts() }))
	watch(g.manager.OnResourceListChanged(serverName, func(context.Context, *mcp.ResourceListChangedRequest) { resources() }))
	watch(g.manager.OnResourceUpdated(serverName, g.forwardResourceUpdate(serverName)))
	watch(g.manager.OnProgress(serverName, g.forwardProgress(serverName)))
	g.hooks[serverName] = removers
}

func (g *Gateway) toolHandler(t target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		defer g.calls.enter(t.Server, req.Session)()
		params := &mcp.CallToolParams{Name: t.Native}
		if req.Params != nil {
			params.Meta = req.Params.Meta
			if len(req.Params.Arguments) > 0 {
				params.Arguments = req.Params.Arguments
			}
		}
		if req.Session != nil {
			defer g.progress.track(t.Server, req.Session, params)()
		}
		return g.manager.ExecuteToolWithParams(ctx, t.Server, params)
	}
}

func (g *Gateway) promptHandler(t target) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		defer g.calls.enter(t.Server, req.Session)()
		params := &mcp.GetPromptParams{Name: t.Native}
		if req.Params != nil {
			params.Meta = req.Params.Meta
			params.Arguments = req.Params.Arguments
		}
		return g.manager.GetPrompt(ctx, t.Server, params)
	}
}

func (g *Gateway) resourceHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		defer g.calls.enter(t.Server, req.Session)()
		params := &mcp.ReadResourceParams{URI: t.Native}
		if req.Params != nil {
			params.Meta = req.Params.Meta
		}
		res, err := g.manager.ReadResource(ctx, t.Server, params)
		return g.rewriteContents(t.Server, res, err)
	}
}

func (g *Gateway) templateHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		defer g.calls.enter(t.Server, req.Session)()
		params := &mcp.ReadResourceParams{URI: t.Native}
		if req.Params != nil {
			params.Meta = req.Params.Meta
			if native, ok := g.opts.Namespace.NativeResourceTemplateURI(t.Server, req.Params.URI); ok {
				params.URI = native
			}
		}
		res, err := g.manager.ReadResource(ctx, t.Server, params)
		return g.rewriteContents(t.Server, res, err)
	}
}

// rewriteContents reports contents under the URIs downstream clients know.
func (g *Gateway) rewriteContents(serverName string, res *mcp.ReadResourceResult, err error) (*mcp.ReadResourceResult, error) {
	if err != nil || res == nil {
		return res, err
	}
	for _, c := range res.Contents {
		if c == nil {
			continue
		}
		if uri, ok := g.features.GatewayResourceURI(serverName, c.URI); ok {
			c.URI = uri
		} else {
			c.URI = g.opts.Namespace.ResourceURI(serverName, c.URI)
		}
	}
	return res, nil
}

func (g *Gateway) handleSubscribe(ctx context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing subscribe params")
	}
	t, ok := g.features.ResourceTarget(req.Params.URI)
	if !ok {
		return errors.Newf("mcpgateway: unknown resource %q", req.Params.URI)
	}
	return g.manager.SubscribeResource(ctx, t.Server, &mcp.SubscribeParams{URI: t.Native})
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing unsubscribe params")
	}
	t, ok := g.features.ResourceTarget(req.Params.URI)
	if !ok {
		return errors.Newf("mcpgateway: unknown resource %q", req.Params.URI)
	}
	return g.manager.UnsubscribeResource(ctx, t.Server, &mcp.UnsubscribeParams{URI: t.Native})
}

func (g *Gateway) forwardResourceUpdate(serverName string) func(context.Context, *mcp.ResourceUpdatedNotificationRequest) {
	return func(_ context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
		if req == nil || req.Params == nil {
			return
		}
		params := *req.Params
		go func() {
			uri, ok := g.features.GatewayResourceURI(serverName, params.URI)
			if !ok {
				if err := g.syncResources(context.Background(), serverName); err != nil {
					g.logError("resync unknown resource", err, "server", serverName)
					return
				}
				if uri, ok = g.features.GatewayResourceURI(serverName, params.URI); !ok {
					return
				}
			}
			params.URI = uri
			if err := g.server.ResourceUpdated(context.Background(), &params); err != nil {
				g.logError("forward resource update", err, "server", serverName)
			}
		}()
	}
}

// forwardElicitation relays an upstream elicitation to the downstream session
// whose request is currently running on that server.
func (g *Gateway) forwardElicitation(ctx context.Context, event mcpmgr.ElicitationEvent) (*mcp.ElicitResult, error) {
	if event.Request == nil || event.Request.Params == nil {
		return nil, errors.New("mcpgateway: malformed elicitation payload")
	}
	session := g.calls.current(event.ServerName)
	if session == nil {
		return nil, errors.Newf("mcpgateway: no downstream session for elicitation from %q", event.ServerName)
	}
	return session.Elicit(ctx, event.Request.Params)
}

func (g *Gateway) buildMux() *http.ServeMux {
	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}
	mux := http.NewServeMux()
	mux.Handle(g.opts.Path, endpoint)
	if g.opts.Path != "/" {
		mux.Handle(g.opts.Path+"/", endpoint)
	}
	if g.opts.AuthorizationServer != "" {
		mux.Handle(protectedResourcePath, g.protectedResourceHandler())
	}
	return mux
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	g.opts.Logger.Error(msg, append([]any{"error", err}, args...)...)
}

// callTracker records which downstream sessions have requests in flight on
// each upstream server.
type callTracker struct {
	mu     sync.Mutex
	active map[string][]*mcp.ServerSession
}

func newCallTracker() *callTracker {
	return &callTracker{active: make(map[string][]*mcp.ServerSession)}
}

func (c *callTracker) enter(server string, session *mcp.ServerSession) (exit func()) {
	if session == nil {
		return func() {}
	}
	c.mu.Lock()
	c.active[server] = append(c.active[server], session)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		stack := c.active[server]
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == session {
				stack = append(stack[:i], stack[i+1:]...)
				break
			}
		}
		if len(stack) == 0 {
			delete(c.active, server)
		} else {
			c.active[server] = stack
		}
	}
}

// current returns the most recent session with a request in flight on server.
func (c *callTracker) current(server string) *mcp.ServerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	stack := c.active[server]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

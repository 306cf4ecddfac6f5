package mcpgateway

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const progressCleanupGrace = 250 * time.Millisecond

type progressSink interface {
	NotifyProgress(context.Context, *mcp.ProgressNotificationParams) error
}

// progressRoute remembers where an upstream progress token must be delivered
// and under which token the downstream client asked for it.
type progressRoute struct {
	sink  progressSink
	token any
}

// progressTracker swaps downstream progress tokens for gateway-issued ones so
// upstream notifications can be routed back to the session that asked.
type progressTracker struct {
	counter atomic.Uint64

	mu     sync.Mutex
	routes map[string]progressRoute

	cleanupGrace time.Duration
}

func newProgressTracker() *progressTracker {
	return &progressTracker{
		routes:       make(map[string]progressRoute),
		cleanupGrace: progressCleanupGrace,
	}
}

// track rewrites the progress token in params, if the caller set one, and
// returns a func that releases the route. Notifications that trail the result
// still arrive during the grace period.
func (pt *progressTracker) track(serverName string, sink progressSink, params *mcp.CallToolParams) (release func()) {
	if sink == nil || params == nil {
		return func() {}
	}
	downstream := params.GetProgressToken()
	if downstream == nil {
		return func() {}
	}
	token := "gw/" + serverName + "/" + strconv.FormatUint(pt.counter.Add(1), 10)
	params.Meta = maps.Clone(params.Meta)
	if params.Meta == nil {
		params.Meta = map[string]any{}
	}
	params.SetProgressToken(token)

	key := progressKey(serverName, token)
	route := progressRoute{sink: sink, token: downstream}
	pt.mu.Lock()
	pt.routes[key] = route
	pt.mu.Unlock()

	return func() {
		if pt.cleanupGrace <= 0 {
			pt.forget(key)
			return
		}
		time.AfterFunc(pt.cleanupGrace, func() { pt.forget(key) })
	}
}

func (pt *progressTracker) forget(key string) {
	pt.mu.Lock()
	delete(pt.routes, key)
	pt.mu.Unlock()
}

func (pt *progressTracker) lookup(serverName string, token any) (progressRoute, bool) {
	s, ok := token.(string)
	if !ok {
		return progressRoute{}, false
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	route, ok := pt.routes[progressKey(serverName, s)]
	return route, ok
}

func progressKey(serverName, token string) string {
	return serverName + "\x00" + token
}

// forwardProgress relays upstream progress to the downstream session under
// the token it originally supplied.
func (g *Gateway) forwardProgress(serverName string) func(context.Context, *mcp.ProgressNotificationClientRequest) {
	return func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
		if req == nil || req.Params == nil {
			return
		}
		route, ok := g.progress.lookup(serverName, req.Params.ProgressToken)
		if !ok {
			return
		}
		params := *req.Params
		params.ProgressToken = route.token
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.SyncTimeout)
		defer cancel()
		if err := route.sink.NotifyProgress(ctx, &params); err != nil {
			g.logError("forward progress", err, "server", serverName)
		}
	}
}

package mcpmgr

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type dialBehavior int

const (
	dialOK dialBehavior = iota
	dialHang
	dialFail
)

// fakeTransports hands out in-memory transports wired to one fixture server
// and records the order in which transport kinds were requested.
type fakeTransports struct {
	server *mcp.Server

	stdio      dialBehavior
	streamable dialBehavior
	sse        dialBehavior
	// sessionID is reported by streamable connections.
	sessionID string
	// delay stalls every successful handshake.
	delay time.Duration

	dials atomic.Int32

	mu       sync.Mutex
	order    []TransportKind
	sessions []*mcp.ServerSession
}

func newFakeTransports() *fakeTransports {
	return &fakeTransports{server: newFixtureServer()}
}

func (f *fakeTransports) Stdio(*StdioServerConfig) (mcp.Transport, error) {
	return f.build(KindStdio, f.stdio, ""), nil
}

func (f *fakeTransports) Streamable(*HTTPServerConfig, *http.Client) mcp.Transport {
	return f.build(KindStreamableHTTP, f.streamable, f.sessionID)
}

func (f *fakeTransports) SSE(*HTTPServerConfig, *http.Client) mcp.Transport {
	return f.build(KindSSE, f.sse, "")
}

func (f *fakeTransports) build(kind TransportKind, behavior dialBehavior, sessionID string) mcp.Transport {
	f.dials.Add(1)
	f.mu.Lock()
	f.order = append(f.order, kind)
	f.mu.Unlock()

	switch behavior {
	case dialHang:
		return hangingTransport{}
	case dialFail:
		return failingTransport{err: errors.Newf("%s handshake refused", kind)}
	}
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := f.server.Connect(context.Background(), serverT, nil)
	if err != nil {
		return failingTransport{err: err}
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, ss)
	f.mu.Unlock()
	return &scriptedTransport{delegate: clientT, delay: f.delay, sessionID: sessionID}
}

func (f *fakeTransports) dialOrder() []TransportKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransportKind(nil), f.order...)
}

func (f *fakeTransports) serverSession(t *testing.T, i int) *mcp.ServerSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sessions), i)
	return f.sessions[i]
}

type hangingTransport struct{}

func (hangingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingTransport struct{ err error }

func (t failingTransport) Connect(context.Context) (mcp.Connection, error) {
	return nil, t.err
}

type scriptedTransport struct {
	delegate  mcp.Transport
	delay     time.Duration
	sessionID string
}

func (t *scriptedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	if t.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.delay):
		}
	}
	conn, err := t.delegate.Connect(ctx)
	if err != nil || t.sessionID == "" {
		return conn, err
	}
	return sessionConn{Connection: conn, id: t.sessionID}, nil
}

type sessionConn struct {
	mcp.Connection
	id string
}

func (c sessionConn) SessionID() string { return c.id }

type echoArgs struct {
	Text string `json:"text"`
}

func newFixtureServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "v0.1.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the text argument",
		Meta:        mcp.Meta{"ui": "echo-panel"},
	}, func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: in.Text}}}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always reports a tool error"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "tool exploded"}},
			}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "sleep", Description: "Blocks until cancelled"},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		})
	server.AddPrompt(&mcp.Prompt{Name: "greet", Description: "Greets someone"},
		func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			who := req.Params.Arguments["name"]
			return &mcp.GetPromptResult{
				Messages: []*mcp.PromptMessage{{Role: "user", Content: &mcp.TextContent{Text: "hello " + who}}},
			}, nil
		})
	server.AddResource(&mcp.Resource{URI: "fixture://readme", Name: "readme", MIMEType: "text/plain"},
		func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: "read me"}},
			}, nil
		})
	return server
}

func newTestManager(t *testing.T, f *fakeTransports) *Manager {
	t.Helper()
	m := NewManager(nil, &ManagerOptions{
		DefaultClientName: "manager-tests",
		DefaultTimeout:    2 * time.Second,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	m.transports = f
	m.probeTimeout = 50 * time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.DisconnectAllServers(ctx)
	})
	return m
}

func stdioConfig() *StdioServerConfig {
	return &StdioServerConfig{Command: "fixture-server"}
}

func httpConfig(url string) *HTTPServerConfig {
	return &HTTPServerConfig{URL: url}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

package mcpgateway

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProgressSink struct {
	mu    sync.Mutex
	calls []*mcp.ProgressNotificationParams
}

func (f *fakeProgressSink) NotifyProgress(_ context.Context, params *mcp.ProgressNotificationParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	return nil
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	opts, err := (&Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}).withDefaults()
	require.NoError(t, err)
	return &Gateway{opts: opts, progress: newProgressTracker(), calls: newCallTracker()}
}

func TestProgressTrackSwapsToken(t *testing.T) {
	t.Parallel()

	pt := newProgressTracker()
	sink := &fakeProgressSink{}
	downstreamMeta := map[string]any{"progressToken": "client-7"}
	params := &mcp.CallToolParams{Name: "echo", Meta: downstreamMeta}

	release := pt.track("srv", sink, params)
	defer release()

	token, ok := params.GetProgressToken().(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(token, "gw/srv/"), token)
	assert.Equal(t, "client-7", downstreamMeta["progressToken"], "caller meta must not be rewritten")

	route, ok := pt.lookup("srv", token)
	require.True(t, ok)
	assert.Equal(t, "client-7", route.token)
	assert.Same(t, sink, route.sink)

	_, ok = pt.lookup("other", token)
	assert.False(t, ok)
}

func TestProgressTrackWithoutTokenIsNoop(t *testing.T) {
	t.Parallel()

	pt := newProgressTracker()
	params := &mcp.CallToolParams{Name: "echo"}
	pt.track("srv", &fakeProgressSink{}, params)()

	assert.Nil(t, params.GetProgressToken())
	assert.Empty(t, pt.routes)
}

func TestProgressReleaseAfterGrace(t *testing.T) {
	t.Parallel()

	pt := newProgressTracker()
	pt.cleanupGrace = 10 * time.Millisecond
	params := &mcp.CallToolParams{Name: "echo", Meta: map[string]any{"progressToken": 3}}
	release := pt.track("srv", &fakeProgressSink{}, params)
	token := params.GetProgressToken()

	release()
	_, ok := pt.lookup("srv", token)
	assert.True(t, ok, "route survives until the grace period ends")
	assert.Eventually(t, func() bool {
		_, ok := pt.lookup("srv", token)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestForwardProgressRestoresDownstreamToken(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	sink := &fakeProgressSink{}
	params := &mcp.CallToolParams{Name: "echo", Meta: map[string]any{"progressToken": float64(3)}}
	defer g.progress.track("srv", sink, params)()

	forward := g.forwardProgress("srv")
	forward(context.Background(), &mcp.ProgressNotificationClientRequest{
		Params: &mcp.ProgressNotificationParams{ProgressToken: params.GetProgressToken(), Progress: 0.5, Total: 1},
	})
	forward(context.Background(), &mcp.ProgressNotificationClientRequest{
		Params: &mcp.ProgressNotificationParams{ProgressToken: "unknown", Progress: 1},
	})
	forward(context.Background(), nil)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.calls, 1)
	assert.Equal(t, float64(3), sink.calls[0].ProgressToken)
	assert.Equal(t, 0.5, sink.calls[0].Progress)
}

package mcpmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersRegisteredBeforeConnectReceiveNotifications(t *testing.T) {
	t.Parallel()
	f := newFakeTransports()
	m := newTestManager(t, f)
	ctx := testContext(t)

	var typed, generic atomic.Int32
	_, err := m.OnToolListChanged("fixture", func(context.Context, *mcp.ToolListChangedRequest) {
		typed.Add(1)
	})
	require.NoError(t, err)
	_, err = m.AddNotificationHandler("fixture", NotificationSchemaToolListChanged, func(_ context.Context, p NotificationPayload) {
		assert.Equal(t, "fixture", p.ServerName)
		generic.Add(1)
	})
	require.NoError(t, err)

	_, err = m.ConnectToServer(ctx, "fixture", stdioConfig())
	require.NoError(t, err)

	mcp.AddTool(f.server, &mcp.Tool{Name: "late"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{}, nil, nil
	})

	require.Eventually(t, func() bool {
		return typed.Load() >= 1 && generic.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlersSurviveReconnectWithoutDuplicates(t *testing.T) {
	t.Parallel()
	f := newFakeTransports()
	m := newTestManager(t, f)
	ctx := testContext(t)

	var calls atomic.Int32
	_, err := m.OnPromptListChanged("fixture", func(context.Context, *mcp.PromptListChangedRequest) {
		calls.Add(1)
	})
	require.NoError(t, err)

	_, err = m.ConnectToServer(ctx, "fixture", stdioConfig())
	require.NoError(t, err)
	_, err = m.Reconnect(ctx, "fixture", nil)
	require.NoError(t, err)

	f.server.AddPrompt(&mcp.Prompt{Name: "late"}, func(context.Context, *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{}, nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "only the live session should deliver")
}

func TestDispatchRecoversFromPanickingHandler(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeTransports())

	var mu sync.Mutex
	var order []string
	_, err := m.AddNotificationHandler("fixture", NotificationSchemaResourceUpdated, func(context.Context, NotificationPayload) {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = m.OnResourceUpdated("fixture", func(_ context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
		mu.Lock()
		order = append(order, req.Params.URI)
		mu.Unlock()
	})
	require.NoError(t, err)

	req := &mcp.ResourceUpdatedNotificationRequest{Params: &mcp.ResourceUpdatedNotificationParams{URI: "fixture://readme"}}
	assert.NotPanics(t, func() {
		m.dispatchNotification(context.Background(), "fixture", NotificationSchemaResourceUpdated, req)
	})
	assert.Equal(t, []string{"fixture://readme"}, order)
}

func TestTypedHandlerIgnoresOtherRequestTypes(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeTransports())

	var called bool
	_, err := m.OnProgress("fixture", func(context.Context, *mcp.ProgressNotificationClientRequest) {
		called = true
	})
	require.NoError(t, err)
	m.dispatchNotification(context.Background(), "fixture", NotificationSchemaProgress, &mcp.ToolListChangedRequest{})
	assert.False(t, called)
}

func TestNotificationRegistrationValidatesName(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeTransports())

	_, err := m.AddNotificationHandler(" ", NotificationSchemaProgress, func(context.Context, NotificationPayload) {})
	assert.ErrorIs(t, err, ErrInvalidServerName)
	_, err = m.OnLoggingMessage("", nil)
	assert.ErrorIs(t, err, ErrInvalidServerName)
	_, err = m.OnResourceListChanged("", func(context.Context, *mcp.ResourceListChangedRequest) {})
	assert.ErrorIs(t, err, ErrInvalidServerName)

	remove, err := m.OnLoggingMessage("fixture", nil)
	assert.NoError(t, err)
	assert.NotPanics(t, remove)
}

func TestReplacingHandlerAfterReconnectFiresOnce(t *testing.T) {
	t.Parallel()
	f := newFakeTransports()
	m := newTestManager(t, f)
	ctx := testContext(t)

	var first, second atomic.Int32
	remove, err := m.OnToolListChanged("fixture", func(context.Context, *mcp.ToolListChangedRequest) {
		first.Add(1)
	})
	require.NoError(t, err)

	_, err = m.ConnectToServer(ctx, "fixture", stdioConfig())
	require.NoError(t, err)
	_, err = m.Reconnect(ctx, "fixture", nil)
	require.NoError(t, err)

	remove()
	remove()
	_, err = m.OnToolListChanged("fixture", func(context.Context, *mcp.ToolListChangedRequest) {
		second.Add(1)
	})
	require.NoError(t, err)

	mcp.AddTool(f.server, &mcp.Tool{Name: "late"}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{}, nil, nil
	})

	require.Eventually(t, func() bool { return second.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), second.Load())
	assert.Zero(t, first.Load(), "removed handlers stay removed")
}

package mcpmgr

import (
	"context"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NotificationSchema identifies an MCP notification method.
type NotificationSchema string

const (
	NotificationSchemaToolListChanged     NotificationSchema = "notifications/tools/list_changed"
	NotificationSchemaResourceListChanged NotificationSchema = "notifications/resources/list_changed"
	NotificationSchemaResourceUpdated     NotificationSchema = "notifications/resources/updated"
	NotificationSchemaPromptListChanged   NotificationSchema = "notifications/prompts/list_changed"
	NotificationSchemaLoggingMessage      NotificationSchema = "notifications/message"
	NotificationSchemaProgress            NotificationSchema = "notifications/progress"
)

// NotificationPayload is delivered to handlers for every matching
// notification.
type NotificationPayload struct {
	ServerName string
	Method     NotificationSchema
	Request    mcp.Request
}

// NotificationHandlerFunc receives notifications for one server and method.
// Handlers run on the session's read path and must not block on calls to the
// same server.
type NotificationHandlerFunc func(context.Context, NotificationPayload)

// AddNotificationHandler registers handler for schema on serverName and
// returns a func that unregisters it. Handlers outlive individual sessions:
// registering before connect or across reconnects needs no re-attachment, and
// each registered handler fires once per notification in registration order.
// Registration is cumulative, so a caller replacing a handler removes the old
// one first.
func (m *Manager) AddNotificationHandler(serverName string, schema NotificationSchema, handler NotificationHandlerFunc) (func(), error) {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return func() {}, err
	}
	if handler == nil {
		return func() {}, nil
	}
	reg := &notificationRegistration{fn: handler}
	m.mu.Lock()
	bySchema := m.notifications[name]
	if bySchema == nil {
		bySchema = make(map[NotificationSchema][]*notificationRegistration)
		m.notifications[name] = bySchema
	}
	bySchema[schema] = append(bySchema[schema], reg)
	m.mu.Unlock()
	return func() { m.removeNotificationHandler(name, schema, reg) }, nil
}

type notificationRegistration struct {
	fn NotificationHandlerFunc
}

func (m *Manager) removeNotificationHandler(name string, schema NotificationSchema, reg *notificationRegistration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := m.notifications[name][schema]
	for i, r := range regs {
		if r == reg {
			m.notifications[name][schema] = slices.Delete(slices.Clone(regs), i, i+1)
			return
		}
	}
}

// OnToolListChanged registers a handler for tools/list_changed notifications.
func (m *Manager) OnToolListChanged(serverName string, handler func(context.Context, *mcp.ToolListChangedRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaToolListChanged, typedHandler(handler))
}

// OnResourceListChanged registers a handler for resources/list_changed
// notifications.
func (m *Manager) OnResourceListChanged(serverName string, handler func(context.Context, *mcp.ResourceListChangedRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaResourceListChanged, typedHandler(handler))
}

// OnResourceUpdated registers a handler for resources/updated notifications.
func (m *Manager) OnResourceUpdated(serverName string, handler func(context.Context, *mcp.ResourceUpdatedNotificationRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaResourceUpdated, typedHandler(handler))
}

// OnPromptListChanged registers a handler for prompts/list_changed
// notifications.
func (m *Manager) OnPromptListChanged(serverName string, handler func(context.Context, *mcp.PromptListChangedRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaPromptListChanged, typedHandler(handler))
}

// OnLoggingMessage registers a handler for server log messages.
func (m *Manager) OnLoggingMessage(serverName string, handler func(context.Context, *mcp.LoggingMessageRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaLoggingMessage, typedHandler(handler))
}

// OnProgress registers a handler for progress notifications.
func (m *Manager) OnProgress(serverName string, handler func(context.Context, *mcp.ProgressNotificationClientRequest)) (func(), error) {
	return m.AddNotificationHandler(serverName, NotificationSchemaProgress, typedHandler(handler))
}

func typedHandler[R mcp.Request](h func(context.Context, R)) NotificationHandlerFunc {
	if h == nil {
		return nil
	}
	return func(ctx context.Context, payload NotificationPayload) {
		if req, ok := payload.Request.(R); ok {
			h(ctx, req)
		}
	}
}

// notificationMiddleware observes every inbound message for name and fans
// notifications out to the handlers registered at dispatch time.
func (m *Manager) notificationMiddleware(name string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			m.dispatchNotification(ctx, name, NotificationSchema(method), req)
			return next(ctx, method, req)
		}
	}
}

func (m *Manager) dispatchNotification(ctx context.Context, name string, schema NotificationSchema, req mcp.Request) {
	m.mu.RLock()
	regs := m.notifications[name][schema]
	m.mu.RUnlock()
	if len(regs) == 0 {
		return
	}
	payload := NotificationPayload{ServerName: name, Method: schema, Request: req}
	for _, r := range regs {
		m.safeInvoke(string(schema), name, func() { r.fn(ctx, payload) })
	}
}

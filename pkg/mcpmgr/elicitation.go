package mcpmgr

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ElicitationHandler answers elicitation requests for one server.
type ElicitationHandler func(context.Context, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// ElicitationEvent describes an elicitation routed to the global callback.
type ElicitationEvent struct {
	ServerName string
	RequestID  string
	Message    string
	Schema     any
	Request    *mcp.ElicitRequest
	CreatedAt  time.Time
}

// GlobalElicitationCallback receives elicitations from servers without a
// dedicated handler. Returning a nil result and nil error leaves the request
// pending until RespondToElicitation or RejectElicitation is called with
// event.RequestID.
type GlobalElicitationCallback func(ctx context.Context, event ElicitationEvent) (*mcp.ElicitResult, error)

type elicitationOutcome struct {
	result *mcp.ElicitResult
	err    error
}

type pendingElicitation struct {
	event ElicitationEvent
	done  chan elicitationOutcome
}

// SetElicitationHandler installs a handler for elicitations from serverName,
// replacing any previous one.
func (m *Manager) SetElicitationHandler(serverName string, handler ElicitationHandler) error {
	name, err := normalizeServerName(serverName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.elicitationHandlers, name)
		return nil
	}
	m.elicitationHandlers[name] = handler
	return nil
}

// ClearElicitationHandler removes the handler for serverName.
func (m *Manager) ClearElicitationHandler(serverName string) error {
	return m.SetElicitationHandler(serverName, nil)
}

// SetGlobalElicitationHandler installs a handler used for servers without a
// dedicated one. Pass nil to clear it.
func (m *Manager) SetGlobalElicitationHandler(handler ElicitationHandler) {
	m.mu.Lock()
	m.globalElicitation = handler
	m.mu.Unlock()
}

// SetElicitationCallback installs the global callback consulted after the
// per-server and global handlers.
func (m *Manager) SetElicitationCallback(callback GlobalElicitationCallback) {
	m.mu.Lock()
	m.elicitationCallback = callback
	m.mu.Unlock()
}

// ClearElicitationCallback removes the global callback. Requests already
// pending stay pending.
func (m *Manager) ClearElicitationCallback() {
	m.SetElicitationCallback(nil)
}

// GetPendingElicitations returns the elicitations awaiting a response, oldest
// first.
func (m *Manager) GetPendingElicitations() []ElicitationEvent {
	m.mu.RLock()
	events := make([]ElicitationEvent, 0, len(m.pendingElicitations))
	for _, p := range m.pendingElicitations {
		events = append(events, p.event)
	}
	m.mu.RUnlock()
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events
}

// RespondToElicitation resolves a pending elicitation. It reports false when
// requestID is not pending.
func (m *Manager) RespondToElicitation(requestID string, result *mcp.ElicitResult) bool {
	return m.resolveElicitation(requestID, elicitationOutcome{result: result})
}

// RejectElicitation fails a pending elicitation with err. It reports false
// when requestID is not pending.
func (m *Manager) RejectElicitation(requestID string, err error) bool {
	if err == nil {
		err = errors.New("mcpmgr: elicitation rejected")
	}
	return m.resolveElicitation(requestID, elicitationOutcome{err: err})
}

func (m *Manager) resolveElicitation(requestID string, outcome elicitationOutcome) bool {
	m.mu.Lock()
	p, ok := m.pendingElicitations[requestID]
	delete(m.pendingElicitations, requestID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- outcome
	return true
}

// canElicit reports whether a handler or callback could answer elicitations
// from name.
func (m *Manager) canElicit(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elicitationHandlers[name] != nil || m.globalElicitation != nil || m.elicitationCallback != nil
}

// handleElicitation routes a request: the server's handler, then the global
// handler, then the global callback, then the handler from ClientOptions.
func (m *Manager) handleElicitation(ctx context.Context, name string, req *mcp.ElicitRequest, fallback ElicitationHandler) (*mcp.ElicitResult, error) {
	m.mu.RLock()
	handler := m.elicitationHandlers[name]
	if handler == nil {
		handler = m.globalElicitation
	}
	callback := m.elicitationCallback
	m.mu.RUnlock()

	switch {
	case handler != nil:
		return handler(ctx, req)
	case callback != nil:
		return m.awaitElicitation(ctx, name, req, callback)
	case fallback != nil:
		return fallback(ctx, req)
	}
	return nil, errors.Wrapf(ErrElicitationUnsupported, "%q", name)
}

func (m *Manager) awaitElicitation(ctx context.Context, name string, req *mcp.ElicitRequest, callback GlobalElicitationCallback) (*mcp.ElicitResult, error) {
	event := ElicitationEvent{
		ServerName: name,
		RequestID:  "elicit_" + uuid.NewString(),
		Request:    req,
		CreatedAt:  time.Now(),
	}
	if req != nil && req.Params != nil {
		event.Message = req.Params.Message
		event.Schema = req.Params.RequestedSchema
	}
	p := &pendingElicitation{event: event, done: make(chan elicitationOutcome, 1)}

	m.mu.Lock()
	m.pendingElicitations[event.RequestID] = p
	m.mu.Unlock()

	result, err := callback(ctx, event)
	if err != nil || result != nil {
		m.dropPendingElicitation(event.RequestID)
		return result, err
	}

	select {
	case <-ctx.Done():
		m.dropPendingElicitation(event.RequestID)
		return nil, ctx.Err()
	case outcome := <-p.done:
		return outcome.result, outcome.err
	}
}

func (m *Manager) dropPendingElicitation(id string) {
	m.mu.Lock()
	delete(m.pendingElicitations, id)
	m.mu.Unlock()
}

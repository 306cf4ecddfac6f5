package mcpmgr

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// observedTransport wraps every transport the manager dials. It remembers the
// connection it produced so a failed handshake can be torn down, and emits
// RPC log events when a logger is configured.
type observedTransport struct {
	serverName string
	delegate   mcp.Transport
	logger     RPCLogger

	mu   sync.Mutex
	conn mcp.Connection
}

// Connect hands the delegate a context that outlives ctx. SDK transports keep
// their connect context for the life of the connection (the SSE event stream,
// the streamable GET listener and its closing DELETE), so ctx only bounds the
// dial itself. The detached context is cancelled when the connection closes.
func (t *observedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	conn, err := t.delegate.Connect(connCtx)
	if !stop() {
		// ctx ended while dialing.
		if err == nil {
			_ = conn.Close()
			err = ctx.Err()
		}
	}
	if err != nil {
		cancel()
		return nil, err
	}
	wrapped := &observedConnection{serverName: t.serverName, delegate: conn, logger: t.logger, cancel: cancel}
	t.mu.Lock()
	t.conn = wrapped
	t.mu.Unlock()
	return wrapped, nil
}

// closeHalfOpen closes the connection left behind by a failed handshake.
func (t *observedTransport) closeHalfOpen() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type observedConnection struct {
	serverName string
	delegate   mcp.Connection
	logger     RPCLogger
	cancel     context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

func (c *observedConnection) SessionID() string { return c.delegate.SessionID() }

func (c *observedConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *observedConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

// Close is idempotent: the SDK may close a connection whose handshake failed
// before closeHalfOpen gets to it.
func (c *observedConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.delegate.Close()
		if c.cancel != nil {
			c.cancel()
		}
	})
	return c.closeErr
}

func (c *observedConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	if c.logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerName: c.serverName})
}

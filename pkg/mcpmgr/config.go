package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction  RPCDirection
	Message    []byte
	ServerName string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider supplies a ready-made Authorization header value (for
// example "Bearer <token>") for outbound HTTP requests. Token acquisition and
// refresh belong to the provider; the manager only asks for the current value.
type HTTPAuthProvider func(context.Context) (string, error)

// HTTPRequestInit shapes the requests sent by the Streamable HTTP transport.
// Headers are also sent on the SSE transport.
type HTTPRequestInit struct {
	Headers http.Header
}

// SSERequestInit shapes the requests sent by the SSE transport only.
type SSERequestInit struct {
	Headers http.Header
}

// StreamableReconnectionOptions configures the reconnect strategy for the
// Streamable HTTP transport.
type StreamableReconnectionOptions struct {
	MaxRetries int
}

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// ClientOptions override the manager-wide client options (capabilities,
	// sampling handler, keep-alive) for this server.
	ClientOptions mcp.ClientOptions
	// Timeout bounds connection establishment and, unless overridden per call,
	// every request to the server.
	Timeout time.Duration
	// Version is the client version advertised during initialization.
	Version string
	// OnError is called when a session ends with an error.
	OnError    func(error)
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched as a subprocess.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	// Env is overlaid on the safe default environment; entries here win.
	Env map[string]string
	// Cwd is the working directory of the subprocess. Empty inherits ours.
	Cwd string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over Streamable HTTP or
// SSE.
type HTTPServerConfig struct {
	BaseServerConfig
	URL        string
	HTTPClient *http.Client

	RequestInit         *HTTPRequestInit
	EventSourceInit     *SSERequestInit
	AuthProvider        HTTPAuthProvider
	ReconnectionOptions *StreamableReconnectionOptions
	// SessionID resumes an existing Streamable HTTP session when set.
	SessionID string
	// PreferSSE forces the initial transport choice. When nil the URL decides:
	// paths ending in /sse try SSE first.
	PreferSSE *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by *StdioServerConfig and *HTTPServerConfig.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ValidateConfig checks that cfg carries the field its transport requires.
func ValidateConfig(cfg ServerConfig) error {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		if c == nil || strings.TrimSpace(c.Command) == "" {
			return errors.Wrap(ErrInvalidConfig, "stdio server requires a command")
		}
	case *HTTPServerConfig:
		if c == nil || strings.TrimSpace(c.URL) == "" {
			return errors.Wrap(ErrInvalidConfig, "http server requires a url")
		}
		u, err := url.Parse(strings.TrimSpace(c.URL))
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "invalid url %q: %v", c.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Wrapf(ErrInvalidConfig, "unsupported url scheme %q", u.Scheme)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported config type %T", cfg)
	}
	return nil
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server name is used.
	DefaultClientName string
	// DefaultClientVersion controls the version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultClientOptions are merged under each server's ClientOptions.
	DefaultClientOptions mcp.ClientOptions
	// DefaultLogJSONRPC logs JSON-RPC traffic for every server.
	DefaultLogJSONRPC bool
	// RPCLogger receives JSON-RPC traffic for servers without their own
	// RPCLogger.
	RPCLogger RPCLogger
	// Logger receives the manager's own diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// AutoConnect dials every initial server in the background.
	AutoConnect bool
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

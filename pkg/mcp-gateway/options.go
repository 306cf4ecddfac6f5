package mcpgateway

import (
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway to downstream clients.
	Implementation *mcp.Implementation
	// Addr is the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler. Defaults to "/mcp".
	Path string
	// Namespace controls how upstream names and URIs are exposed downstream.
	// Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// AutoConnect dials every configured server before the first sync.
	AutoConnect bool
	// Streamable is passed to mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	Logger     *slog.Logger
	// SyncTimeout bounds each synchronization pass. Defaults to 30s.
	SyncTimeout time.Duration

	// TokenVerifier enables bearer authentication on the MCP endpoint.
	TokenVerifier auth.TokenVerifier
	// TokenOptions tunes the bearer check. Requires TokenVerifier.
	TokenOptions *auth.RequireBearerTokenOptions
	// AuthorizationServer, when set, is advertised from
	// /.well-known/oauth-protected-resource.
	AuthorizationServer string
}

func (o *Options) withDefaults() (Options, error) {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.TokenOptions != nil && opts.TokenVerifier == nil {
		return Options{}, errors.New("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpgateway",
			Title:   "MCP Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return opts, nil
}

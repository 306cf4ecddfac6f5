package mcpmgr

import (
	"net/url"
	"strings"
)

// ConfigTransport identifies the transport family declared by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportKind identifies the concrete transport backing a live session. It
// is resolved once per connection; HTTP configs resolve to either
// KindStreamableHTTP or KindSSE depending on which handshake succeeded.
type TransportKind string

const (
	KindStdio          TransportKind = "stdio"
	KindStreamableHTTP TransportKind = "streamable-http"
	KindSSE            TransportKind = "sse"
)

// TransportOf returns the transport family for a ServerConfig, or "" for nil
// and unknown implementations.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		if c != nil {
			return TransportStdio
		}
	case *HTTPServerConfig:
		if c != nil {
			return TransportHTTP
		}
	}
	return ""
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	return TransportOf(cfg) == TransportStdio
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	return TransportOf(cfg) == TransportHTTP
}

// AsStdio narrows cfg to *StdioServerConfig.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok && c != nil
}

// AsHTTP narrows cfg to *HTTPServerConfig.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok && c != nil
}

// PrefersSSE reports whether the negotiator tries SSE before Streamable HTTP
// for cfg. An explicit PreferSSE wins; otherwise URLs whose path ends in
// "/sse" prefer SSE.
func PrefersSSE(cfg *HTTPServerConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	raw := strings.TrimSpace(cfg.URL)
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	return strings.HasSuffix(strings.TrimRight(raw, "/"), "/sse")
}

// Package config loads MCP server definitions from the "mcpServers" file
// format shared by MCP hosts. JSON files parse as YAML.
package config

import (
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/mcpjam/inspector-go/pkg/mcpmgr"
)

// ErrInvalid is returned for files that parse but describe unusable servers.
var ErrInvalid = errors.New("config: invalid server definition")

// File mirrors the on-disk document.
type File struct {
	MCPServers map[string]Server `yaml:"mcpServers"`
}

// Server is one entry under mcpServers. Exactly one of Command or URL must be
// set.
type Server struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Cwd     string            `yaml:"cwd"`

	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	SSEHeaders map[string]string `yaml:"sseHeaders"`
	PreferSSE  *bool             `yaml:"preferSSE"`
	SessionID  string            `yaml:"sessionId"`
	MaxRetries *int              `yaml:"maxRetries"`

	Timeout    Duration `yaml:"timeout"`
	Version    string   `yaml:"version"`
	LogJSONRPC bool     `yaml:"logJSONRPC"`
}

// Duration accepts a Go duration string ("15s") or an integer number of
// milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: timeout must be a scalar", value.Line)
	}
	raw := strings.TrimSpace(value.Value)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return errors.Newf("line %d: timeout must not be negative", value.Line)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "line %d: timeout", value.Line)
	}
	if parsed < 0 {
		return errors.Newf("line %d: timeout must not be negative", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and converts the file at path.
func Load(path string) (map[string]mcpmgr.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	servers, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return servers, nil
}

// Parse converts a document into manager configs keyed by trimmed server
// name.
func Parse(data []byte) (map[string]mcpmgr.ServerConfig, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]mcpmgr.ServerConfig, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, errors.Wrap(ErrInvalid, "server name must not be empty")
		}
		if _, dup := out[name]; dup {
			return nil, errors.Wrapf(ErrInvalid, "duplicate server name %q", name)
		}
		cfg, err := file.MCPServers[raw].ServerConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "server %q", name)
		}
		out[name] = cfg
	}
	return out, nil
}

// ServerConfig converts s into the matching mcpmgr config variant.
func (s Server) ServerConfig() (mcpmgr.ServerConfig, error) {
	hasCommand := strings.TrimSpace(s.Command) != ""
	hasURL := strings.TrimSpace(s.URL) != ""
	switch {
	case hasCommand && hasURL:
		return nil, errors.Wrap(ErrInvalid, "command and url are mutually exclusive")
	case !hasCommand && !hasURL:
		return nil, errors.Wrap(ErrInvalid, "one of command or url is required")
	}

	base := mcpmgr.BaseServerConfig{
		Timeout:    time.Duration(s.Timeout),
		Version:    s.Version,
		LogJSONRPC: s.LogJSONRPC,
	}

	var cfg mcpmgr.ServerConfig
	if hasCommand {
		if field := s.httpOnlyField(); field != "" {
			return nil, errors.Wrapf(ErrInvalid, "%s is not valid for a stdio server", field)
		}
		cfg = &mcpmgr.StdioServerConfig{
			BaseServerConfig: base,
			Command:          strings.TrimSpace(s.Command),
			Args:             s.Args,
			Env:              s.Env,
			Cwd:              s.Cwd,
		}
	} else {
		if field := s.stdioOnlyField(); field != "" {
			return nil, errors.Wrapf(ErrInvalid, "%s is not valid for an http server", field)
		}
		remote := &mcpmgr.HTTPServerConfig{
			BaseServerConfig: base,
			URL:              strings.TrimSpace(s.URL),
			SessionID:        s.SessionID,
			PreferSSE:        s.PreferSSE,
		}
		if len(s.Headers) > 0 {
			remote.RequestInit = &mcpmgr.HTTPRequestInit{Headers: toHeader(s.Headers)}
		}
		if len(s.SSEHeaders) > 0 {
			remote.EventSourceInit = &mcpmgr.SSERequestInit{Headers: toHeader(s.SSEHeaders)}
		}
		if s.MaxRetries != nil {
			remote.ReconnectionOptions = &mcpmgr.StreamableReconnectionOptions{MaxRetries: *s.MaxRetries}
		}
		cfg = remote
	}
	if err := mcpmgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s Server) httpOnlyField() string {
	switch {
	case len(s.Headers) > 0:
		return "headers"
	case len(s.SSEHeaders) > 0:
		return "sseHeaders"
	case s.PreferSSE != nil:
		return "preferSSE"
	case s.SessionID != "":
		return "sessionId"
	case s.MaxRetries != nil:
		return "maxRetries"
	}
	return ""
}

func (s Server) stdioOnlyField() string {
	switch {
	case len(s.Args) > 0:
		return "args"
	case len(s.Env) > 0:
		return "env"
	case s.Cwd != "":
		return "cwd"
	}
	return ""
}

func toHeader(values map[string]string) http.Header {
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, v)
	}
	return h
}

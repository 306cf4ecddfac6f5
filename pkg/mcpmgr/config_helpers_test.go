package mcpmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHelpersDirect(t *testing.T) {
	t.Parallel()

	stdio := &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second, Version: "1.2.3"},
		Command:          "npx",
		Args:             []string{"@modelcontextprotocol/server-everything"},
		Env:              map[string]string{"A": "B"},
	}
	remote := &HTTPServerConfig{
		BaseServerConfig:    BaseServerConfig{Timeout: 10 * time.Second, Version: "2.0.0"},
		URL:                 "https://example.com/mcp",
		ReconnectionOptions: &StreamableReconnectionOptions{MaxRetries: 3},
		SessionID:           "sess",
	}

	assert.True(t, IsStdio(stdio))
	assert.False(t, IsHTTP(stdio))
	assert.True(t, IsHTTP(remote))
	assert.False(t, IsStdio(remote))

	assert.Equal(t, TransportStdio, TransportOf(stdio))
	assert.Equal(t, TransportHTTP, TransportOf(remote))
	assert.Empty(t, TransportOf(nil))
	assert.Empty(t, TransportOf((*StdioServerConfig)(nil)))

	c, ok := AsStdio(stdio)
	require.True(t, ok)
	assert.Equal(t, "npx", c.Command)
	h, ok := AsHTTP(remote)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/mcp", h.URL)

	_, ok = AsStdio(remote)
	assert.False(t, ok)
	_, ok = AsHTTP(stdio)
	assert.False(t, ok)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		cfg   ServerConfig
		valid bool
	}{
		"stdio":            {&StdioServerConfig{Command: "node"}, true},
		"stdio blank":      {&StdioServerConfig{Command: "  "}, false},
		"http":             {&HTTPServerConfig{URL: "http://localhost:3000/mcp"}, true},
		"https":            {&HTTPServerConfig{URL: "https://example.com/sse"}, true},
		"http missing url": {&HTTPServerConfig{}, false},
		"http bad scheme":  {&HTTPServerConfig{URL: "ws://example.com"}, false},
		"nil":              {nil, false},
		"typed nil":        {(*HTTPServerConfig)(nil), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateConfig(tc.cfg)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPrefersSSE(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	assert.False(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/mcp"}))
	assert.True(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/sse"}))
	assert.True(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/v1/sse/?key=1"}))
	assert.False(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/mcp?next=/sse"}))
	assert.True(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/mcp", PreferSSE: &yes}))
	assert.False(t, PrefersSSE(&HTTPServerConfig{URL: "https://example.com/sse", PreferSSE: &no}))
	assert.False(t, PrefersSSE(nil))
}

func TestManagerOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := (*ManagerOptions)(nil).normalized()
	assert.Equal(t, "1.0.0", opts.DefaultClientVersion)
	assert.Equal(t, defaultRequestTimeout, opts.DefaultTimeout)
	assert.NotNil(t, opts.Logger)

	m := NewManager(nil, &ManagerOptions{DefaultTimeout: time.Second})
	assert.Equal(t, time.Second, m.configTimeout(&StdioServerConfig{Command: "x"}))
	assert.Equal(t, 3*time.Second, m.configTimeout(&StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 3 * time.Second},
		Command:          "x",
	}))
}

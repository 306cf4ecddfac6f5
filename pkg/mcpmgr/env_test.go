package mcpmgr

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}

func TestStdioEnvironmentFiltersAndOverrides(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix variable set")
	}
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("HOME", "/home/tester")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "leak")
	t.Setenv("SHELL", "() { :; }")

	env := stdioEnvironment(map[string]string{"HOME": "/override", "API_KEY": "k"})

	assert.True(t, envContains(env, "PATH", "/usr/bin"))
	assert.True(t, envContains(env, "HOME", "/override"))
	assert.True(t, envContains(env, "API_KEY", "k"))
	for _, kv := range env {
		assert.NotContains(t, kv, "AWS_SECRET_ACCESS_KEY")
		assert.NotContains(t, kv, "SHELL=")
	}
	assert.IsIncreasing(t, env)
}

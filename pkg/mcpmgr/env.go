package mcpmgr

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// Variables inherited by stdio subprocesses. Anything else in our environment
// (credentials, tokens) stays out of the child unless the config lists it.
var (
	posixInheritedEnv = []string{"HOME", "LOGNAME", "PATH", "SHELL", "TERM", "USER"}

	windowsInheritedEnv = []string{
		"APPDATA", "HOMEDRIVE", "HOMEPATH", "LOCALAPPDATA", "PATH",
		"PROCESSOR_ARCHITECTURE", "SYSTEMDRIVE", "SYSTEMROOT", "TEMP",
		"USERNAME", "USERPROFILE", "PROGRAMFILES",
	}
)

// defaultEnvironment returns the inheritable subset of the current process
// environment.
func defaultEnvironment() map[string]string {
	keys := posixInheritedEnv
	if runtime.GOOS == "windows" {
		keys = windowsInheritedEnv
	}
	env := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		// Exported shell functions.
		if strings.HasPrefix(value, "()") {
			continue
		}
		env[key] = value
	}
	return env
}

// stdioEnvironment merges overrides onto the default environment and returns
// it in exec.Cmd form, sorted for stable output.
func stdioEnvironment(overrides map[string]string) []string {
	merged := defaultEnvironment()
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

package mcpmgr

import (
	"net/http"
	"sync"
)

const sessionIDHeaderName = "Mcp-Session-Id"

// sessionIDTracker holds the Streamable HTTP session id shared by the
// decorated HTTP client and the connection record.
type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func newSessionIDTracker(initial string) *sessionIDTracker {
	return &sessionIDTracker{value: initial}
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// decorateHTTPClient returns a shallow copy of base whose transport injects
// headers, the tracked session id, and the provider's Authorization value.
func decorateHTTPClient(base *http.Client, headers http.Header, tracker *sessionIDTracker, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	clone.Transport = &headerDecorator{
		next:         next,
		headers:      cloneHeader(headers),
		tracker:      tracker,
		authProvider: provider,
	}
	return &clone
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	tracker      *sessionIDTracker
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.tracker != nil && req.Header.Get(sessionIDHeaderName) == "" {
		if id := d.tracker.Value(); id != "" {
			req.Header.Set(sessionIDHeaderName, id)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func mergeHeaders(headers ...http.Header) http.Header {
	var result http.Header
	for _, hdr := range headers {
		for k, values := range hdr {
			if result == nil {
				result = http.Header{}
			}
			result[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
		}
	}
	return result
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	return h.Clone()
}

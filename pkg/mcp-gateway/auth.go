package mcpgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/cors"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// protectedResourceMetadata is the RFC 9728 document advertising which
// authorization server issues tokens for the gateway.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// protectedResourceHandler serves the metadata document. Browsers fetch it
// cross-origin during the OAuth flow.
func (g *Gateway) protectedResourceHandler() http.Handler {
	var scopes []string
	if g.opts.TokenOptions != nil {
		scopes = g.opts.TokenOptions.Scopes
	}
	serve := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		doc := protectedResourceMetadata{
			Resource:               resourceURL(r, g.opts.Path),
			AuthorizationServers:   []string{g.opts.AuthorizationServer},
			BearerMethodsSupported: []string{"header"},
			ScopesSupported:        scopes,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			g.logError("encode protected resource metadata", err)
		}
	})
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Mcp-Protocol-Version"},
	}).Handler(serve)
}

func resourceURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(fwd, ",")[0]))
	}
	return scheme + "://" + r.Host + path
}

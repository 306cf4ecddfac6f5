package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerName = "mcpgateway.server"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyNativeURI  = "mcpgateway.native_uri"
)

// target links a downstream identifier to the upstream server and the
// identifier it uses natively.
type target struct {
	Gateway string
	Server  string
	Native  string
}

// featureSet indexes one kind of feature by downstream identifier, by server,
// and by (server, native identifier).
type featureSet struct {
	byGateway map[string]target
	byServer  map[string][]string
	byNative  map[string]string
}

func newFeatureSet() featureSet {
	return featureSet{
		byGateway: make(map[string]target),
		byServer:  make(map[string][]string),
		byNative:  make(map[string]string),
	}
}

func nativeKey(server, native string) string {
	return server + "\x00" + native
}

// drop forgets every entry of server and returns their downstream ids.
func (s featureSet) drop(server string) []string {
	ids := s.byServer[server]
	for _, id := range ids {
		if t, ok := s.byGateway[id]; ok {
			delete(s.byNative, nativeKey(t.Server, t.Native))
		}
		delete(s.byGateway, id)
	}
	delete(s.byServer, server)
	return ids
}

func (s featureSet) put(t target) {
	s.byGateway[t.Gateway] = t
	s.byServer[t.Server] = append(s.byServer[t.Server], t.Gateway)
	s.byNative[nativeKey(t.Server, t.Native)] = t.Gateway
}

// registration is a downstream feature ready to add to the gateway server.
type registration[F any] struct {
	Feature F
	Target  target
}

type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     featureSet
	prompts   featureSet
	resources featureSet
	templates featureSet
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:        ns,
		tools:     newFeatureSet(),
		prompts:   newFeatureSet(),
		resources: newFeatureSet(),
		templates: newFeatureSet(),
	}
}

// replace swaps server's entries in set for upstream, returning the downstream
// ids to remove and the features to add.
func replace[F comparable](f *featureIndex, set featureSet, server string, upstream []F,
	gatewayID func(server, native string) string,
	native func(F) string,
	rename func(F, target) F,
) ([]string, []registration[F]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := set.drop(server)
	added := make([]registration[F], 0, len(upstream))
	var zero F
	for _, feature := range upstream {
		if feature == zero {
			continue
		}
		id := native(feature)
		if id == "" {
			continue
		}
		t := target{Gateway: gatewayID(server, id), Server: server, Native: id}
		set.put(t)
		added = append(added, registration[F]{Feature: rename(feature, t), Target: t})
	}
	return removed, added
}

func (f *featureIndex) UpdateTools(server string, upstream []*mcp.Tool) ([]string, []registration[*mcp.Tool]) {
	return replace(f, f.tools, server, upstream, f.ns.ToolName,
		func(t *mcp.Tool) string { return t.Name },
		func(t *mcp.Tool, tg target) *mcp.Tool {
			clone := *t
			clone.Name = tg.Gateway
			clone.Meta = withMeta(t.Meta, metaKeyNativeName, tg)
			return &clone
		})
}

func (f *featureIndex) UpdatePrompts(server string, upstream []*mcp.Prompt) ([]string, []registration[*mcp.Prompt]) {
	return replace(f, f.prompts, server, upstream, f.ns.PromptName,
		func(p *mcp.Prompt) string { return p.Name },
		func(p *mcp.Prompt, tg target) *mcp.Prompt {
			clone := *p
			clone.Name = tg.Gateway
			clone.Meta = withMeta(p.Meta, metaKeyNativeName, tg)
			return &clone
		})
}

func (f *featureIndex) UpdateResources(server string, upstream []*mcp.Resource) ([]string, []registration[*mcp.Resource]) {
	return replace(f, f.resources, server, upstream, f.ns.ResourceURI,
		func(r *mcp.Resource) string { return r.URI },
		func(r *mcp.Resource, tg target) *mcp.Resource {
			clone := *r
			clone.URI = tg.Gateway
			clone.Meta = withMeta(r.Meta, metaKeyNativeURI, tg)
			return &clone
		})
}

func (f *featureIndex) UpdateResourceTemplates(server string, upstream []*mcp.ResourceTemplate) ([]string, []registration[*mcp.ResourceTemplate]) {
	return replace(f, f.templates, server, upstream, f.ns.ResourceTemplateURI,
		func(r *mcp.ResourceTemplate) string { return r.URITemplate },
		func(r *mcp.ResourceTemplate, tg target) *mcp.ResourceTemplate {
			clone := *r
			clone.URITemplate = tg.Gateway
			clone.Meta = withMeta(r.Meta, metaKeyNativeURI, tg)
			return &clone
		})
}

// removedFeatures lists the downstream ids dropped for a detached server.
type removedFeatures struct {
	Tools, Prompts, Resources, Templates []string
}

// RemoveServer forgets every feature of server.
func (f *featureIndex) RemoveServer(server string) removedFeatures {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removedFeatures{
		Tools:     f.tools.drop(server),
		Prompts:   f.prompts.drop(server),
		Resources: f.resources.drop(server),
		Templates: f.templates.drop(server),
	}
}

func (f *featureIndex) lookup(set featureSet, id string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := set.byGateway[id]
	return t, ok
}

func (f *featureIndex) ToolTarget(name string) (target, bool)    { return f.lookup(f.tools, name) }
func (f *featureIndex) PromptTarget(name string) (target, bool)  { return f.lookup(f.prompts, name) }
func (f *featureIndex) ResourceTarget(uri string) (target, bool) { return f.lookup(f.resources, uri) }
func (f *featureIndex) TemplateTarget(uri string) (target, bool) { return f.lookup(f.templates, uri) }

// GatewayResourceURI maps an upstream resource URI back to its downstream URI.
func (f *featureIndex) GatewayResourceURI(server, nativeURI string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	uri, ok := f.resources.byNative[nativeKey(server, nativeURI)]
	return uri, ok
}

func withMeta(base map[string]any, key string, tg target) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	out[metaKeyServerName] = tg.Server
	out[key] = tg.Native
	return out
}

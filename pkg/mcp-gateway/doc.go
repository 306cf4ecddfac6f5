// Package mcpgateway serves every server registered with an mcpmgr.Manager
// behind one Streamable MCP endpoint.
//
// Upstream tools and prompts are renamed by a NamespaceStrategy, resources and
// templates are rewritten into gateway URIs, and list changes announced by an
// upstream server are mirrored to downstream clients. Elicitations and
// progress notifications raised while a downstream request is in flight are
// relayed to the session that made it.
package mcpgateway

package mcpgateway

import (
	"net/url"
	"strings"
)

// NamespaceStrategy maps upstream identifiers to the names and URIs exposed
// downstream. Implementations must be deterministic and collision-free for a
// given server name and identifier.
type NamespaceStrategy interface {
	ToolName(serverName, toolName string) string
	PromptName(serverName, promptName string) string
	ResourceURI(serverName, resourceURI string) string
	ResourceTemplateURI(serverName, templateURI string) string
	NativeResourceURI(serverName, gatewayURI string) (string, bool)
	NativeResourceTemplateURI(serverName, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes names with the server name joined by
// Separator ("__" when empty) and rewrites URIs as
// "mcpgateway+<server>/<kind>::<native>".
type ServerPrefixNamespace struct {
	Separator string
}

const gatewayURIScheme = "mcpgateway+"

func (s ServerPrefixNamespace) ToolName(serverName, toolName string) string {
	return s.join(serverName, toolName)
}

func (s ServerPrefixNamespace) PromptName(serverName, promptName string) string {
	return s.join(serverName, promptName)
}

func (s ServerPrefixNamespace) ResourceURI(serverName, resourceURI string) string {
	return uriPrefix(serverName, "resources") + resourceURI
}

func (s ServerPrefixNamespace) ResourceTemplateURI(serverName, templateURI string) string {
	return uriPrefix(serverName, "templates") + templateURI
}

func (s ServerPrefixNamespace) NativeResourceURI(serverName, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, uriPrefix(serverName, "resources"))
}

func (s ServerPrefixNamespace) NativeResourceTemplateURI(serverName, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, uriPrefix(serverName, "templates"))
}

func (s ServerPrefixNamespace) join(serverName, value string) string {
	sep := s.Separator
	if sep == "" {
		sep = "__"
	}
	return serverName + sep + value
}

func uriPrefix(serverName, kind string) string {
	return gatewayURIScheme + url.PathEscape(serverName) + "/" + kind + "::"
}

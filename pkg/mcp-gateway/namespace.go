package mcpgateway

import (
	"fmt"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// NamespaceStrategy generates the downstream tool name for a hub tool.
// Implementations must be deterministic and collision-free for a given
// server/tool pair.
type NamespaceStrategy interface {
	ToolName(serverName, toolName string) string
}

// ServerPrefixNamespace prefixes every tool with the originating server name,
// separating the two with a configurable delimiter (defaults to "__" to stay
// within the MCP spec's character guidance).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverName, toolName string) string {
	return serverName + s.separator() + toolName
}

// QualifiedNamespace exposes tools under the hub's own qualified names.
type QualifiedNamespace struct{}

func (QualifiedNamespace) ToolName(serverName, toolName string) string {
	return serverName + registry.Separator + toolName
}

// NamespaceByName returns the strategy for a settings value: "prefix" for
// ServerPrefixNamespace or "qualified" for QualifiedNamespace. An empty name
// selects the prefix strategy.
func NamespaceByName(name string) (NamespaceStrategy, error) {
	switch name {
	case "", "prefix":
		return ServerPrefixNamespace{}, nil
	case "qualified":
		return QualifiedNamespace{}, nil
	default:
		return nil, fmt.Errorf("mcp gateway: unknown namespace %q", name)
	}
}

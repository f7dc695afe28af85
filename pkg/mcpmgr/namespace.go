package mcpmgr

import (
	"strings"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// QualifiedName joins a server name and a tool name.
func QualifiedName(server, tool string) string {
	return server + registry.Separator + tool
}

// SplitQualifiedName splits name at the first separator. Server names never
// contain the separator, so tool names that do are preserved intact.
func SplitQualifiedName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, registry.Separator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

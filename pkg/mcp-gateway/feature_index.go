package mcpgateway

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
)

const (
	metaKeyServerName    = "mcphub.server"
	metaKeyToolName      = "mcphub.tool"
	metaKeyQualifiedName = "mcphub.qualified_name"
)

// featureIndex tracks which hub tool each advertised gateway tool stands for.
type featureIndex struct {
	ns NamespaceStrategy

	mu      sync.RWMutex
	tools   map[string]toolTarget
	digests map[string]string
}

type toolTarget struct {
	GatewayName   string
	QualifiedName string
	ServerName    string
	ToolName      string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:      ns,
		tools:   make(map[string]toolTarget),
		digests: make(map[string]string),
	}
}

// Update reconciles the index with a catalogue snapshot. Tools that vanished
// or whose description or schema changed are reported as removed; new and
// changed tools are returned for registration. When two hub tools map to the
// same gateway name, the first in catalogue order wins.
func (f *featureIndex) Update(upstream []mcpmgr.ToolDescriptor) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]toolTarget, len(upstream))
	nextDigests := make(map[string]string, len(upstream))
	for _, desc := range upstream {
		gatewayName := f.ns.ToolName(desc.ServerName, desc.ToolName)
		if _, dup := next[gatewayName]; dup {
			continue
		}
		target := toolTarget{
			GatewayName:   gatewayName,
			QualifiedName: desc.QualifiedName,
			ServerName:    desc.ServerName,
			ToolName:      desc.ToolName,
		}
		digest := toolDigest(desc)
		next[gatewayName] = target
		nextDigests[gatewayName] = digest
		if prev, ok := f.digests[gatewayName]; ok && prev == digest && f.tools[gatewayName] == target {
			continue
		}
		if _, ok := f.tools[gatewayName]; ok {
			removed = append(removed, gatewayName)
		}
		added = append(added, toolRegistration{Tool: gatewayTool(desc, gatewayName), Target: target})
	}
	for name := range f.tools {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	f.tools = next
	f.digests = nextDigests
	return removed, added
}

func (f *featureIndex) ToolTarget(gatewayName string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	target, ok := f.tools[gatewayName]
	return target, ok
}

func (f *featureIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tools)
}

func toolDigest(desc mcpmgr.ToolDescriptor) string {
	b, _ := json.Marshal(struct {
		Description string         `json:"d"`
		Schema      map[string]any `json:"s"`
	}{desc.Description, desc.InputSchema})
	return string(b)
}

// gatewayTool builds the advertised tool. The SDK requires an object input
// schema on every registered tool.
func gatewayTool(desc mcpmgr.ToolDescriptor, gatewayName string) *mcp.Tool {
	schema := map[string]any{"type": "object"}
	if len(desc.InputSchema) > 0 {
		schema = maps.Clone(desc.InputSchema)
		if t, _ := schema["type"].(string); t != "object" {
			schema["type"] = "object"
		}
	}
	return &mcp.Tool{
		Name:        gatewayName,
		Description: desc.Description,
		InputSchema: schema,
		Meta: map[string]any{
			metaKeyServerName:    desc.ServerName,
			metaKeyToolName:      desc.ToolName,
			metaKeyQualifiedName: desc.QualifiedName,
		},
	}
}

package mcpmgr

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolDescriptor describes one tool offered by one server.
type ToolDescriptor struct {
	QualifiedName string         `json:"qualified_name"`
	ToolName      string         `json:"tool_name"`
	ServerName    string         `json:"server_name"`
	Description   string         `json:"description,omitempty"`
	InputSchema   map[string]any `json:"input_schema,omitempty"`
}

// Catalogue is an immutable snapshot of the tools served by Ready
// connections, ordered by qualified name. A nil *Catalogue is empty.
type Catalogue struct {
	tools       []ToolDescriptor
	byQualified map[string]int
	byTool      map[string][]int
}

func newCatalogue(tools []ToolDescriptor) *Catalogue {
	sort.Slice(tools, func(i, j int) bool { return tools[i].QualifiedName < tools[j].QualifiedName })
	c := &Catalogue{
		tools:       make([]ToolDescriptor, 0, len(tools)),
		byQualified: make(map[string]int, len(tools)),
		byTool:      make(map[string][]int),
	}
	for _, t := range tools {
		if _, dup := c.byQualified[t.QualifiedName]; dup {
			continue
		}
		idx := len(c.tools)
		c.tools = append(c.tools, t)
		c.byQualified[t.QualifiedName] = idx
		c.byTool[t.ToolName] = append(c.byTool[t.ToolName], idx)
	}
	return c
}

// Tools returns the descriptors in qualified-name order.
func (c *Catalogue) Tools() []ToolDescriptor {
	if c == nil {
		return nil
	}
	return append([]ToolDescriptor(nil), c.tools...)
}

// Len reports the number of tools.
func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Lookup finds a tool by qualified name.
func (c *Catalogue) Lookup(qualified string) (ToolDescriptor, bool) {
	if c == nil {
		return ToolDescriptor{}, false
	}
	idx, ok := c.byQualified[qualified]
	if !ok {
		return ToolDescriptor{}, false
	}
	return c.tools[idx], true
}

// Matches returns every tool whose unqualified name is toolName.
func (c *Catalogue) Matches(toolName string) []ToolDescriptor {
	if c == nil {
		return nil
	}
	idxs := c.byTool[toolName]
	out := make([]ToolDescriptor, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.tools[i])
	}
	return out
}

// Equal reports whether two snapshots hold the same tools.
func (c *Catalogue) Equal(other *Catalogue) bool {
	if c.Len() != other.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if !reflect.DeepEqual(c.tools[i], other.tools[i]) {
			return false
		}
	}
	return true
}

func describeTools(server string, tools []*mcp.Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		if _, dup := seen[tool.Name]; dup {
			continue
		}
		seen[tool.Name] = struct{}{}
		out = append(out, ToolDescriptor{
			QualifiedName: QualifiedName(server, tool.Name),
			ToolName:      tool.Name,
			ServerName:    server,
			Description:   tool.Description,
			InputSchema:   schemaMap(tool.InputSchema),
		})
	}
	return out
}

// schemaMap normalizes whatever representation the SDK produced for a schema
// into plain JSON values.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

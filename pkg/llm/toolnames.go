package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// Providers only accept tool names matching ^[a-zA-Z0-9_-]{1,64}$, so the
// qualified "server.tool" form is sent as "server__tool".
const wireSeparator = "__"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// toolNames maps wire names back to qualified names for one request.
type toolNames map[string]string

func newToolNames(tools []mcpmgr.ToolDescriptor) toolNames {
	names := make(toolNames, len(tools))
	for _, t := range tools {
		names[wireName(t.QualifiedName)] = t.QualifiedName
	}
	return names
}

func wireName(qualified string) string {
	name := strings.Replace(qualified, registry.Separator, wireSeparator, 1)
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// qualified resolves a name the model sent. Unknown names are passed through
// with the first separator restored so the router can report them.
func (n toolNames) qualified(wire string) string {
	if q, ok := n[wire]; ok {
		return q
	}
	return strings.Replace(wire, wireSeparator, registry.Separator, 1)
}

func inputSchema(t mcpmgr.ToolDescriptor) map[string]any {
	if len(t.InputSchema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.InputSchema
}

// resultContent renders a tool result for the model.
func resultContent(r *mcpmgr.ToolResult) string {
	if r == nil {
		return ""
	}
	if !r.Success {
		return fmt.Sprintf("error (%s): %s", r.ErrorKind, r.ErrorMessage)
	}
	if s, ok := r.Payload.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Sprint(r.Payload)
	}
	return string(b)
}

func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

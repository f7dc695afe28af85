package mcpmgr

import (
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolResult is the outcome of one tool invocation. Exactly one of Payload or
// the error fields is meaningful, selected by Success.
type ToolResult struct {
	QualifiedName string    `json:"qualified_name,omitempty"`
	Success       bool      `json:"success"`
	Payload       any       `json:"payload,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// FailedResult folds err into a failed ToolResult.
func FailedResult(qualifiedName string, err error) ToolResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ToolResult{
		QualifiedName: qualifiedName,
		ErrorKind:     KindOf(err),
		ErrorMessage:  msg,
	}
}

var errEmptyResult = errors.New("empty tools/call result")

func toolResultFrom(qualifiedName string, res *mcp.CallToolResult) (ToolResult, error) {
	if res == nil {
		return ToolResult{}, errEmptyResult
	}
	if res.IsError {
		msg := strings.Join(textContent(res.Content), "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		return ToolResult{
			QualifiedName: qualifiedName,
			ErrorKind:     KindToolError,
			ErrorMessage:  msg,
		}, nil
	}
	return ToolResult{
		QualifiedName: qualifiedName,
		Success:       true,
		Payload:       payloadOf(res),
	}, nil
}

// payloadOf prefers structured content. Servers that wrap a scalar return
// value as {"result": v} have it unwrapped; otherwise text blocks are used.
func payloadOf(res *mcp.CallToolResult) any {
	switch sc := res.StructuredContent.(type) {
	case nil:
	case map[string]any:
		if v, ok := sc["result"]; ok && len(sc) == 1 {
			return v
		}
		return sc
	default:
		return sc
	}
	texts := textContent(res.Content)
	switch len(texts) {
	case 0:
		return nil
	case 1:
		return texts[0]
	default:
		return strings.Join(texts, "\n")
	}
}

func textContent(content []mcp.Content) []string {
	var out []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}

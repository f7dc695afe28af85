package conversation

import (
	"context"
	"time"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of a session's history. An assistant turn either holds
// text or the Invocation it requested; a tool turn holds the Invocation it
// answers and its Result.
type Turn struct {
	Role       Role                   `json:"role"`
	Content    string                 `json:"content,omitempty"`
	Invocation *toolrouter.Invocation `json:"invocation,omitempty"`
	Result     *mcpmgr.ToolResult     `json:"result,omitempty"`
	At         time.Time              `json:"at"`
}

// Decision is the model's response to the history so far: either a final
// answer or a single tool call.
type Decision struct {
	FinalAnswer string
	ToolCall    *toolrouter.Invocation
}

// Model decides the next step of a conversation.
type Model interface {
	Decide(ctx context.Context, history []Turn, tools []mcpmgr.ToolDescriptor) (Decision, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, history []Turn, tools []mcpmgr.ToolDescriptor) (Decision, error)

func (f ModelFunc) Decide(ctx context.Context, history []Turn, tools []mcpmgr.ToolDescriptor) (Decision, error) {
	return f(ctx, history, tools)
}

// Router resolves and executes tool invocations. *toolrouter.Router
// satisfies it.
type Router interface {
	Catalogue() *mcpmgr.Catalogue
	Route(ctx context.Context, inv toolrouter.Invocation) mcpmgr.ToolResult
}

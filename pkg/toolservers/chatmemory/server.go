// Package chatmemory implements the mcp_chatmemory tool server, a small
// append-only memory the model can write to and read back.
package chatmemory

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Name is the server name advertised during initialization.
const Name = "mcp_chatmemory"

const defaultRecall = 5

// RememberArgs carries the message to store.
type RememberArgs struct {
	Message string `json:"message" jsonschema:"the message to remember"`
}

// RecallArgs limits how many messages are returned.
type RecallArgs struct {
	N int `json:"n,omitempty" jsonschema:"how many recent messages to return (default 5)"`
}

// ClearArgs takes no fields.
type ClearArgs struct{}

// TextResult wraps a single string return value.
type TextResult struct {
	Result string `json:"result"`
}

// ListResult wraps a list return value.
type ListResult struct {
	Result []string `json:"result"`
}

type tools struct {
	store Store
}

// NewServer returns an MCP server exposing remember, recall and
// clear_memory backed by store.
func NewServer(store Store, version string) *mcp.Server {
	if version == "" {
		version = "1.0.0"
	}
	t := &tools{store: store}
	server := mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "remember",
		Description: "Store a message in memory.",
	}, t.remember)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall",
		Description: "Return the most recent remembered messages, oldest first.",
	}, t.recall)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_memory",
		Description: "Forget every remembered message.",
	}, t.clear)
	return server
}

func (t *tools) remember(ctx context.Context, _ *mcp.CallToolRequest, args RememberArgs) (*mcp.CallToolResult, TextResult, error) {
	if args.Message == "" {
		return nil, TextResult{}, errors.New("message is required")
	}
	if err := t.store.Remember(ctx, args.Message); err != nil {
		return nil, TextResult{}, err
	}
	return nil, TextResult{Result: fmt.Sprintf("Remembered: '%s'", args.Message)}, nil
}

func (t *tools) recall(ctx context.Context, _ *mcp.CallToolRequest, args RecallArgs) (*mcp.CallToolResult, ListResult, error) {
	n := args.N
	if n <= 0 {
		n = defaultRecall
	}
	msgs, err := t.store.Recall(ctx, n)
	if err != nil {
		return nil, ListResult{}, err
	}
	if len(msgs) == 0 {
		msgs = []string{"No memory yet."}
	}
	return nil, ListResult{Result: msgs}, nil
}

func (t *tools) clear(ctx context.Context, _ *mcp.CallToolRequest, _ ClearArgs) (*mcp.CallToolResult, TextResult, error) {
	if err := t.store.Clear(ctx); err != nil {
		return nil, TextResult{}, err
	}
	return nil, TextResult{Result: "Memory cleared."}, nil
}

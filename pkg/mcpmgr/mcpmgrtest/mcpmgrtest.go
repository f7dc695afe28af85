// Package mcpmgrtest provides in-process MCP servers and a transport factory
// so pools can be exercised without launching subprocesses.
package mcpmgrtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// Factory serves descriptors from in-process MCP servers, keyed by
// descriptor name. Each launch builds a fresh server session, which is what a
// restart observes.
type Factory struct {
	servers map[string]func() *mcp.Server

	mu        sync.Mutex
	sessions  map[string]*mcp.ServerSession
	all       []*mcp.ServerSession
	launches  map[string]int
	failAfter map[string]int
	clients   map[string]*closeTracker
}

// NewFactory returns a factory for the given server constructors.
func NewFactory(servers map[string]func() *mcp.Server) *Factory {
	return &Factory{
		servers:   servers,
		sessions:  make(map[string]*mcp.ServerSession),
		launches:  make(map[string]int),
		failAfter: make(map[string]int),
		clients:   make(map[string]*closeTracker),
	}
}

// Transport has the shape of mcpmgr.TransportFactory.
func (f *Factory) Transport(_ context.Context, desc registry.ServerDescriptor) (mcp.Transport, error) {
	f.mu.Lock()
	f.launches[desc.Name]++
	n := f.launches[desc.Name]
	limit, limited := f.failAfter[desc.Name]
	f.mu.Unlock()
	if limited && n > limit {
		return nil, fmt.Errorf("launch %s: refused", desc.Name)
	}
	build, ok := f.servers[desc.Name]
	if !ok {
		return nil, fmt.Errorf("launch %s: no such server", desc.Name)
	}
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := build().Connect(context.Background(), serverT, nil)
	if err != nil {
		return nil, err
	}
	tracker := &closeTracker{delegate: clientT}
	f.mu.Lock()
	f.sessions[desc.Name] = ss
	f.all = append(f.all, ss)
	f.clients[desc.Name] = tracker
	f.mu.Unlock()
	return tracker, nil
}

// ClientClosed reports whether the client side of the latest launch of name
// has been closed, which for a real server means its process was released.
func (f *Factory) ClientClosed(name string) bool {
	f.mu.Lock()
	tracker := f.clients[name]
	f.mu.Unlock()
	return tracker != nil && tracker.closed.Load()
}

type closeTracker struct {
	delegate mcp.Transport
	closed   atomic.Bool
}

func (t *closeTracker) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &trackedConn{Connection: conn, owner: t}, nil
}

type trackedConn struct {
	mcp.Connection
	owner *closeTracker
}

func (c *trackedConn) Close() error {
	c.owner.closed.Store(true)
	return c.Connection.Close()
}

// FailAfter makes every launch of name after the first n fail.
func (f *Factory) FailAfter(name string, n int) {
	f.mu.Lock()
	f.failAfter[name] = n
	f.mu.Unlock()
}

// Crash closes the server side of the latest session for name, as if the
// process had exited.
func (f *Factory) Crash(name string) {
	f.mu.Lock()
	ss := f.sessions[name]
	f.mu.Unlock()
	if ss != nil {
		_ = ss.Close()
	}
}

// Launches reports how many times name was launched.
func (f *Factory) Launches(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[name]
}

// Close closes every server session the factory created.
func (f *Factory) Close() {
	f.mu.Lock()
	all := f.all
	f.all = nil
	f.mu.Unlock()
	for _, ss := range all {
		_ = ss.Close()
	}
}

// Descriptors builds registry entries for the named servers.
func Descriptors(names ...string) []registry.ServerDescriptor {
	out := make([]registry.ServerDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, registry.ServerDescriptor{Name: n, Command: n})
	}
	return out
}

// EchoArgs is the input of the fixture's echo tool.
type EchoArgs struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

// SleepArgs is the input of the fixture's sleep tool.
type SleepArgs struct {
	Millis int    `json:"millis" jsonschema:"how long to sleep"`
	Tag    string `json:"tag,omitempty" jsonschema:"value to return"`
}

// Empty is the input of tools without parameters.
type Empty struct{}

// Text wraps a string result.
type Text struct {
	Result string `json:"result"`
}

// NewStuckServer exposes a "hang" tool that ignores cancellation and only
// returns once release is closed.
func NewStuckServer(release <-chan struct{}) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "stuck", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "hang", Description: "Blocks until released."},
		func(context.Context, *mcp.CallToolRequest, Empty) (*mcp.CallToolResult, Text, error) {
			<-release
			return nil, Text{Result: "released"}, nil
		})
	return server
}

// NewFixtureServer exposes echo, sleep and fail tools under the server name
// "fixture".
func NewFixtureServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Echo text back."},
		func(_ context.Context, _ *mcp.CallToolRequest, in EchoArgs) (*mcp.CallToolResult, Text, error) {
			return nil, Text{Result: in.Text}, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "sleep", Description: "Sleep, then return the tag."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SleepArgs) (*mcp.CallToolResult, Text, error) {
			select {
			case <-ctx.Done():
				return nil, Text{}, ctx.Err()
			case <-time.After(time.Duration(in.Millis) * time.Millisecond):
			}
			return nil, Text{Result: in.Tag}, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always fails."},
		func(context.Context, *mcp.CallToolRequest, Empty) (*mcp.CallToolResult, Text, error) {
			return nil, Text{}, errors.New("fixture failure")
		})
	return server
}

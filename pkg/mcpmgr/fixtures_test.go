package mcpmgr

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcphub-go/pkg/toolservers/todayinfo"
)

func testOptions(factory TransportFactory) *Options {
	return &Options{
		ClientName:       "mcpmgr-tests",
		HandshakeTimeout: 5 * time.Second,
		CallTimeout:      5 * time.Second,
		ProbeTimeout:     time.Second,
		ProbeInterval:    time.Hour,
		FailureThreshold: 2,
		MaxRestarts:      2,
		Backoff:          BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Jitter: -1},
		TransportFactory: factory,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newMemoryFactory(t *testing.T, servers map[string]func() *mcp.Server) *mcpmgrtest.Factory {
	f := mcpmgrtest.NewFactory(servers)
	t.Cleanup(f.Close)
	return f
}

func fixtureServers() map[string]func() *mcp.Server {
	return map[string]func() *mcp.Server{
		"fixture":       mcpmgrtest.NewFixtureServer,
		"mcp_todayinfo": func() *mcp.Server { return todayinfo.NewServer(nil) },
	}
}

// silentTransport accepts writes and never answers, like a process that
// hangs before completing the handshake.
type silentTransport struct {
	closed atomic.Bool
}

func (s *silentTransport) Connect(context.Context) (mcp.Connection, error) {
	return &silentConn{owner: s, done: make(chan struct{})}, nil
}

type silentConn struct {
	owner *silentTransport
	once  sync.Once
	done  chan struct{}
}

func (c *silentConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *silentConn) Write(context.Context, jsonrpc.Message) error {
	select {
	case <-c.done:
		return io.EOF
	default:
		return nil
	}
}

func (c *silentConn) Close() error {
	c.once.Do(func() {
		c.owner.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *silentConn) SessionID() string { return "" }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

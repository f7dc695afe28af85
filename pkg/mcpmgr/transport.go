package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// CommandTransport launches desc.Command and speaks MCP over its stdin and
// stdout. The process inherits the hub's environment plus desc.Env, and its
// stderr is passed through.
func CommandTransport(_ context.Context, desc registry.ServerDescriptor) (mcp.Transport, error) {
	if desc.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", desc.Name)
	}
	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Dir = desc.Cwd
	cmd.Stderr = os.Stderr
	if len(desc.Env) > 0 {
		keys := make([]string, 0, len(desc.Env))
		for k := range desc.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		env := os.Environ()
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, desc.Env[k]))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (o *Options) rpcLogger() RPCLogger {
	if o.RPCLogger != nil {
		return o.RPCLogger
	}
	if !o.LogJSONRPC {
		return nil
	}
	logger := o.Logger
	return func(ev RPCLogEvent) {
		logger.Debug("jsonrpc",
			slog.String("server", ev.ServerID),
			slog.String("direction", string(ev.Direction)),
			slog.String("message", string(ev.Message)))
	}
}

type tracingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *tracingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &tracingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type tracingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *tracingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *tracingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *tracingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *tracingConnection) Close() error { return c.delegate.Close() }

func (c *tracingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

// errReleased is returned by a releasableTransport that was released before
// the client connected.
var errReleased = errors.New("mcpmgr: transport released")

// releasableTransport remembers the connection it hands to the client so the
// connection can be closed without going through the session. Closing a
// session waits for outstanding calls, which never finish when the server
// hangs; closing the raw connection does not wait, and for a command
// transport it ends the process.
type releasableTransport struct {
	delegate mcp.Transport

	mu       sync.Mutex
	conn     *releasableConn
	released bool
}

func (t *releasableTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		_ = conn.Close()
		return nil, errReleased
	}
	t.conn = &releasableConn{Connection: conn}
	return t.conn, nil
}

// release closes the underlying connection. Later calls to Connect fail.
func (t *releasableTransport) release() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.released = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

type releasableConn struct {
	mcp.Connection
	once     sync.Once
	closeErr error
}

func (c *releasableConn) Close() error {
	c.once.Do(func() { c.closeErr = c.Connection.Close() })
	return c.closeErr
}

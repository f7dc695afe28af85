package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// Status represents the lifecycle of a connection.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// ServerStatus is a point-in-time view of a connection.
type ServerStatus struct {
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	Status    Status    `json:"status"`
	Tools     int       `json:"tools"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Connection owns the session with one tool server.
type Connection struct {
	desc     registry.ServerDescriptor
	opts     Options
	logger   *slog.Logger
	onChange func()

	mu              sync.Mutex
	status          Status
	since           time.Time
	session         *mcp.ClientSession
	link            *releasableTransport
	tools           []ToolDescriptor
	lastErr         error
	probeFailures   int
	restartFailures int
	restarts        int
	// retired marks a connection that was stopped on purpose or gave up
	// restarting; the supervisor leaves it alone.
	retired bool
}

// NewConnection returns an unstarted connection for desc.
func NewConnection(desc registry.ServerDescriptor, opts *Options) *Connection {
	return newConnection(desc, opts.normalized(), nil)
}

func newConnection(desc registry.ServerDescriptor, opts Options, onChange func()) *Connection {
	return &Connection{
		desc:     desc,
		opts:     opts,
		logger:   opts.Logger.With("component", "mcpmgr", "server", desc.Name),
		onChange: onChange,
		status:   StatusStopped,
		since:    time.Now(),
	}
}

// Name returns the server name.
func (c *Connection) Name() string { return c.desc.Name }

// Descriptor returns the descriptor the connection was built from.
func (c *Connection) Descriptor() registry.ServerDescriptor { return c.desc }

// Status returns the current lifecycle status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Tools returns the tools advertised by the server. The list is empty unless
// the connection is Ready.
func (c *Connection) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusReady {
		return nil
	}
	return append([]ToolDescriptor(nil), c.tools...)
}

// Snapshot reports the connection's current state.
func (c *Connection) Snapshot() ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ServerStatus{
		Name:     c.desc.Name,
		Command:  strings.TrimSpace(c.desc.Command + " " + strings.Join(c.desc.Args, " ")),
		Status:   c.status,
		Restarts: c.restarts,
		Since:    c.since,
	}
	if c.status == StatusReady {
		st.Tools = len(c.tools)
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Start launches the server, performs the handshake and fetches the tool
// list. On failure the transport is released and the connection is Stopped.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.retired = false
	c.setStatusLocked(StatusStarting, nil)
	c.mu.Unlock()
	c.changed()

	if err := c.start(ctx); err != nil {
		c.retire(err)
		return err
	}
	return nil
}

func (c *Connection) start(ctx context.Context) error {
	session, link, tools, err := c.establish(ctx)
	if err != nil {
		return &StartupError{Server: c.desc.Name, Err: err}
	}
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		_ = link.release()
		_ = session.Close()
		return ErrStopped
	}
	c.session = session
	c.link = link
	c.tools = tools
	c.probeFailures = 0
	c.lastErr = nil
	c.setStatusLocked(StatusReady, nil)
	c.mu.Unlock()

	go c.monitor(session)
	c.logger.Info("server ready", slog.Int("tools", len(tools)))
	c.changed()
	return nil
}

// establish connects and fetches the tool list within HandshakeTimeout. When
// the deadline passes first, the raw connection is closed so a server that
// never answers cannot hold the caller.
func (c *Connection) establish(ctx context.Context) (*mcp.ClientSession, *releasableTransport, []ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	base, err := c.opts.TransportFactory(ctx, c.desc)
	if err != nil {
		return nil, nil, nil, err
	}
	link := &releasableTransport{delegate: base}
	var transport mcp.Transport = link
	if logger := c.opts.rpcLogger(); logger != nil {
		transport = &tracingTransport{serverID: c.desc.Name, delegate: transport, logger: logger}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    c.opts.ClientName,
		Version: c.opts.ClientVersion,
	}, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			go c.refreshTools()
		},
	})

	type handshake struct {
		session *mcp.ClientSession
		tools   []*mcp.Tool
		err     error
	}
	done := make(chan handshake, 1)
	go func() {
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		tools, err := listTools(ctx, session)
		if err != nil {
			_ = link.release()
			_ = session.Close()
			done <- handshake{err: fmt.Errorf("tools/list: %w", err)}
			return
		}
		done <- handshake{session: session, tools: tools}
	}()

	select {
	case hs := <-done:
		if hs.err != nil {
			_ = link.release()
			return nil, nil, nil, c.handshakeError(ctx, hs.err)
		}
		return hs.session, link, describeTools(c.desc.Name, hs.tools), nil
	case <-ctx.Done():
		_ = link.release()
		go func() {
			if hs := <-done; hs.session != nil {
				_ = hs.session.Close()
			}
		}()
		return nil, nil, nil, c.handshakeError(ctx, ctx.Err())
	}
}

func (c *Connection) handshakeError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("handshake timed out after %s: %w", c.opts.HandshakeTimeout, err)
	}
	return fmt.Errorf("handshake: %w", err)
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var out []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err) {
				return nil, nil
			}
			return nil, err
		}
		out = append(out, res.Tools...)
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// isMethodUnavailableError recognizes servers that do not implement
// tools/list; they contribute an empty tool list.
func isMethodUnavailableError(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unimplemented") ||
		strings.Contains(lower, "does not support")
}

func (c *Connection) monitor(session *mcp.ClientSession) {
	err := session.Wait()
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.session = nil
	link := c.link
	c.link = nil
	cause := errors.New("session ended")
	if err != nil {
		cause = fmt.Errorf("session ended: %w", err)
	}
	demoted := c.status == StatusReady
	if demoted {
		c.setStatusLocked(StatusDegraded, cause)
	} else {
		c.lastErr = cause
	}
	c.mu.Unlock()
	_ = link.release()

	c.logger.Warn("server session ended", slog.Any("error", err))
	if demoted {
		c.changed()
	}
}

func (c *Connection) refreshTools() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	defer cancel()
	tools, err := listTools(ctx, session)
	if err != nil {
		c.logger.Warn("refresh tools failed", slog.Any("error", err))
		return
	}
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.tools = describeTools(c.desc.Name, tools)
	c.mu.Unlock()
	c.logger.Info("tool list changed", slog.Int("tools", len(tools)))
	c.changed()
}

// CallTool invokes tool on the server. A tool that reports failure yields a
// ToolResult with kind tool_error and a nil error; an error return means the
// exchange itself failed. Timeouts and protocol failures demote the
// connection to Degraded, except when ctx itself ended first.
func (c *Connection) CallTool(ctx context.Context, tool string, args map[string]any) (ToolResult, error) {
	qualified := QualifiedName(c.desc.Name, tool)
	c.mu.Lock()
	session, status := c.session, c.status
	c.mu.Unlock()
	if status != StatusReady || session == nil {
		return ToolResult{}, &ToolNotFoundError{Name: qualified, Server: c.desc.Name, Status: status}
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	res, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ToolResult{}, &TimeoutError{Server: c.desc.Name, Tool: tool, Err: ctx.Err()}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			terr := &TimeoutError{Server: c.desc.Name, Tool: tool, After: c.opts.CallTimeout, Err: err}
			c.demote(terr)
			return ToolResult{}, terr
		default:
			perr := &ProtocolError{Server: c.desc.Name, Tool: tool, Err: err}
			c.demote(perr)
			return ToolResult{}, perr
		}
	}
	result, err := toolResultFrom(qualified, res)
	if err != nil {
		perr := &ProtocolError{Server: c.desc.Name, Tool: tool, Err: err}
		c.demote(perr)
		return ToolResult{}, perr
	}
	return result, nil
}

// Probe pings the server and feeds the outcome into the health state:
// FailureThreshold consecutive failures demote a Ready connection, and a
// success promotes a Degraded one back to Ready.
func (c *Connection) Probe(ctx context.Context) error {
	c.mu.Lock()
	session, retired := c.session, c.retired
	c.mu.Unlock()
	if retired {
		return ErrStopped
	}

	var err error
	if session == nil {
		err = &ProtocolError{Server: c.desc.Name, Err: errors.New("no live session")}
	} else {
		pctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
		if perr := session.Ping(pctx, nil); perr != nil {
			err = &ProtocolError{Server: c.desc.Name, Err: fmt.Errorf("ping: %w", perr)}
		}
		cancel()
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return err
	}
	var transition Status
	if err == nil {
		c.probeFailures = 0
		if c.status == StatusDegraded && session != nil {
			c.setStatusLocked(StatusReady, nil)
			c.lastErr = nil
			transition = StatusReady
		}
	} else {
		c.probeFailures++
		c.lastErr = err
		if c.status == StatusReady && c.probeFailures >= c.opts.FailureThreshold {
			c.setStatusLocked(StatusDegraded, err)
			transition = StatusDegraded
		}
	}
	c.mu.Unlock()

	switch transition {
	case StatusReady:
		c.logger.Info("server recovered")
		c.changed()
	case StatusDegraded:
		c.logger.Warn("server degraded", slog.Any("error", err))
		c.changed()
	}
	return err
}

// Restart replaces the session with a fresh one, retrying with backoff.
// After MaxRestarts consecutive failures the connection is permanently
// Stopped.
func (c *Connection) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return ErrStopped
	}
	old, oldLink := c.session, c.link
	c.session = nil
	c.link = nil
	c.tools = nil
	c.setStatusLocked(StatusStarting, nil)
	c.mu.Unlock()
	c.changed()

	if old != nil || oldLink != nil {
		closeCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
		if err := closeSession(closeCtx, old, oldLink); err != nil {
			c.logger.Debug("closing previous session", slog.Any("error", err))
		}
		cancel()
	}

	for attempt := 0; ; attempt++ {
		err := c.start(ctx)
		if err == nil {
			c.mu.Lock()
			c.restarts++
			c.restartFailures = 0
			c.mu.Unlock()
			return nil
		}
		if errors.Is(err, ErrStopped) {
			return err
		}
		c.mu.Lock()
		c.restartFailures++
		failures := c.restartFailures
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("restart failed", slog.Int("attempt", failures), slog.Any("error", err))
		if failures >= c.opts.MaxRestarts {
			c.retire(err)
			return err
		}
		if err := sleepCtx(ctx, c.opts.Backoff.delay(attempt)); err != nil {
			return err
		}
	}
}

// Stop closes the session, which terminates the server process. It is safe
// to call more than once.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	session, link := c.session, c.link
	already := c.retired && c.status == StatusStopped
	c.session = nil
	c.link = nil
	c.tools = nil
	c.retired = true
	c.setStatusLocked(StatusStopped, nil)
	c.mu.Unlock()
	if !already {
		c.logger.Info("server stopped")
		c.changed()
	}
	return closeSession(ctx, session, link)
}

func (c *Connection) retire(err error) {
	c.mu.Lock()
	session, link := c.session, c.link
	c.session = nil
	c.link = nil
	c.tools = nil
	c.retired = true
	c.setStatusLocked(StatusStopped, err)
	c.mu.Unlock()
	if session != nil || link != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout)
		_ = closeSession(ctx, session, link)
		cancel()
	}
	c.logger.Error("server stopped", slog.Any("error", err))
	c.changed()
}

func (c *Connection) demote(err error) {
	c.mu.Lock()
	if c.status != StatusReady {
		c.lastErr = err
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(StatusDegraded, err)
	c.mu.Unlock()
	c.logger.Warn("server degraded", slog.Any("error", err))
	c.changed()
}

// supervise probes the connection every ProbeInterval until ctx ends or the
// connection is retired.
func (c *Connection) supervise(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.checkHealth(ctx) {
			return
		}
	}
}

// checkHealth runs one supervision step and reports whether supervision
// should continue. A Degraded connection that fails its probe is restarted.
func (c *Connection) checkHealth(ctx context.Context) bool {
	c.mu.Lock()
	status, retired := c.status, c.retired
	c.mu.Unlock()
	if retired {
		return false
	}
	switch status {
	case StatusReady:
		_ = c.Probe(ctx)
	case StatusDegraded:
		if err := c.Probe(ctx); err != nil && !errors.Is(err, ErrStopped) {
			_ = c.Restart(ctx)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.retired
}

func (c *Connection) setStatusLocked(status Status, err error) {
	if c.status != status {
		c.since = time.Now()
	}
	c.status = status
	if err != nil {
		c.lastErr = err
	}
}

func (c *Connection) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// closeSession closes session and waits for it within ctx. If the session
// does not close in time, typically because a call is still outstanding, the
// raw connection is released instead, which ends the server process.
func closeSession(ctx context.Context, session *mcp.ClientSession, link *releasableTransport) error {
	if session == nil {
		return link.release()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		done <- session.Close()
	}()
	select {
	case <-ctx.Done():
		return link.release()
	case err := <-done:
		_ = link.release()
		return err
	}
}

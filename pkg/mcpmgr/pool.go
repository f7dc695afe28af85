package mcpmgr

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// Pool owns the connections to every configured server and the aggregated
// tool catalogue. The map lock is never held across network waits; each
// connection guards its own state.
type Pool struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	rebuildMu sync.Mutex
	catalogue atomic.Pointer[Catalogue]
	// notifyMu is taken before rebuildMu is released so listeners see
	// snapshots in swap order.
	notifyMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(*Catalogue)
}

// NewPool constructs an empty pool. Pass nil options for defaults.
func NewPool(opts *Options) *Pool {
	o := opts.normalized()
	p := &Pool{
		opts:   o,
		logger: o.Logger.With("component", "pool"),
		conns:  make(map[string]*Connection),
	}
	p.catalogue.Store(newCatalogue(nil))
	return p
}

// StartAll starts a connection per descriptor, at most StartConcurrency at a
// time. A server that fails to start is left Stopped and contributes no
// tools; the others proceed. Descriptors whose name is already in the pool
// are ignored.
func (p *Pool) StartAll(ctx context.Context, descs []registry.ServerDescriptor) map[string]*Connection {
	started := make([]*Connection, 0, len(descs))
	p.mu.Lock()
	for _, desc := range descs {
		if _, exists := p.conns[desc.Name]; exists {
			p.logger.Warn("server already in pool", slog.String("server", desc.Name))
			continue
		}
		conn := newConnection(desc, p.opts, p.rebuild)
		p.conns[desc.Name] = conn
		started = append(started, conn)
	}
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(p.opts.StartConcurrency)
	for _, conn := range started {
		g.Go(func() error {
			if err := conn.Start(ctx); err != nil {
				p.logger.Warn("server failed to start", slog.String("server", conn.Name()), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
	p.rebuild()

	out := make(map[string]*Connection, len(started))
	for _, conn := range started {
		out[conn.Name()] = conn
	}
	return out
}

// Connection returns the named connection, or nil.
func (p *Pool) Connection(name string) *Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[name]
}

func (p *Pool) connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Catalogue returns the current snapshot of tools served by Ready
// connections.
func (p *Pool) Catalogue() *Catalogue {
	return p.catalogue.Load()
}

// Statuses reports every connection, ordered by name.
func (p *Pool) Statuses() []ServerStatus {
	conns := p.connections()
	out := make([]ServerStatus, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// Dispatch calls the tool with the given qualified name on its owning
// connection.
func (p *Pool) Dispatch(ctx context.Context, qualifiedName string, args map[string]any) (ToolResult, error) {
	desc, ok := p.Catalogue().Lookup(qualifiedName)
	if !ok {
		return ToolResult{}, p.notFound(qualifiedName)
	}
	conn := p.Connection(desc.ServerName)
	if conn == nil {
		return ToolResult{}, &ToolNotFoundError{Name: qualifiedName}
	}
	return conn.CallTool(ctx, desc.ToolName, args)
}

func (p *Pool) notFound(qualifiedName string) error {
	server, _, ok := SplitQualifiedName(qualifiedName)
	if !ok {
		return &ToolNotFoundError{Name: qualifiedName}
	}
	if conn := p.Connection(server); conn != nil {
		if st := conn.Status(); st != StatusReady {
			return &ToolNotFoundError{Name: qualifiedName, Server: server, Status: st}
		}
	}
	return &ToolNotFoundError{Name: qualifiedName}
}

// ShutdownAll stops every connection and returns the joined errors.
func (p *Pool) ShutdownAll(ctx context.Context) error {
	var errs []error
	for _, c := range p.connections() {
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run supervises every connection's health until ctx ends. Connections added
// by a later StartAll are not picked up by a Run already in progress.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range p.connections() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.supervise(ctx)
		}()
	}
	wg.Wait()
	<-ctx.Done()
}

// OnCatalogueChanged registers fn to receive every new catalogue snapshot.
// Callbacks run synchronously on the goroutine that caused the change, one at
// a time and in the order the snapshots were published.
func (p *Pool) OnCatalogueChanged(fn func(*Catalogue)) {
	if fn == nil {
		return
	}
	p.listenersMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.listenersMu.Unlock()
}

func (p *Pool) rebuild() {
	p.rebuildMu.Lock()
	var tools []ToolDescriptor
	for _, c := range p.connections() {
		tools = append(tools, c.Tools()...)
	}
	next := newCatalogue(tools)
	prev := p.catalogue.Swap(next)
	p.notifyMu.Lock()
	p.rebuildMu.Unlock()
	defer p.notifyMu.Unlock()

	if prev.Equal(next) {
		return
	}
	p.logger.Debug("catalogue rebuilt", slog.Int("tools", next.Len()))
	p.listenersMu.Lock()
	listeners := append([]func(*Catalogue){}, p.listeners...)
	p.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
}

package mcpmgr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// Hub holds the active Pool and replaces it wholesale when the registry is
// reloaded. Callers that keep a *Hub always reach the current pool.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	pool    *Pool
	runCtx  context.Context
	stopRun context.CancelFunc

	listenersMu sync.Mutex
	listeners   []func(*Catalogue)

	notifyMu  sync.Mutex
	delivered *Catalogue
}

// NewHub returns a hub with no servers. Options are applied to every pool it
// builds.
func NewHub(opts *Options) *Hub {
	o := opts.normalized()
	return &Hub{opts: o, logger: o.Logger.With("component", "hub")}
}

// Load starts a new pool for descs, makes it current and shuts the previous
// one down. It returns the statuses of the new pool.
func (h *Hub) Load(ctx context.Context, descs []registry.ServerDescriptor) []ServerStatus {
	next := NewPool(&h.opts)
	next.OnCatalogueChanged(func(cat *Catalogue) {
		h.mu.RLock()
		current := h.pool == next
		h.mu.RUnlock()
		if current {
			h.notify(cat)
		}
	})
	next.StartAll(ctx, descs)

	h.mu.Lock()
	prev := h.pool
	h.pool = next
	h.superviseLocked()
	h.mu.Unlock()

	h.notify(next.Catalogue())
	if prev != nil {
		if err := prev.ShutdownAll(ctx); err != nil {
			h.logger.Warn("shutting down previous pool", slog.Any("error", err))
		}
	}
	h.logger.Info("servers loaded", slog.Int("servers", len(descs)), slog.Int("tools", next.Catalogue().Len()))
	return next.Statuses()
}

// Pool returns the current pool, or nil before the first Load.
func (h *Hub) Pool() *Pool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pool
}

// Catalogue returns the current pool's catalogue.
func (h *Hub) Catalogue() *Catalogue {
	if p := h.Pool(); p != nil {
		return p.Catalogue()
	}
	return newCatalogue(nil)
}

// Statuses returns the current pool's server statuses.
func (h *Hub) Statuses() []ServerStatus {
	if p := h.Pool(); p != nil {
		return p.Statuses()
	}
	return nil
}

// Dispatch forwards to the current pool.
func (h *Hub) Dispatch(ctx context.Context, qualifiedName string, args map[string]any) (ToolResult, error) {
	p := h.Pool()
	if p == nil {
		return ToolResult{}, &ToolNotFoundError{Name: qualifiedName}
	}
	return p.Dispatch(ctx, qualifiedName, args)
}

// OnCatalogueChanged registers fn for catalogue changes of whichever pool is
// current, including the swap performed by Load.
func (h *Hub) OnCatalogueChanged(fn func(*Catalogue)) {
	if fn == nil {
		return
	}
	h.listenersMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenersMu.Unlock()
}

// Run supervises the current pool, following replacements, until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.runCtx = ctx
	h.superviseLocked()
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	if h.stopRun != nil {
		h.stopRun()
		h.stopRun = nil
	}
	h.runCtx = nil
	h.mu.Unlock()
}

// Shutdown stops the current pool.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	p := h.pool
	if h.stopRun != nil {
		h.stopRun()
		h.stopRun = nil
	}
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.ShutdownAll(ctx)
}

func (h *Hub) superviseLocked() {
	if h.stopRun != nil {
		h.stopRun()
		h.stopRun = nil
	}
	if h.runCtx == nil || h.pool == nil {
		return
	}
	ctx, cancel := context.WithCancel(h.runCtx)
	h.stopRun = cancel
	go h.pool.Run(ctx)
}

// notify delivers the current catalogue rather than cat, so a slow
// notification for an older snapshot never lands after a newer one.
func (h *Hub) notify(*Catalogue) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	cat := h.Catalogue()
	if cat == h.delivered {
		return
	}
	h.delivered = cat
	h.listenersMu.Lock()
	listeners := append([]func(*Catalogue){}, h.listeners...)
	h.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(cat)
	}
}

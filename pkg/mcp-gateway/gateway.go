package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

// Source publishes the aggregated catalogue. *mcpmgr.Hub and *mcpmgr.Pool
// satisfy it.
type Source interface {
	Catalogue() *mcpmgr.Catalogue
	OnCatalogueChanged(fn func(*mcpmgr.Catalogue))
}

// Router executes invocations. *toolrouter.Router satisfies it.
type Router interface {
	Route(ctx context.Context, inv toolrouter.Invocation) mcpmgr.ToolResult
}

// Gateway exposes a Streamable MCP server that fronts every tool in the hub's
// catalogue under a single HTTP endpoint.
type Gateway struct {
	source Source
	router Router
	opts   Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, registers the current catalogue and follows
// every later change.
func NewGateway(source Source, router Router, opts *Options) (*Gateway, error) {
	if source == nil {
		return nil, errors.New("mcpgateway: catalogue source is required")
	}
	if router == nil {
		return nil, errors.New("mcpgateway: router is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		source:   source,
		router:   router,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()

	source.OnCatalogueChanged(g.Sync)
	g.Sync(source.Catalogue())
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the underlying MCP server, for transports other than HTTP.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Sync makes the advertised tools match cat. Connected clients are told
// about the change by the MCP server.
func (g *Gateway) Sync(cat *mcpmgr.Catalogue) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	removed, added := g.features.Update(cat.Tools())
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Debug("gateway tools synced",
			"removed", len(removed), "added", len(added), "tools", g.features.Len())
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("%s: arguments must be a JSON object: %v", mcpmgr.KindInvalidArguments, err)), nil
			}
			if args == nil {
				args = map[string]any{}
			}
		}
		result := g.router.Route(ctx, toolrouter.Invocation{Name: target.QualifiedName, Arguments: args})
		if !result.Success {
			return errorResult(fmt.Sprintf("%s: %s", result.ErrorKind, result.ErrorMessage)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: payloadText(result.Payload)}}}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func payloadText(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}
	return mux
}

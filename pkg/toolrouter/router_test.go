package toolrouter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcphub-go/pkg/toolservers/chatmemory"
	"github.com/vikashloomba/mcphub-go/pkg/toolservers/todayinfo"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRouter(t *testing.T, servers map[string]func() *mcp.Server, names ...string) *Router {
	t.Helper()
	factory := mcpmgrtest.NewFactory(servers)
	t.Cleanup(factory.Close)
	pool := mcpmgr.NewPool(&mcpmgr.Options{
		TransportFactory: factory.Transport,
		CallTimeout:      2 * time.Second,
		Logger:           quiet,
	})
	pool.StartAll(context.Background(), mcpmgrtest.Descriptors(names...))
	t.Cleanup(func() { _ = pool.ShutdownAll(context.Background()) })
	return New(pool, quiet)
}

func hubServers() map[string]func() *mcp.Server {
	return map[string]func() *mcp.Server{
		"mcp_todayinfo":  func() *mcp.Server { return todayinfo.NewServer(nil) },
		"mcp_chatmemory": func() *mcp.Server { return chatmemory.NewServer(chatmemory.NewMemoryStore(), "") },
		"fixture":        mcpmgrtest.NewFixtureServer,
		"mirror":         mcpmgrtest.NewFixtureServer,
	}
}

func TestRouteQualifiedName(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "mcp_todayinfo", "mcp_chatmemory")
	res := r.Route(context.Background(), Invocation{Name: "mcp_todayinfo.get_date"})
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "mcp_todayinfo.get_date", res.QualifiedName)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, res.Payload)
}

func TestRouteColonSpelling(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "mcp_chatmemory")
	res := r.Route(context.Background(), Invocation{
		Name:      "mcp_chatmemory:remember",
		Arguments: map[string]any{"message": "buy milk"},
	})
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "Remembered: 'buy milk'", res.Payload)
	assert.Equal(t, "mcp_chatmemory.remember", res.QualifiedName)
}

func TestRouteBareName(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "mcp_todayinfo", "mcp_chatmemory")
	res := r.Route(context.Background(), Invocation{Name: "recall"})
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "mcp_chatmemory.recall", res.QualifiedName)
	assert.Equal(t, []any{"No memory yet."}, res.Payload)
}

func TestRouteAmbiguousBareName(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "fixture", "mirror")
	res := r.Route(context.Background(), Invocation{Name: "echo", Arguments: map[string]any{"text": "x"}})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindAmbiguousTool, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "fixture.echo")
	assert.Contains(t, res.ErrorMessage, "mirror.echo")

	res = r.Route(context.Background(), Invocation{Name: "mirror.echo", Arguments: map[string]any{"text": "x"}})
	assert.True(t, res.Success)
	assert.Equal(t, "x", res.Payload)
}

func TestRouteUnknownTool(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "mcp_todayinfo")
	for _, name := range []string{"nope", "mcp_todayinfo.nope", "ghost.get_date", ""} {
		res := r.Route(context.Background(), Invocation{Name: name})
		assert.False(t, res.Success, name)
		assert.Equal(t, mcpmgr.KindToolNotFound, res.ErrorKind, name)
		assert.Empty(t, res.QualifiedName, name)
	}
}

func TestRouteInvalidArguments(t *testing.T) {
	t.Parallel()

	r := newRouter(t, hubServers(), "mcp_todayinfo", "fixture")

	res := r.Route(context.Background(), Invocation{Name: "mcp_todayinfo.get_weather"})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindInvalidArguments, res.ErrorKind)
	assert.Equal(t, "mcp_todayinfo.get_weather", res.QualifiedName)

	res = r.Route(context.Background(), Invocation{Name: "fixture.sleep", Arguments: map[string]any{"millis": "soon"}})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindInvalidArguments, res.ErrorKind)

	res = r.Route(context.Background(), Invocation{
		Name:           "fixture.echo",
		Arguments:      map[string]any{},
		ArgumentsError: errors.New("tool arguments are not a JSON object"),
	})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindInvalidArguments, res.ErrorKind)
	assert.Equal(t, "fixture.echo", res.QualifiedName)
	assert.Contains(t, res.ErrorMessage, "not a JSON object")
}

func TestRouteToolErrorAndTimeout(t *testing.T) {
	t.Parallel()

	factory := mcpmgrtest.NewFactory(hubServers())
	t.Cleanup(factory.Close)
	pool := mcpmgr.NewPool(&mcpmgr.Options{
		TransportFactory: factory.Transport,
		CallTimeout:      100 * time.Millisecond,
		Logger:           quiet,
	})
	pool.StartAll(context.Background(), mcpmgrtest.Descriptors("fixture"))
	t.Cleanup(func() { _ = pool.ShutdownAll(context.Background()) })
	r := New(pool, quiet)

	res := r.Route(context.Background(), Invocation{Name: "fixture.fail"})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindToolError, res.ErrorKind)

	res = r.Route(context.Background(), Invocation{Name: "fixture.sleep", Arguments: map[string]any{"millis": 2000}})
	assert.False(t, res.Success)
	assert.Equal(t, mcpmgr.KindTimeout, res.ErrorKind)
	assert.Equal(t, "fixture.sleep", res.QualifiedName)

	res = r.Route(context.Background(), Invocation{Name: "fixture.echo", Arguments: map[string]any{"text": "x"}})
	assert.Equal(t, mcpmgr.KindToolNotFound, res.ErrorKind, "degraded server must not receive calls")
}

func TestValidateArgumentsNormalizesValues(t *testing.T) {
	t.Parallel()

	desc := mcpmgr.ToolDescriptor{
		QualifiedName: "s.t",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"n": map[string]any{"type": "integer"}},
			"required":   []any{"n"},
		},
	}
	args, err := validateArguments(desc, map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(3), args["n"])

	_, err = validateArguments(desc, nil)
	var invalid *InvalidArgumentsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, mcpmgr.KindInvalidArguments, mcpmgr.KindOf(err))

	args, err = validateArguments(mcpmgr.ToolDescriptor{QualifiedName: "s.free"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, args)
}

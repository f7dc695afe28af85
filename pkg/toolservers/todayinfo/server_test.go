package todayinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, opts *Options) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := NewServer(opts).Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "todayinfo-test", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestListsTools(t *testing.T) {
	t.Parallel()

	cs := connect(t, nil)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"get_date", "get_weather"}, names)
}

func TestGetDate(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	cs := connect(t, &Options{Now: func() time.Time { return fixed }})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_date", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)

	sc, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content: %T", res.StructuredContent)
	assert.Equal(t, "2024-03-09 14:05:07", sc["result"])
}

func TestGetWeather(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Paris", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte("Paris: ☀️ +21°C\n"))
	}))
	t.Cleanup(srv.Close)

	cs := connect(t, &Options{WeatherURL: srv.URL, HTTPClient: srv.Client()})
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"city": "Paris"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	sc := res.StructuredContent.(map[string]any)
	assert.Equal(t, "Paris: ☀️ +21°C", sc["result"])
}

func TestGetWeatherUpstreamFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cs := connect(t, &Options{WeatherURL: srv.URL, HTTPClient: srv.Client()})
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"city": "Oslo"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

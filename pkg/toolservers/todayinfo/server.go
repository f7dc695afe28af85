// Package todayinfo implements the mcp_todayinfo tool server: the current
// date and time, and a one-line weather report fetched from wttr.in.
package todayinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Name is the server name advertised during initialization.
const Name = "mcp_todayinfo"

// DateLayout formats get_date results.
const DateLayout = "2006-01-02 15:04:05"

// Options configures the server. The zero value is usable.
type Options struct {
	Version    string
	Now        func() time.Time
	WeatherURL string
	HTTPClient *http.Client
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Version == "" {
		out.Version = "1.0.0"
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.WeatherURL == "" {
		out.WeatherURL = "https://wttr.in"
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return out
}

// DateArgs takes no fields.
type DateArgs struct{}

// WeatherArgs selects the city to report on.
type WeatherArgs struct {
	City string `json:"city" jsonschema:"city to report the weather for"`
}

// TextResult wraps a single string return value.
type TextResult struct {
	Result string `json:"result"`
}

type tools struct {
	opts Options
}

// NewServer returns an MCP server exposing get_date and get_weather.
func NewServer(opts *Options) *mcp.Server {
	t := &tools{opts: opts.withDefaults()}
	server := mcp.NewServer(&mcp.Implementation{Name: Name, Version: t.opts.Version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_date",
		Description: "Return the current date and time as YYYY-MM-DD HH:MM:SS.",
	}, t.getDate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Return a one-line weather report for the given city.",
	}, t.getWeather)
	return server
}

func (t *tools) getDate(context.Context, *mcp.CallToolRequest, DateArgs) (*mcp.CallToolResult, TextResult, error) {
	return nil, TextResult{Result: t.opts.Now().Format(DateLayout)}, nil
}

func (t *tools) getWeather(ctx context.Context, _ *mcp.CallToolRequest, args WeatherArgs) (*mcp.CallToolResult, TextResult, error) {
	city := strings.TrimSpace(args.City)
	if city == "" {
		return nil, TextResult{}, errors.New("city is required")
	}
	endpoint := fmt.Sprintf("%s/%s?format=3", strings.TrimRight(t.opts.WeatherURL, "/"), url.PathEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, TextResult{}, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, TextResult{}, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, TextResult{}, fmt.Errorf("read weather: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, TextResult{}, fmt.Errorf("weather service returned %s", resp.Status)
	}
	return nil, TextResult{Result: strings.TrimSpace(string(body))}, nil
}

package mcpmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when tracing is enabled.
type RPCLogger func(RPCLogEvent)

// TransportFactory builds the transport used to reach a server. The default
// launches the descriptor's command and speaks MCP over its stdio.
type TransportFactory func(ctx context.Context, desc registry.ServerDescriptor) (mcp.Transport, error)

// BackoffConfig controls the delay between restart attempts.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the fraction of each delay that is randomized, in (0, 1].
	// Zero means the default; a negative value disables jitter.
	Jitter float64
}

// Options configures connections and the pool that owns them. The zero value
// is usable; unset fields take the defaults documented below.
type Options struct {
	// ClientName is advertised during initialization. Defaults to "mcphub".
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string

	// HandshakeTimeout bounds initialize plus the first tools/list. Default 10s.
	HandshakeTimeout time.Duration
	// CallTimeout bounds a single tools/call. Default 30s.
	CallTimeout time.Duration
	// ProbeTimeout bounds a single ping. Default 5s.
	ProbeTimeout time.Duration
	// ProbeInterval is the supervisor's health-check cadence. Default 15s.
	ProbeInterval time.Duration
	// FailureThreshold is the number of consecutive failed probes that demote
	// a Ready connection. Default 3.
	FailureThreshold int
	// MaxRestarts is the number of consecutive failed restarts after which a
	// connection is permanently stopped. Default 3.
	MaxRestarts int
	// Backoff spaces restart attempts. Defaults: 500ms, x2, capped at 10s,
	// 20% jitter.
	Backoff BackoffConfig
	// StartConcurrency bounds parallel starts in Pool.StartAll. Default 8.
	StartConcurrency int

	// TransportFactory overrides how transports are built.
	TransportFactory TransportFactory

	// LogJSONRPC traces every JSON-RPC message at debug level.
	LogJSONRPC bool
	// RPCLogger receives traced messages; it takes precedence over
	// LogJSONRPC.
	RPCLogger RPCLogger

	// Logger receives lifecycle and health events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) normalized() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.ClientName == "" {
		out.ClientName = "mcphub"
	}
	if out.ClientVersion == "" {
		out.ClientVersion = "1.0.0"
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 5 * time.Second
	}
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = 15 * time.Second
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 3
	}
	if out.MaxRestarts <= 0 {
		out.MaxRestarts = 3
	}
	if out.Backoff.Initial <= 0 {
		out.Backoff.Initial = 500 * time.Millisecond
	}
	if out.Backoff.Max <= 0 {
		out.Backoff.Max = 10 * time.Second
	}
	if out.Backoff.Factor < 1 {
		out.Backoff.Factor = 2
	}
	switch {
	case out.Backoff.Jitter == 0:
		out.Backoff.Jitter = 0.2
	case out.Backoff.Jitter < 0:
		out.Backoff.Jitter = 0
	case out.Backoff.Jitter > 1:
		out.Backoff.Jitter = 1
	}
	if out.StartConcurrency <= 0 {
		out.StartConcurrency = 8
	}
	if out.TransportFactory == nil {
		out.TransportFactory = CommandTransport
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Package settings loads hub settings from defaults, an optional config file
// and MCPHUB_* environment variables.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
)

// EnvPrefix prefixes environment overrides: log.level is MCPHUB_LOG_LEVEL.
const EnvPrefix = "MCPHUB"

// Settings is the hub's runtime configuration.
type Settings struct {
	Servers struct {
		Config string `mapstructure:"config"`
	} `mapstructure:"servers"`
	Models struct {
		Config string `mapstructure:"config"`
	} `mapstructure:"models"`
	LLM struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
	} `mapstructure:"llm"`
	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`
	Gateway struct {
		Enabled   bool   `mapstructure:"enabled"`
		Path      string `mapstructure:"path"`
		Addr      string `mapstructure:"addr"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"gateway"`
	Pool    Pool    `mapstructure:"pool"`
	Session Session `mapstructure:"session"`
	Log     Log     `mapstructure:"log"`
}

// Pool mirrors mcpmgr.Options.
type Pool struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	MaxRestarts      int           `mapstructure:"max_restarts"`
	StartConcurrency int           `mapstructure:"start_concurrency"`
}

// Session mirrors conversation.Options.
type Session struct {
	MaxSteps    int           `mapstructure:"max_steps"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type Log struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	JSONRPC bool   `mapstructure:"jsonrpc"`
}

// SetDefaults registers every key with its default. Keys without a default
// are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("servers.config", "mcp_servers_config.yaml")
	v.SetDefault("models.config", "models_config.yaml")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("http.addr", "127.0.0.1:8000")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("gateway.path", "/mcp")
	v.SetDefault("gateway.addr", "127.0.0.1:8700")
	v.SetDefault("gateway.namespace", "prefix")
	v.SetDefault("pool.handshake_timeout", 10*time.Second)
	v.SetDefault("pool.call_timeout", 30*time.Second)
	v.SetDefault("pool.probe_timeout", 5*time.Second)
	v.SetDefault("pool.probe_interval", 15*time.Second)
	v.SetDefault("pool.failure_threshold", 3)
	v.SetDefault("pool.max_restarts", 3)
	v.SetDefault("pool.start_concurrency", 8)
	v.SetDefault("session.max_steps", 5)
	v.SetDefault("session.turn_timeout", 2*time.Minute)
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.jsonrpc", false)
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or mcphub.yaml from the working directory when
// configFile is empty, and decodes the result. A missing default file is
// not an error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mcphub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects values the hub cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", s.Log.Format))
	}
	if s.Session.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("session.max_steps must be at least 1, got %d", s.Session.MaxSteps))
	}
	if s.Gateway.Enabled && !strings.HasPrefix(s.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path must start with /, got %q", s.Gateway.Path))
	}
	switch s.Gateway.Namespace {
	case "prefix", "qualified":
	default:
		errs = append(errs, fmt.Errorf("gateway.namespace must be prefix or qualified, got %q", s.Gateway.Namespace))
	}
	if s.Servers.Config == "" {
		errs = append(errs, errors.New("servers.config is required"))
	}
	return errors.Join(errs...)
}

// PoolOptions converts the pool settings for mcpmgr.
func (s *Settings) PoolOptions(logger *slog.Logger) *mcpmgr.Options {
	return &mcpmgr.Options{
		HandshakeTimeout: s.Pool.HandshakeTimeout,
		CallTimeout:      s.Pool.CallTimeout,
		ProbeTimeout:     s.Pool.ProbeTimeout,
		ProbeInterval:    s.Pool.ProbeInterval,
		FailureThreshold: s.Pool.FailureThreshold,
		MaxRestarts:      s.Pool.MaxRestarts,
		StartConcurrency: s.Pool.StartConcurrency,
		LogJSONRPC:       s.Log.JSONRPC,
		Logger:           logger,
	}
}

// SessionOptions converts the session settings for conversation.
func (s *Settings) SessionOptions(logger *slog.Logger) *conversation.Options {
	return &conversation.Options{
		MaxSteps:    s.Session.MaxSteps,
		TurnTimeout: s.Session.TurnTimeout,
		IdleTimeout: s.Session.IdleTimeout,
		Logger:      logger,
	}
}

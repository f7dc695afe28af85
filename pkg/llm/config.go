// Package llm turns chat-completion APIs into conversation.Model values.
//
// Two wire formats are supported: OpenAI-compatible /chat/completions (used
// for the openai, huggingface and databricks providers) and Anthropic's
// /v1/messages. Which endpoint serves a given provider/model pair is read
// from a models config file.
package llm

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
)

// ModelSpec is one entry of the models config.
type ModelSpec struct {
	ModelID string `yaml:"model_id" json:"model_id"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIEnv  string `yaml:"api_env" json:"api_env"`
}

// Catalog maps provider → model alias → spec.
type Catalog map[string]map[string]ModelSpec

var (
	ErrUnknownProvider = errors.New("llm: unknown provider")
	ErrUnknownModel    = errors.New("llm: unknown model")
)

// LoadModels reads a models config file.
func LoadModels(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("llm: open models config: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("llm: read models config: %w", err)
	}
	return ParseModels(data)
}

// ParseModels decodes a models config document.
func ParseModels(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("llm: parse models config: %w", err)
	}
	for provider, models := range cat {
		for alias, spec := range models {
			if spec.ModelID == "" {
				return nil, fmt.Errorf("llm: %s/%s: model_id is required", provider, alias)
			}
		}
	}
	return cat, nil
}

// Providers lists the configured providers in order.
func (c Catalog) Providers() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Models lists the aliases configured for provider in order.
func (c Catalog) Models(provider string) []string {
	out := make([]string, 0, len(c[provider]))
	for m := range c[provider] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the client configuration for provider/model. The base URL
// is expanded from the environment and the API key read from spec.APIEnv.
func (c Catalog) Resolve(provider, model string) (Config, error) {
	models, ok := c[provider]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	spec, ok := models[model]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q for provider %q", ErrUnknownModel, model, provider)
	}
	cfg := Config{
		Provider: provider,
		Alias:    model,
		ModelID:  spec.ModelID,
		BaseURL:  os.ExpandEnv(spec.BaseURL),
	}
	if spec.APIEnv != "" {
		cfg.APIKey = os.Getenv(spec.APIEnv)
	}
	return cfg, nil
}

// Config configures one model client.
type Config struct {
	Provider string
	Alias    string
	ModelID  string
	BaseURL  string
	APIKey   string
	// MaxTokens bounds each response. Default 1024.
	MaxTokens int
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	HTTPClient   *http.Client
	Retry        RetryConfig
}

// Key identifies the model for session bookkeeping.
func (c Config) Key() string { return c.Provider + "/" + c.Alias }

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Retry.MaxRetries == 0 && c.Retry.InitialBackoff == 0 {
		c.Retry = DefaultRetryConfig()
	}
	return c
}

// DefaultSystemPrompt asks the model to decide explicitly between calling a
// tool and answering.
const DefaultSystemPrompt = "You are a helpful assistant with access to tools. " +
	"Before answering, decide whether you need to call a tool and which one. " +
	"Call at most one tool at a time, then either call another tool or answer the user directly."

// New returns the Model for cfg.Provider.
func New(cfg Config) (conversation.Model, error) {
	if cfg.ModelID == "" {
		return nil, errors.New("llm: model id is required")
	}
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai", "huggingface", "databricks", "":
		return NewOpenAI(cfg), nil
	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: %q has no base_url", ErrUnknownProvider, cfg.Provider)
		}
		return NewOpenAI(cfg), nil
	}
}

// Model resolves provider/model and builds its client. The returned key
// identifies the model for session bookkeeping.
func (c Catalog) Model(provider, model string) (conversation.Model, string, error) {
	cfg, err := c.Resolve(provider, model)
	if err != nil {
		return nil, "", err
	}
	m, err := New(cfg)
	if err != nil {
		return nil, "", err
	}
	return m, cfg.Key(), nil
}

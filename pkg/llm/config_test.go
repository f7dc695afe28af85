package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelsYAML = `
openai:
  gpt-4o-mini:
    model_id: gpt-4o-mini
    base_url: https://api.openai.com/v1
    api_env: TEST_OPENAI_KEY
huggingface:
  gpt-oss-120b:
    model_id: openai/gpt-oss-120b
    base_url: ${TEST_HF_BASE}/v1
    api_env: TEST_HF_KEY
anthropic:
  claude:
    model_id: claude-3-5-sonnet-latest
    base_url: ""
    api_env: TEST_ANTHROPIC_KEY
`

func TestLoadModelsAndResolve(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	t.Setenv("TEST_HF_BASE", "https://router.huggingface.co")

	path := filepath.Join(t.TempDir(), "models_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelsYAML), 0o600))

	cat, err := LoadModels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "huggingface", "openai"}, cat.Providers())
	assert.Equal(t, []string{"gpt-4o-mini"}, cat.Models("openai"))

	cfg, err := cat.Resolve("openai", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.ModelID)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Key())

	cfg, err = cat.Resolve("huggingface", "gpt-oss-120b")
	require.NoError(t, err)
	assert.Equal(t, "https://router.huggingface.co/v1", cfg.BaseURL)
	assert.Empty(t, cfg.APIKey)

	_, err = cat.Resolve("mistral", "large")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = cat.Resolve("openai", "gpt-5")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestParseModelsRequiresModelID(t *testing.T) {
	t.Parallel()

	_, err := ParseModels([]byte("openai:\n  broken:\n    base_url: x\n"))
	assert.ErrorContains(t, err, "model_id is required")

	_, err = ParseModels([]byte("openai: [not, a, map"))
	assert.Error(t, err)
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	m, err := New(Config{Provider: "anthropic", ModelID: "claude"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, m)

	m, err = New(Config{Provider: "databricks", ModelID: "dbrx", BaseURL: "https://example.cloud.databricks.com/serving-endpoints"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, m)

	_, err = New(Config{Provider: "custom", ModelID: "x"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err)
}

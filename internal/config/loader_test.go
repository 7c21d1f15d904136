package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks variables that would leak from the host into Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvOpenRouterKey, EnvOpenRouterBase, EnvModel,
		"STEPWISE_REASONING_API_KEY", "STEPWISE_REASONING_MODEL", "STEPWISE_REASONING_BASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Reasoning.Model, cfg.Reasoning.Model)
		assert.Equal(t, 30*time.Second, cfg.Engine.DrainTimeout)
		assert.Equal(t, tmpDir, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"reasoning": {"provider": "anthropic", "api_key": "sk-ant-test", "model": "claude-sonnet-4"},
			"engine": {"default_max_steps": 3, "call_timeout": "45s"},
			"tools": {"allow": ["EchoTool"], "browser": {"enabled": false, "timeout": "5s"}},
			"data_dir": "/srv/stepwise"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o600))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
		assert.Equal(t, "sk-ant-test", cfg.Reasoning.APIKey)
		assert.Equal(t, 3, cfg.Engine.DefaultMaxSteps)
		assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
		assert.Equal(t, []string{"EchoTool"}, cfg.Tools.Allow)
		assert.False(t, cfg.Tools.Browser.Enabled)
		assert.Equal(t, 5*time.Second, cfg.Tools.Browser.Timeout)
		assert.Equal(t, "/srv/stepwise", cfg.DataDir)
		// untouched sections keep defaults
		assert.Equal(t, 8080, cfg.Gateway.Port)
		assert.True(t, cfg.Tools.Browser.Headless)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		clearEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway": {"port": 9000}}`), 0o600))
		t.Setenv("STEPWISE_GATEWAY_PORT", "9100")
		t.Setenv("STEPWISE_REASONING_API_KEY", "sk-env")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Gateway.Port)
		assert.Equal(t, "sk-env", cfg.Reasoning.APIKey)
	})

	t.Run("openrouter variables fill blanks", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvOpenRouterKey, "sk-or-test")
		t.Setenv(EnvOpenRouterBase, "https://proxy.example/v1")
		t.Setenv(EnvModel, "meta/llama")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-or-test", cfg.Reasoning.APIKey)
		assert.Equal(t, "https://proxy.example/v1", cfg.Reasoning.BaseURL)
		assert.Equal(t, "meta/llama", cfg.Reasoning.Model)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0o600))

		_, err := NewLoader(configPath).Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(t.TempDir(), "config.json")

		cfg := DefaultConfig()
		cfg.Reasoning.APIKey = "sk-test-key"
		cfg.Engine.CallTimeout = 90 * time.Second
		cfg.Tools.Deny = []string{"GeneralistTool"}

		loader := NewLoader(configPath)
		require.NoError(t, loader.Save(cfg))

		info, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test-key", loaded.Reasoning.APIKey)
		assert.Equal(t, 90*time.Second, loaded.Engine.CallTimeout)
		assert.Equal(t, []string{"GeneralistTool"}, loaded.Tools.Deny)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "subdir", "config.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".stepwise", "stepwise.json"), NewLoader("").GetConfigPath())
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.70, cfg.Matching.Threshold)
	assert.Equal(t, 2, cfg.Recovery.MaxRecoveries)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
	assert.Equal(t, CacheMemory, cfg.Oracle.Cache.Backend)
	assert.False(t, cfg.Run.Submit)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeFile(t, "formforge.yaml", `
matching:
  threshold: 0.8
recovery:
  max_recoveries: 1
timeouts:
  action: 20s
  run: 2m
oracle:
  enabled: false
  cache:
    backend: redis
    redis_addr: localhost:6379
browser:
  engine: rod
outcome:
  nats_url: nats://localhost:4222
classifier:
  typeahead_patterns: ["*lookup*"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Matching.Threshold)
	assert.Equal(t, 1, cfg.Recovery.MaxRecoveries)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts, "unset keys keep their default")
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Action)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Run)
	assert.Equal(t, DefaultConfig().Timeouts.Verify, cfg.Timeouts.Verify)
	assert.Equal(t, CacheRedis, cfg.Oracle.Cache.Backend)
	assert.Equal(t, EngineRod, cfg.Browser.Engine)
	assert.Equal(t, []string{"*lookup*"}, cfg.Classifier.TypeaheadPatterns)

	assert.False(t, cfg.ForRecovery().ConsultOracle, "a disabled oracle is never consulted")
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Timeouts, cfg.Timeouts)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "matching: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "timeouts:\n  action: soon\n"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "matching:\n  threshold: 1.5\n"))
		assert.ErrorContains(t, err, "invalid configuration")
		assert.ErrorContains(t, err, "Threshold")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero threshold", func(c *Config) { c.Matching.Threshold = 0 }, "Threshold"},
		{"unknown engine", func(c *Config) { c.Browser.Engine = "selenium" }, "Engine"},
		{"unknown cache", func(c *Config) { c.Oracle.Cache.Backend = "memcached" }, "Backend"},
		{"redis without address", func(c *Config) { c.Oracle.Cache.Backend = CacheRedis }, "RedisAddr"},
		{"enabled oracle without model", func(c *Config) { c.Oracle.Model = "" }, "Model"},
		{"bad verbosity", func(c *Config) { c.Logging.Verbosity = "loud" }, "Verbosity"},
		{"zero action timeout", func(c *Config) { c.Timeouts.Action = 0 }, "Action"},
		{"bad nats url", func(c *Config) { c.Outcome.NATSURL = "not a url" }, "NATSURL"},
		{"recoveries exceed attempts", func(c *Config) { c.Recovery.MaxRecoveries = 3 }, "max_recoveries"},
		{"verify longer than action", func(c *Config) { c.Timeouts.Verify = time.Minute }, "timeouts.verify"},
		{"bad classifier pattern", func(c *Config) { c.Classifier.SelectPatterns = []string{"[unclosed"} }, "classifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("disabled oracle needs no model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Oracle.Enabled = false
		cfg.Oracle.Model = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FORMFORGE_BROWSER_ENGINE", "rod")
	t.Setenv("FORMFORGE_HEADLESS", "false")
	t.Setenv("FORMFORGE_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
	t.Setenv("FORMFORGE_REDIS_ADDR", "redis:6379")
	t.Setenv("FORMFORGE_VERBOSITY", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EngineRod, cfg.Browser.Engine)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, CacheRedis, cfg.Oracle.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Oracle.Cache.RedisAddr)
	assert.Equal(t, VerbosityDebug, cfg.Logging.Verbosity)

	t.Setenv("FORMFORGE_HEADLESS", "sometimes")
	_, err = Load("")
	assert.ErrorContains(t, err, "FORMFORGE_HEADLESS")
}

func TestLoadDotEnv(t *testing.T) {
	envFile := writeFile(t, "test.env", "FORMFORGE_TEST_DOTENV=loaded\n")
	t.Cleanup(func() { os.Unsetenv("FORMFORGE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), envFile))
	assert.Equal(t, "loaded", os.Getenv("FORMFORGE_TEST_DOTENV"))
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeouts.Action = 9 * time.Second
	cfg.Typeahead.PrefixLength = 4
	cfg.Locator.MaxFrameDepth = 1
	cfg.Oracle.Quota = 5

	assert.Equal(t, 9*time.Second, cfg.ForHandler().ActionTimeout)
	assert.Equal(t, 4, cfg.ForHandler().PrefixLength)
	assert.Equal(t, cfg.Run.ConfirmSelectors, cfg.ForHandler().ConfirmSelectors)
	assert.Equal(t, 1, cfg.ForLocator().MaxFrameDepth)
	assert.Equal(t, cfg.Timeouts.Resolve, cfg.ForLocator().ResolveTimeout)
	assert.Equal(t, 5, cfg.ForOracle().Quota)
	assert.Equal(t, cfg.Timeouts.Oracle, cfg.ForOracle().Timeout)
	assert.True(t, cfg.ForRecovery().ConsultOracle)
	assert.Equal(t, 3, cfg.ForRecovery().MaxAttempts)
}

func TestBuildProvider(t *testing.T) {
	t.Setenv("FORMFORGE_TEST_KEY", "sk-from-env")
	t.Setenv("OPENAI_BASE_URL", "")

	cfg := DefaultConfig().Oracle
	cfg.APIKeyEnv = "FORMFORGE_TEST_KEY"
	cfg.BaseURL = "http://localhost:8080/v1/"

	p, err := BuildProvider(cfg, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.GetModel())
	assert.Equal(t, "http://localhost:8080/v1", p.GetBaseURL())

	p, err = BuildProvider(cfg, "gpt-4o", "", "sk-cli")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.GetModel(), "CLI model wins over the file")

	cfg.APIKeyEnv = "FORMFORGE_TEST_UNSET_KEY"
	t.Setenv("OPENAI_API_KEY", "")
	_, err = BuildProvider(cfg, "", "", "")
	assert.ErrorContains(t, err, "FORMFORGE_TEST_UNSET_KEY")
}

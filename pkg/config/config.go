// Package config loads the run configuration of formforge: matching and
// recovery thresholds, timeouts, oracle limits, browser and outcome sinks.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/formforge/pkg/classify"
	"github.com/entrhq/formforge/pkg/handler"
	"github.com/entrhq/formforge/pkg/locator"
	"github.com/entrhq/formforge/pkg/oracle"
	"github.com/entrhq/formforge/pkg/recovery"
)

// Config is the complete configuration of one run.
type Config struct {
	Matching   MatchingConfig  `yaml:"matching" json:"matching"`
	Recovery   RecoveryConfig  `yaml:"recovery" json:"recovery"`
	Timeouts   TimeoutConfig   `yaml:"timeouts" json:"timeouts"`
	Locator    LocatorConfig   `yaml:"locator" json:"locator"`
	Typeahead  TypeaheadConfig `yaml:"typeahead" json:"typeahead"`
	Classifier classify.Config `yaml:"classifier" json:"classifier"`
	Oracle     OracleConfig    `yaml:"oracle" json:"oracle"`
	Browser    BrowserConfig   `yaml:"browser" json:"browser"`
	Outcome    OutcomeConfig   `yaml:"outcome" json:"outcome"`
	Run        RunConfig       `yaml:"run" json:"run"`
	Logging    LoggingConfig   `yaml:"logging" json:"logging"`
}

// MatchingConfig configures the fuzzy option matcher.
type MatchingConfig struct {
	// Threshold is the minimum similarity accepted for a semantic select.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lte=1"`
}

// RecoveryConfig bounds retries per field.
type RecoveryConfig struct {
	MaxRecoveries int  `yaml:"max_recoveries" json:"max_recoveries" validate:"gte=0"`
	MaxAttempts   int  `yaml:"max_attempts" json:"max_attempts" validate:"gte=1"`
	DeferStale    bool `yaml:"defer_stale" json:"defer_stale"`
	ConsultOracle bool `yaml:"consult_oracle" json:"consult_oracle"`
}

// TimeoutConfig holds every wait of the pipeline. Values are duration
// strings such as "5s" in YAML.
type TimeoutConfig struct {
	Resolve time.Duration `yaml:"resolve" json:"resolve" validate:"gt=0"`
	Action  time.Duration `yaml:"action" json:"action" validate:"gt=0"`
	Verify  time.Duration `yaml:"verify" json:"verify" validate:"gt=0"`
	Poll    time.Duration `yaml:"poll" json:"poll" validate:"gt=0"`
	Oracle  time.Duration `yaml:"oracle" json:"oracle" validate:"gt=0"`
	Run     time.Duration `yaml:"run" json:"run" validate:"gt=0"`
}

// LocatorConfig bounds the frame search.
type LocatorConfig struct {
	MaxFrameDepth int `yaml:"max_frame_depth" json:"max_frame_depth" validate:"gte=0,lte=10"`
}

// TypeaheadConfig configures typeahead and custom dropdown handling.
type TypeaheadConfig struct {
	PrefixLength int           `yaml:"prefix_length" json:"prefix_length" validate:"gte=1"`
	SettleWait   time.Duration `yaml:"settle_wait" json:"settle_wait" validate:"gt=0"`
}

// OracleConfig configures the model consulted when local matching fails.
type OracleConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	Model             string  `yaml:"model" json:"model" validate:"required_if=Enabled true"`
	BaseURL           string  `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	APIKeyEnv         string  `yaml:"api_key_env" json:"api_key_env" validate:"required_if=Enabled true"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gt=0"`
	Quota             int     `yaml:"quota" json:"quota" validate:"gte=0"`
	MaxPromptTokens   int     `yaml:"max_prompt_tokens" json:"max_prompt_tokens" validate:"gte=256"`
	Temperature       float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`

	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (c OracleConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// CacheConfig selects the oracle response cache.
type CacheConfig struct {
	Backend     string        `yaml:"backend" json:"backend" validate:"oneof=memory redis none"`
	TTL         time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0"`
	RedisAddr   string        `yaml:"redis_addr" json:"redis_addr" validate:"required_if=Backend redis,omitempty,hostname_port"`
	RedisPrefix string        `yaml:"redis_prefix" json:"redis_prefix"`
}

// Browser engines.
const (
	EnginePlaywright = "playwright"
	EngineRod        = "rod"
)

// BrowserConfig selects and configures the browser adapter.
type BrowserConfig struct {
	Engine            string        `yaml:"engine" json:"engine" validate:"oneof=playwright rod"`
	Headless          bool          `yaml:"headless" json:"headless"`
	DebuggerURL       string        `yaml:"debugger_url" json:"debugger_url" validate:"omitempty,url"`
	Width             int           `yaml:"width" json:"width" validate:"gte=320"`
	Height            int           `yaml:"height" json:"height" validate:"gte=240"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout" validate:"gt=0"`
	SkipInstall       bool          `yaml:"skip_install" json:"skip_install"`
}

// OutcomeConfig selects where results are written.
type OutcomeConfig struct {
	ArtifactDir   string `yaml:"artifact_dir" json:"artifact_dir"`
	TraceDir      string `yaml:"trace_dir" json:"trace_dir"`
	TraceMaxBytes int64  `yaml:"trace_max_bytes" json:"trace_max_bytes" validate:"gte=0"`
	NATSURL       string `yaml:"nats_url" json:"nats_url" validate:"omitempty,url"`
	NATSSubject   string `yaml:"nats_subject" json:"nats_subject"`
}

// RunConfig controls which fields a run touches.
type RunConfig struct {
	// Submit allows clicking submit buttons. Off by default so a run can be
	// rehearsed without sending the application.
	Submit bool `yaml:"submit" json:"submit"`
	// ConfirmSelectors are looked up after a click to detect a transition.
	ConfirmSelectors []string `yaml:"confirm_selectors" json:"confirm_selectors"`
}

// Verbosity levels for console output.
const (
	VerbosityQuiet   = "quiet"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
	VerbosityDebug   = "debug"
)

// LoggingConfig configures console output. Component logs always go to
// the per-run log file.
type LoggingConfig struct {
	Verbosity string `yaml:"verbosity" json:"verbosity" validate:"oneof=quiet normal verbose debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	hcfg := handler.DefaultConfig()
	lcfg := locator.DefaultConfig()
	ocfg := oracle.DefaultConfig()
	rcfg := recovery.DefaultConfig()

	return &Config{
		Matching: MatchingConfig{Threshold: 0.70},
		Recovery: RecoveryConfig{
			MaxRecoveries: rcfg.MaxRecoveries,
			MaxAttempts:   rcfg.MaxAttempts,
			DeferStale:    rcfg.DeferStale,
			ConsultOracle: rcfg.ConsultOracle,
		},
		Timeouts: TimeoutConfig{
			Resolve: lcfg.ResolveTimeout,
			Action:  hcfg.ActionTimeout,
			Verify:  hcfg.VerifyTimeout,
			Poll:    hcfg.PollInterval,
			Oracle:  ocfg.Timeout,
			Run:     10 * time.Minute,
		},
		Locator:    LocatorConfig{MaxFrameDepth: lcfg.MaxFrameDepth},
		Typeahead:  TypeaheadConfig{PrefixLength: hcfg.PrefixLength, SettleWait: hcfg.SettleWait},
		Classifier: classify.DefaultConfig(),
		Oracle: OracleConfig{
			Enabled:           true,
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerMinute: ocfg.RequestsPerMinute,
			Quota:             ocfg.Quota,
			MaxPromptTokens:   ocfg.MaxPromptTokens,
			Cache: CacheConfig{
				Backend:     CacheMemory,
				TTL:         ocfg.CacheTTL,
				RedisPrefix: "formforge:oracle:",
			},
		},
		Browser: BrowserConfig{
			Engine:            EnginePlaywright,
			Headless:          true,
			Width:             1280,
			Height:            900,
			NavigationTimeout: 30 * time.Second,
		},
		Outcome: OutcomeConfig{
			ArtifactDir:   "./formforge-output",
			TraceMaxBytes: 10 << 20,
		},
		Run:     RunConfig{ConfirmSelectors: hcfg.ConfirmSelectors},
		Logging: LoggingConfig{Verbosity: VerbosityNormal},
	}
}

// LoadDotEnv loads environment files, .env when none are named. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from FORMFORGE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("FORMFORGE_BROWSER_ENGINE"); ok {
		c.Browser.Engine = v
	}
	if v, ok := os.LookupEnv("FORMFORGE_DEBUGGER_URL"); ok {
		c.Browser.DebuggerURL = v
	}
	if v, ok := os.LookupEnv("FORMFORGE_HEADLESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORMFORGE_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	if v, ok := os.LookupEnv("FORMFORGE_ORACLE_MODEL"); ok {
		c.Oracle.Model = v
	}
	if v, ok := os.LookupEnv("FORMFORGE_ORACLE_BASE_URL"); ok {
		c.Oracle.BaseURL = v
	}
	if v, ok := os.LookupEnv("FORMFORGE_REDIS_ADDR"); ok {
		c.Oracle.Cache.RedisAddr = v
		c.Oracle.Cache.Backend = CacheRedis
	}
	if v, ok := os.LookupEnv("FORMFORGE_NATS_URL"); ok {
		c.Outcome.NATSURL = v
	}
	if v, ok := os.LookupEnv("FORMFORGE_VERBOSITY"); ok {
		c.Logging.Verbosity = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Recovery.MaxRecoveries >= c.Recovery.MaxAttempts {
		return fmt.Errorf("recovery.max_recoveries (%d) must be less than recovery.max_attempts (%d)",
			c.Recovery.MaxRecoveries, c.Recovery.MaxAttempts)
	}
	if c.Timeouts.Verify > c.Timeouts.Action {
		return fmt.Errorf("timeouts.verify (%s) must not exceed timeouts.action (%s)", c.Timeouts.Verify, c.Timeouts.Action)
	}
	if c.Timeouts.Poll > c.Timeouts.Verify {
		return fmt.Errorf("timeouts.poll (%s) must not exceed timeouts.verify (%s)", c.Timeouts.Poll, c.Timeouts.Verify)
	}
	if c.Browser.Engine == EngineRod && c.Browser.DebuggerURL == "" && !c.Browser.Headless {
		return fmt.Errorf("browser.engine rod without debugger_url requires headless mode")
	}
	if _, err := classify.New(c.Classifier); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}

// ForHandler returns the handler waits.
func (c *Config) ForHandler() handler.Config {
	return handler.Config{
		ActionTimeout:    c.Timeouts.Action,
		VerifyTimeout:    c.Timeouts.Verify,
		PollInterval:     c.Timeouts.Poll,
		SettleWait:       c.Typeahead.SettleWait,
		PrefixLength:     c.Typeahead.PrefixLength,
		ConfirmSelectors: c.Run.ConfirmSelectors,
	}
}

// ForLocator returns the locator bounds.
func (c *Config) ForLocator() locator.Config {
	return locator.Config{
		MaxFrameDepth:  c.Locator.MaxFrameDepth,
		ResolveTimeout: c.Timeouts.Resolve,
		PollInterval:   c.Timeouts.Poll,
	}
}

// ForOracle returns the oracle limits.
func (c *Config) ForOracle() oracle.Config {
	return oracle.Config{
		Timeout:           c.Timeouts.Oracle,
		RequestsPerMinute: c.Oracle.RequestsPerMinute,
		Quota:             c.Oracle.Quota,
		MaxPromptTokens:   c.Oracle.MaxPromptTokens,
		CacheTTL:          c.Oracle.Cache.TTL,
	}
}

// ForRecovery returns the recovery bounds. The oracle is only consulted
// when it is enabled.
func (c *Config) ForRecovery() recovery.Config {
	return recovery.Config{
		MaxRecoveries: c.Recovery.MaxRecoveries,
		MaxAttempts:   c.Recovery.MaxAttempts,
		DeferStale:    c.Recovery.DeferStale,
		ConsultOracle: c.Recovery.ConsultOracle && c.Oracle.Enabled,
	}
}

// Package main provides the formforge command: it opens a browser on an
// application form, fills it from a profile and writes the run outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/entrhq/formforge/pkg/config"
	"github.com/entrhq/formforge/pkg/driver/pwdriver"
	"github.com/entrhq/formforge/pkg/driver/roddriver"
	"github.com/entrhq/formforge/pkg/executor"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/entrhq/formforge/pkg/oracle"
	"github.com/entrhq/formforge/pkg/outcome"
	"github.com/entrhq/formforge/pkg/profile"
)

const version = "0.1.0"

// Exit codes.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitPartial = 2
	exitUsage   = 64
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	ProfileFile string
	URL         string
	EnvFile     string
	APIKey      string
	BaseURL     string
	Model       string
	Engine      string
	Verbosity   string
	Submit      bool
	NoOracle    bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("formforge v%s\n", version)
		return
	}
	if cli.URL == "" || cli.ProfileFile == "" {
		flag.Usage()
		os.Exit(exitUsage)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	code, err := run(ctx, cli)
	cancel()
	if err != nil {
		log.Printf("Execution failed: %v", err)
	}
	os.Exit(code)
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.ProfileFile, "profile", "", "Path to the applicant profile (YAML, required)")
	flag.StringVar(&cli.URL, "url", "", "URL of the application form (required)")
	flag.StringVar(&cli.EnvFile, "env", ".env", "Dotenv file loaded before configuration")
	flag.StringVar(&cli.APIKey, "api-key", "", "Oracle API key (overrides the configured environment variable)")
	flag.StringVar(&cli.BaseURL, "base-url", "", "Oracle API base URL")
	flag.StringVar(&cli.Model, "model", "", "Oracle model")
	flag.StringVar(&cli.Engine, "engine", "", "Browser engine: playwright or rod")
	flag.StringVar(&cli.Verbosity, "verbosity", "", "Console verbosity: quiet, normal, verbose or debug")
	flag.BoolVar(&cli.Submit, "submit", false, "Click the submit button after filling")
	flag.BoolVar(&cli.NoOracle, "no-oracle", false, "Never consult the oracle")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "formforge - adaptive form filling\n\n")
		fmt.Fprintf(os.Stderr, "Usage: formforge -url <form> -profile <profile.yaml> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Rehearse a fill without submitting\n")
		fmt.Fprintf(os.Stderr, "  formforge -url https://jobs.example.com/apply/42 -profile ada.yaml\n\n")
		fmt.Fprintf(os.Stderr, "  # Attach to a running Chrome and submit\n")
		fmt.Fprintf(os.Stderr, "  FORMFORGE_DEBUGGER_URL=ws://127.0.0.1:9222 formforge -engine rod -submit -url ... -profile ...\n\n")
	}

	flag.Parse()
	return cli
}

// run wires the pipeline and returns the process exit code.
func run(ctx context.Context, cli *CLIConfig) (int, error) {
	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return exitUsage, err
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return exitUsage, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, cli)
	if err := cfg.Validate(); err != nil {
		return exitUsage, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.SetLevel(logLevel(cfg.Logging.Verbosity))

	prof, err := profile.Load(cli.ProfileFile)
	if err != nil {
		return exitUsage, err
	}

	console := executor.NewConsole(executor.ParseLevel(cfg.Logging.Verbosity))
	console.Header("formforge v" + version)
	console.Infof("Form: %s", cli.URL)
	console.Infof("Run:  %s", logging.RunID())

	page, closeBrowser, err := openBrowser(ctx, cfg, cli.URL)
	if err != nil {
		return exitFailed, err
	}
	defer closeBrowser()

	sink, err := buildSink(cfg)
	if err != nil {
		return exitFailed, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			console.Warningf("closing outcome sinks: %v", cerr)
		}
	}()

	opts := []executor.Option{executor.WithSink(sink), executor.WithConsole(console)}
	if cfg.Oracle.Enabled {
		o, err := buildOracle(cfg, cli)
		if err != nil {
			return exitUsage, err
		}
		defer func() {
			if cerr := o.Close(); cerr != nil {
				console.Warningf("closing oracle cache: %v", cerr)
			}
		}()
		opts = append(opts, executor.WithOracle(o))
	}

	exec, err := executor.New(page, prof, executorConfig(cfg), opts...)
	if err != nil {
		return exitFailed, fmt.Errorf("failed to create executor: %w", err)
	}

	out, runErr := exec.Run(ctx)
	console.Summary(out)
	if cfg.Outcome.ArtifactDir != "" {
		renderSummary(os.Stdout, cfg.Outcome.ArtifactDir, console)
	}
	return exitCode(out), runErr
}

// applyFlags lets explicit flags override the file and environment.
func applyFlags(cfg *config.Config, cli *CLIConfig) {
	if cli.Engine != "" {
		cfg.Browser.Engine = cli.Engine
	}
	if cli.Verbosity != "" {
		cfg.Logging.Verbosity = cli.Verbosity
	}
	if cli.Submit {
		cfg.Run.Submit = true
	}
	if cli.NoOracle {
		cfg.Oracle.Enabled = false
	}
}

func logLevel(verbosity string) logging.Level {
	switch verbosity {
	case config.VerbosityDebug:
		return logging.LevelDebug
	case config.VerbosityQuiet:
		return logging.LevelWarn
	default:
		return logging.LevelInfo
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		Threshold:  cfg.Matching.Threshold,
		RunTimeout: cfg.Timeouts.Run,
		Submit:     cfg.Run.Submit,
		Locator:    cfg.ForLocator(),
		Handler:    cfg.ForHandler(),
		Recovery:   cfg.ForRecovery(),
		Classifier: cfg.Classifier,
	}
}

// openBrowser starts the configured engine and loads url.
func openBrowser(ctx context.Context, cfg *config.Config, url string) (executor.Page, func(), error) {
	b := cfg.Browser
	switch b.Engine {
	case config.EngineRod:
		drv, err := roddriver.Connect(ctx, roddriver.Options{
			DebuggerURL: b.DebuggerURL,
			Headless:    b.Headless,
			Timeout:     cfg.Timeouts.Action,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect browser: %w", err)
		}
		if err := drv.Navigate(url, b.NavigationTimeout); err != nil {
			_ = drv.Close()
			return nil, nil, err
		}
		return drv, func() { _ = drv.Close() }, nil
	default:
		session, err := pwdriver.Launch(pwdriver.Options{
			Headless:    b.Headless,
			Width:       b.Width,
			Height:      b.Height,
			Timeout:     cfg.Timeouts.Action,
			SkipInstall: b.SkipInstall,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		if err := session.Navigate(url, b.NavigationTimeout); err != nil {
			_ = session.Close()
			return nil, nil, err
		}
		return session.Driver(), func() { _ = session.Close() }, nil
	}
}

func buildSink(cfg *config.Config) (outcome.Sink, error) {
	var sinks outcome.MultiSink
	o := cfg.Outcome
	if o.ArtifactDir != "" {
		sinks = append(sinks, outcome.NewArtifactSink(o.ArtifactDir))
	}
	if o.TraceDir != "" {
		trace, err := outcome.NewJSONLSink(o.TraceDir, logging.RunID(), o.TraceMaxBytes)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, trace)
	}
	if o.NATSURL != "" {
		ns, err := outcome.DialNATS(o.NATSURL, o.NATSSubject)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, ns)
	}
	return sinks, nil
}

func buildOracle(cfg *config.Config, cli *CLIConfig) (*oracle.LLMOracle, error) {
	provider, err := config.BuildProvider(cfg.Oracle, cli.Model, cli.BaseURL, cli.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle provider: %w", err)
	}

	var opts []oracle.Option
	switch cfg.Oracle.Cache.Backend {
	case config.CacheMemory:
		opts = append(opts, oracle.WithCache(oracle.NewMemoryCache()))
	case config.CacheRedis:
		opts = append(opts, oracle.WithCache(oracle.DialRedisCache(cfg.Oracle.Cache.RedisAddr, cfg.Oracle.Cache.RedisPrefix)))
	}
	return oracle.NewLLMOracle(provider, cfg.ForOracle(), opts...), nil
}

// renderSummary prints the markdown summary the artifact sink wrote.
func renderSummary(w io.Writer, dir string, console *executor.Console) {
	data, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			console.Warningf("reading summary: %v", err)
		}
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		console.Warningf("creating markdown renderer: %v", err)
		return
	}
	rendered, err := r.Render(string(data))
	if err != nil {
		console.Warningf("rendering summary: %v", err)
		return
	}
	fmt.Fprint(w, rendered)
}

func exitCode(out *form.RunOutcome) int {
	if out == nil {
		return exitFailed
	}
	switch out.Status {
	case form.StatusSuccess:
		return exitSuccess
	case form.StatusPartialSuccess:
		return exitPartial
	default:
		return exitFailed
	}
}

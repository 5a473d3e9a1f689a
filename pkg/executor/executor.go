// Package executor runs the form-fill pipeline over one page: it scans and
// classifies the form, then fills every field in classification order with
// a single worker, recovering from failures and recording every attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/formforge/pkg/classify"
	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/handler"
	"github.com/entrhq/formforge/pkg/locator"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/entrhq/formforge/pkg/match"
	"github.com/entrhq/formforge/pkg/oracle"
	"github.com/entrhq/formforge/pkg/outcome"
	"github.com/entrhq/formforge/pkg/recovery"
	"github.com/entrhq/formforge/pkg/strategy"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("executor")
	if err != nil {
		debugLog.Warnf("Failed to initialize executor logger, using stderr fallback: %v", err)
	}
}

// Page is the browser capability the executor drives.
type Page interface {
	driver.Driver
	driver.Scanner
}

// Profile resolves the value a field should receive.
type Profile interface {
	Lookup(field *form.FieldDescriptor) (form.ProfileValue, bool)
}

// Config holds the settings of one run.
type Config struct {
	// Threshold is the matcher's acceptance threshold.
	Threshold float64
	// RunTimeout bounds the whole run; remaining fields are reported as
	// aborted when it elapses.
	RunTimeout time.Duration
	// Submit allows clicking submit buttons.
	Submit bool

	Locator    locator.Config
	Handler    handler.Config
	Recovery   recovery.Config
	Classifier classify.Config
}

// DefaultConfig returns the defaults of every stage.
func DefaultConfig() Config {
	return Config{
		Threshold:  match.DefaultThreshold,
		RunTimeout: 10 * time.Minute,
		Locator:    locator.DefaultConfig(),
		Handler:    handler.DefaultConfig(),
		Recovery:   recovery.DefaultConfig(),
		Classifier: classify.DefaultConfig(),
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithOracle enables oracle escalation.
func WithOracle(o oracle.Oracle) Option {
	return func(e *Executor) {
		e.oracle = o
	}
}

// WithSink sets where results are written.
func WithSink(s outcome.Sink) Option {
	return func(e *Executor) {
		e.sink = s
	}
}

// WithConsole sets the progress console. Without one the run is silent.
func WithConsole(c *Console) Option {
	return func(e *Executor) {
		e.console = c
	}
}

// WithRunID overrides the run identifier, which defaults to the log
// session's.
func WithRunID(id string) Option {
	return func(e *Executor) {
		e.runID = id
	}
}

// Executor owns the pipeline components of one run.
type Executor struct {
	page    Page
	profile Profile
	cfg     Config
	oracle  oracle.Oracle
	sink    outcome.Sink
	console *Console
	runID   string

	classifier *classify.Classifier
	locator    *locator.Locator
	selector   *strategy.Selector
	registry   *handler.Registry
	recovery   *recovery.Coordinator
}

// New wires the pipeline over page.
func New(page Page, profile Profile, cfg Config, opts ...Option) (*Executor, error) {
	if page == nil {
		return nil, fmt.Errorf("page is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}

	e := &Executor{page: page, profile: profile, cfg: cfg, runID: logging.RunID()}
	for _, opt := range opts {
		opt(e)
	}

	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	e.classifier = classifier

	matcher := match.New(cfg.Threshold)
	e.locator = locator.New(page, cfg.Locator)

	selOpts := []strategy.Option{
		strategy.WithOptionLoader(handler.NewOptionLoader(page, e.locator, cfg.Handler)),
		strategy.WithPrefixLength(cfg.Handler.PrefixLength),
	}
	if e.oracle != nil {
		selOpts = append(selOpts, strategy.WithOracle(e.oracle))
	}
	e.selector = strategy.New(matcher, selOpts...)
	e.registry = handler.NewRegistry(page, e.locator, matcher, cfg.Handler)
	e.recovery = recovery.New(e.selector, e.locator, cfg.Recovery)
	return e, nil
}

// RunID returns the identifier results are recorded under.
func (e *Executor) RunID() string {
	return e.runID
}

// Inventory scans the page and classifies every interactive element.
func (e *Executor) Inventory(ctx context.Context) ([]*form.FieldDescriptor, error) {
	raws, err := e.page.Scan(ctx, e.cfg.Locator.MaxFrameDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}
	fields := e.classifier.Inventory(raws)
	debugLog.Infof("Scanned %d elements into %d fields", len(raws), len(fields))
	return fields, nil
}

// Run scans the page and fills it. The returned outcome describes every
// field even when err reports a run-level failure.
func (e *Executor) Run(ctx context.Context) (*form.RunOutcome, error) {
	e.console.Section("Scanning form")
	fields, err := e.Inventory(ctx)
	if err != nil {
		rec := outcome.NewRecorder(e.runID, e.sink)
		out, _ := rec.Finalize(ctx, e.summary(), err.Error())
		return out, err
	}
	e.console.Infof("Found %d fields", len(fields))
	return e.RunFields(ctx, fields)
}

// RunFields fills fields in order. Retries deferred by the recovery
// coordinator run after the first pass, in the order they were deferred.
func (e *Executor) RunFields(ctx context.Context, fields []*form.FieldDescriptor) (*form.RunOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	rec := outcome.NewRecorder(e.runID, e.sink)
	ordered := e.order(fields)
	rec.Register(ordered)
	debugLog.Infof("Run %s: filling %d fields", e.runID, len(ordered))

	e.console.Section(fmt.Sprintf("Filling %d fields", len(ordered)))

	var (
		deferred []*form.ActionContext
		runErr   error
	)

	for _, f := range ordered {
		if runErr = abortError(runCtx); runErr != nil {
			break
		}
		ac, err := e.prepare(runCtx, rec, f)
		if err != nil {
			runErr = err
			break
		}
		if ac == nil {
			continue
		}
		again, err := e.drive(runCtx, rec, ac)
		if err != nil {
			runErr = err
			break
		}
		if again {
			deferred = append(deferred, ac)
		}
	}

	if runErr == nil && len(deferred) > 0 {
		e.console.Verbosef("Running %d deferred retries", len(deferred))
	}
	for runErr == nil && len(deferred) > 0 {
		if runErr = abortError(runCtx); runErr != nil {
			break
		}
		ac := deferred[0]
		deferred = deferred[1:]
		again, err := e.drive(runCtx, rec, ac)
		if err != nil {
			runErr = err
			break
		}
		if again {
			deferred = append(deferred, ac)
		}
	}
	for _, ac := range deferred {
		e.recovery.Abandon(ac)
	}

	reason := ""
	if runErr != nil {
		reason = runErr.Error()
		e.console.Errorf("Run aborted: %s", reason)
	}

	// Results must reach the sinks even when the run context is done.
	out, sinkErr := rec.Finalize(context.WithoutCancel(ctx), e.summary(), reason)
	if sinkErr != nil {
		debugLog.Warnf("Outcome sinks reported errors: %v", sinkErr)
		e.console.Warningf("Some outcome records were not delivered: %v", sinkErr)
	}
	debugLog.Infof("Run %s finished: %s (%d succeeded, %d failed, %d skipped)",
		e.runID, out.Status, out.Succeeded, out.Failed, out.Skipped)
	return out, runErr
}

func (e *Executor) summary() form.RecoverySummary {
	s := e.recovery.Summary()
	s.OracleCalls = e.selector.OracleCalls()
	return s
}

func abortError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("run timeout exceeded: %w", err)
	default:
		return fmt.Errorf("run canceled: %w", err)
	}
}

// order keeps classification order but moves submit buttons last.
func (e *Executor) order(fields []*form.FieldDescriptor) []*form.FieldDescriptor {
	ordered := append([]*form.FieldDescriptor(nil), fields...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !isSubmit(ordered[i]) && isSubmit(ordered[j])
	})
	return ordered
}

func isSubmit(f *form.FieldDescriptor) bool {
	return f.Widget == form.WidgetClick && f.Purpose == form.PurposeSubmit
}

// prepare resolves the value and initial strategy of f. It returns nil when
// f was settled without an attempt; the result is already recorded. The
// error is non-nil only for run-level failures.
func (e *Executor) prepare(ctx context.Context, rec *outcome.Recorder, f *form.FieldDescriptor) (*form.ActionContext, error) {
	settle := func(res form.ExecutionResult) {
		rec.Record(ctx, res)
		e.console.Attempt(res, true)
	}
	blank := form.NewActionContext(f, form.ProfileValue{Key: f.ID}, form.Strategy{})

	value, synthesized, ok := e.valueFor(f)
	if !ok {
		if isSubmit(f) {
			res := form.NewResult(blank, form.OutcomeSkipped)
			res.Detail = "submit is disabled"
			settle(res)
			return nil, nil
		}
		err := form.NewFieldError(form.ErrMissingProfileValue, f.ID, "no profile value for %q", describe(f))
		res := form.Failed(blank, err)
		if !f.Required {
			res.Outcome = form.OutcomeSkipped
		}
		settle(res)
		return nil, nil
	}

	if err := e.locator.Probe(ctx, f.Ref()); err != nil {
		if errors.Is(err, driver.ErrSessionLost) {
			settle(form.Failed(blank, form.WrapFieldError(form.ErrRunAborted, f.ID, err)))
			return nil, fmt.Errorf("browser session lost: %w", err)
		}
		settle(form.Failed(blank, stamp(f.ID, err)))
		return nil, nil
	}

	s, err := e.selector.Select(ctx, f, value)
	for retries := 0; err != nil && ctx.Err() == nil && e.recovery.RetrySelection(f.ID, form.KindOf(err), retries); retries++ {
		s, err = e.selector.Select(ctx, f, value)
	}
	if err != nil {
		if errors.Is(err, driver.ErrSessionLost) {
			settle(form.Failed(blank, form.WrapFieldError(form.ErrRunAborted, f.ID, err)))
			return nil, fmt.Errorf("browser session lost: %w", err)
		}
		settle(form.Failed(blank, stamp(f.ID, err)))
		return nil, nil
	}

	ac := form.NewActionContext(f, value, s)
	ac.Synthesized = synthesized
	e.console.Debugf("%s: %s", f.ID, s)
	return ac, nil
}

// valueFor returns the profile value of f. Submit buttons get an implicit
// value when submitting is enabled.
func (e *Executor) valueFor(f *form.FieldDescriptor) (form.ProfileValue, bool, bool) {
	if isSubmit(f) {
		if !e.cfg.Submit {
			return form.ProfileValue{}, false, false
		}
		return form.ProfileValue{Key: f.ID, Value: "submit", Kind: form.KindLiteral}, true, true
	}

	v, ok := e.profile.Lookup(f)
	switch {
	case !ok && f.Widget == form.WidgetFile:
		// An unconfigured attachment is skipped by the file handler.
		return form.ProfileValue{Key: f.ID, Kind: form.KindFilePath}, false, true
	case !ok:
		return form.ProfileValue{}, false, false
	case v.Kind != form.KindFilePath && strings.TrimSpace(v.Text()) == "":
		return form.ProfileValue{}, false, false
	}
	return v, false, true
}

func describe(f *form.FieldDescriptor) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

func stamp(fieldID string, err error) *form.FieldError {
	var fe *form.FieldError
	if errors.As(err, &fe) {
		if fe.FieldID == "" {
			stamped := *fe
			stamped.FieldID = fieldID
			return &stamped
		}
		return fe
	}
	return form.WrapFieldError(form.ErrInternal, fieldID, err)
}

// drive executes ac until it succeeds, is skipped, terminally fails or a
// retry is deferred. It reports whether ac should run again later. The
// error is non-nil only for run-level failures.
func (e *Executor) drive(ctx context.Context, rec *outcome.Recorder, ac *form.ActionContext) (bool, error) {
	for {
		if !e.recovery.Executing(ac) {
			return false, nil
		}

		res, err := e.registry.Execute(ctx, ac)
		rec.Record(ctx, res)
		if err != nil {
			e.console.Attempt(res, true)
			e.recovery.Abandon(ac)
			return false, fmt.Errorf("browser session lost: %w", err)
		}
		if res.Navigated {
			debugLog.Infof("Field %s triggered navigation; clearing element cache", ac.Field.ID)
			e.locator.Invalidate()
		}

		e.recovery.Observe(ac, res)
		if res.Outcome != form.OutcomeFailed {
			e.console.Attempt(res, true)
			return false, nil
		}
		if ctx.Err() != nil {
			e.console.Attempt(res, true)
			e.recovery.Abandon(ac)
			return false, nil
		}

		d := e.recovery.Recover(ctx, ac, res)
		e.console.Attempt(res, d.Terminal)
		e.console.Decision(ac.Field.ID, d)
		switch {
		case d.Terminal:
			return false, nil
		case d.Defer:
			return true, nil
		}
	}
}

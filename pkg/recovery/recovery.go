// Package recovery decides what happens to a field after a failed attempt.
// It is the only place in the pipeline that retries: handlers execute and
// verify once, and the executor asks the Coordinator for the next move.
package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/entrhq/formforge/pkg/oracle"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("recovery")
	if err != nil {
		debugLog.Warnf("Failed to initialize recovery logger, using stderr fallback: %v", err)
	}
}

// Phase is the state of one action context.
type Phase string

const (
	PhasePending        Phase = "pending"
	PhaseExecuting      Phase = "executing"
	PhaseSucceeded      Phase = "succeeded"
	PhaseFailed         Phase = "failed"
	PhaseRecovering     Phase = "recovering"
	PhaseTerminalFailed Phase = "terminal_failed"
	PhaseSkipped        Phase = "skipped"
)

// Terminal reports whether no further attempt will be made.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseTerminalFailed || p == PhaseSkipped
}

// Planner proposes revised strategies. *strategy.Selector satisfies it.
type Planner interface {
	Alternatives(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, tried []form.Strategy) []form.Strategy
	Consult(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, history []oracle.Failure) (form.Strategy, error)
}

// Invalidator drops cached element handles. *locator.Locator satisfies it.
type Invalidator interface {
	InvalidateRef(ref form.ElementRef)
}

// Config bounds recovery.
type Config struct {
	// MaxRecoveries is the number of revised attempts after the first one.
	MaxRecoveries int `yaml:"max_recoveries"`
	// MaxAttempts caps all attempts of one field, the first included.
	MaxAttempts int `yaml:"max_attempts"`
	// DeferStale moves retries after stale-element errors to the end of
	// the current pass.
	DeferStale bool `yaml:"defer_stale"`
	// ConsultOracle allows one oracle consultation per field once local
	// alternatives run out.
	ConsultOracle bool `yaml:"consult_oracle"`
}

// DefaultConfig returns two recoveries, three attempts, deferred stale
// retries and oracle consultation enabled.
func DefaultConfig() Config {
	return Config{MaxRecoveries: 2, MaxAttempts: 3, DeferStale: true, ConsultOracle: true}
}

// Decision is the coordinator's answer to a failure.
type Decision struct {
	// Retry is set when the field should be executed again with Strategy.
	Retry    bool
	Strategy form.Strategy
	// Defer asks the executor to run the retry at the end of the pass.
	Defer bool
	// Terminal is set when the field is finished with its last failure.
	Terminal bool
	Reason   string
}

func (d Decision) String() string {
	switch {
	case d.Terminal:
		return "terminal: " + d.Reason
	case d.Defer:
		return fmt.Sprintf("deferred retry with %s (%s)", d.Strategy, d.Reason)
	default:
		return fmt.Sprintf("retry with %s (%s)", d.Strategy, d.Reason)
	}
}

type track struct {
	phase      Phase
	recoveries int
	consulted  bool
	history    []oracle.Failure
}

// Coordinator runs the per-field state machine
// pending → executing → (succeeded | failed → recovering → executing … | terminal_failed).
type Coordinator struct {
	planner Planner
	inv     Invalidator
	cfg     Config

	mu      sync.Mutex
	tracks  map[string]*track
	summary form.RecoverySummary
}

// New creates a coordinator. inv may be nil.
func New(planner Planner, inv Invalidator, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxRecoveries < 0 {
		cfg.MaxRecoveries = 0
	}
	return &Coordinator{
		planner: planner,
		inv:     inv,
		cfg:     cfg,
		tracks:  make(map[string]*track),
	}
}

func (c *Coordinator) track(ac *form.ActionContext) *track {
	t, ok := c.tracks[ac.ID]
	if !ok {
		t = &track{phase: PhasePending}
		c.tracks[ac.ID] = t
	}
	return t
}

// Phase returns the current phase of ac.
func (c *Coordinator) Phase(ac *form.ActionContext) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track(ac).phase
}

// Executing marks ac as about to run. It returns false when ac is already
// terminal and must not be executed again.
func (c *Coordinator) Executing(ac *form.ActionContext) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.track(ac)
	if t.phase.Terminal() {
		return false
	}
	t.phase = PhaseExecuting
	return true
}

// Observe records the result of an attempt. Successes and skips finish the
// field; failures are left for Recover.
func (c *Coordinator) Observe(ac *form.ActionContext, res form.ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.track(ac)
	switch res.Outcome {
	case form.OutcomeSuccess:
		t.phase = PhaseSucceeded
	case form.OutcomeSkipped:
		t.phase = PhaseSkipped
	default:
		t.phase = PhaseFailed
		t.history = append(t.history, oracle.Failure{Method: ac.Strategy.Method, Target: ac.Strategy.Target, Kind: res.ErrorKind})
	}
}

// Recover decides the next move after a failed attempt and revises ac's
// strategy when another attempt is granted.
func (c *Coordinator) Recover(ctx context.Context, ac *form.ActionContext, res form.ExecutionResult) Decision {
	c.mu.Lock()
	t := c.track(ac)
	if t.phase != PhaseFailed {
		t.phase = PhaseFailed
		t.history = append(t.history, oracle.Failure{Method: ac.Strategy.Method, Target: ac.Strategy.Target, Kind: res.ErrorKind})
	}
	c.mu.Unlock()

	kind := res.ErrorKind
	if !kind.Retryable() {
		return c.terminate(ac, t, fmt.Sprintf("%s is not retryable", kind))
	}
	if ac.Attempts() >= c.cfg.MaxAttempts || t.recoveries >= c.cfg.MaxRecoveries {
		return c.terminate(ac, t, fmt.Sprintf("retry bound reached after %d attempts", ac.Attempts()))
	}

	next, reason, ok := c.revise(ctx, ac, t, kind)
	if !ok {
		return c.terminate(ac, t, reason)
	}

	d := Decision{Retry: true, Strategy: next, Reason: reason}
	if kind.Stale() {
		if c.inv != nil {
			c.inv.InvalidateRef(ac.Field.Ref())
		}
		d.Defer = c.cfg.DeferStale
	}

	c.mu.Lock()
	t.recoveries++
	t.phase = PhaseRecovering
	c.summary.Recoveries++
	if d.Defer {
		c.summary.DeferredRetries++
	}
	c.mu.Unlock()

	ac.Revise(next)
	debugLog.Infof("Field %s: %s", ac.Field.ID, d)
	return d
}

// revise picks the next strategy: an untried local alternative, then one
// oracle consultation, then a plain retry for transient errors.
func (c *Coordinator) revise(ctx context.Context, ac *form.ActionContext, t *track, kind form.ErrorKind) (form.Strategy, string, bool) {
	if c.planner != nil {
		if alts := c.planner.Alternatives(ctx, ac.Field, ac.Value, ac.Tried()); len(alts) > 0 {
			return alts[0], "next local alternative", true
		}
	}

	if c.canConsult(ac, t) {
		c.mu.Lock()
		t.consulted = true
		history := append([]oracle.Failure(nil), t.history...)
		c.mu.Unlock()

		s, err := c.planner.Consult(ctx, ac.Field, ac.Value, history)
		switch {
		case err != nil:
			debugLog.Infof("Field %s: oracle gave no alternative: %v", ac.Field.ID, err)
		case ac.HasTried(s):
			debugLog.Debugf("Field %s: oracle repeated a tried strategy %s", ac.Field.ID, s)
		default:
			return s, "oracle suggestion", true
		}
	}

	if transient(kind) {
		s := ac.Strategy
		s.Source = form.SourceRetry
		return s, "transient " + string(kind), true
	}
	return form.Strategy{}, fmt.Sprintf("no alternative left after %s", kind), false
}

// RetrySelection reports whether choosing a strategy for fieldID should be
// tried again after it failed with kind. Only an oracle timeout qualifies,
// and each retry is charged as a recovery against MaxRecoveries.
func (c *Coordinator) RetrySelection(fieldID string, kind form.ErrorKind, retries int) bool {
	if kind != form.ErrOracleTimeout {
		return false
	}
	if retries >= c.cfg.MaxRecoveries {
		debugLog.Infof("Field %s: selection failed with %s after %d retries", fieldID, kind, retries)
		return false
	}
	c.mu.Lock()
	c.summary.Recoveries++
	c.mu.Unlock()
	debugLog.Infof("Field %s: retrying selection after %s", fieldID, kind)
	return true
}

func (c *Coordinator) canConsult(ac *form.ActionContext, t *track) bool {
	if !c.cfg.ConsultOracle || c.planner == nil || t.consulted {
		return false
	}
	w := ac.Field.Widget
	return w == form.WidgetSelect || w == form.WidgetTypeahead
}

func transient(kind form.ErrorKind) bool {
	return kind.Stale() || kind == form.ErrVerificationMismatch || kind == form.ErrOracleTimeout
}

func (c *Coordinator) terminate(ac *form.ActionContext, t *track, reason string) Decision {
	c.mu.Lock()
	t.phase = PhaseTerminalFailed
	c.summary.TerminalFailures++
	c.mu.Unlock()
	debugLog.Infof("Field %s terminally failed: %s", ac.Field.ID, reason)
	return Decision{Terminal: true, Reason: reason}
}

// Abandon finishes ac without a further attempt, for example when the run
// ends before a deferred retry could execute.
func (c *Coordinator) Abandon(ac *form.ActionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.track(ac)
	if !t.phase.Terminal() {
		t.phase = PhaseTerminalFailed
	}
}

// Summary returns the recovery counters. OracleCalls is left to the caller,
// which owns the oracle.
func (c *Coordinator) Summary() form.RecoverySummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

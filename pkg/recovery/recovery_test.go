package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/match"
	"github.com/entrhq/formforge/pkg/oracle"
	"github.com/entrhq/formforge/pkg/strategy"
)

type stubPlanner struct {
	alts     []form.Strategy
	consult  form.Strategy
	err      error
	consults int
	history  []oracle.Failure
}

func (p *stubPlanner) Alternatives(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, tried []form.Strategy) []form.Strategy {
	var out []form.Strategy
	for _, a := range p.alts {
		used := false
		for _, t := range tried {
			if t.Same(a) {
				used = true
			}
		}
		if !used {
			out = append(out, a)
		}
	}
	return out
}

func (p *stubPlanner) Consult(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, history []oracle.Failure) (form.Strategy, error) {
	p.consults++
	p.history = history
	return p.consult, p.err
}

type recordingInvalidator struct {
	refs []form.ElementRef
}

func (r *recordingInvalidator) InvalidateRef(ref form.ElementRef) {
	r.refs = append(r.refs, ref)
}

// attempt simulates a handler run: it charges an attempt and fails with kind.
func attempt(c *Coordinator, ac *form.ActionContext, kind form.ErrorKind) form.ExecutionResult {
	if !c.Executing(ac) {
		panic("executing a terminal context")
	}
	ac.BeginAttempt()
	res := form.Failed(ac, form.NewFieldError(kind, ac.Field.ID, "simulated"))
	c.Observe(ac, res)
	return res
}

func textContext() *form.ActionContext {
	f := &form.FieldDescriptor{ID: "first_name", Selector: "#first_name", Widget: form.WidgetText}
	return form.NewActionContext(f, form.ProfileValue{Key: "first_name", Value: "Ada"},
		form.Strategy{Method: form.MethodDirectFill, Target: "Ada", Confidence: 1, Source: form.SourceRule})
}

func TestThreeMismatchesTerminate(t *testing.T) {
	sel := strategy.New(match.New(match.DefaultThreshold))
	c := New(sel, nil, DefaultConfig())
	ac := textContext()
	ctx := context.Background()

	var decisions []Decision
	for ac.Attempts() < 10 {
		res := attempt(c, ac, form.ErrVerificationMismatch)
		d := c.Recover(ctx, ac, res)
		decisions = append(decisions, d)
		if d.Terminal {
			break
		}
		assert.False(t, d.Defer)
	}

	require.Len(t, decisions, 3)
	assert.Equal(t, 3, ac.Attempts())
	assert.Equal(t, strategy.VariantKeystrokes, decisions[0].Strategy.Variant)
	assert.Equal(t, "transient VerificationMismatch", decisions[1].Reason)
	assert.True(t, decisions[2].Terminal)
	assert.Equal(t, PhaseTerminalFailed, c.Phase(ac))
	assert.False(t, c.Executing(ac))

	sum := c.Summary()
	assert.Equal(t, 2, sum.Recoveries)
	assert.Equal(t, 1, sum.TerminalFailures)
}

func TestNonRetryableIsTerminalWithoutRecovery(t *testing.T) {
	for _, kind := range []form.ErrorKind{form.ErrAmbiguousElement, form.ErrAttachmentInvalid, form.ErrMissingProfileValue, form.ErrInternal} {
		t.Run(string(kind), func(t *testing.T) {
			p := &stubPlanner{alts: []form.Strategy{{Method: form.MethodClick, Target: "x"}}}
			c := New(p, nil, DefaultConfig())
			ac := textContext()

			d := c.Recover(context.Background(), ac, attempt(c, ac, kind))
			assert.True(t, d.Terminal)
			assert.Zero(t, c.Summary().Recoveries)
			assert.Zero(t, p.consults)
			assert.Equal(t, 1, ac.Attempts())
		})
	}
}

func TestAttemptsNeverExceedBound(t *testing.T) {
	kinds := []form.ErrorKind{form.ErrElementNotFound, form.ErrActionTimeout, form.ErrVerificationMismatch, form.ErrOracleTimeout}
	for _, cfg := range []Config{DefaultConfig(), {MaxRecoveries: 5, MaxAttempts: 3}, {MaxRecoveries: 1, MaxAttempts: 5}} {
		for _, kind := range kinds {
			c := New(&stubPlanner{}, nil, cfg)
			ac := textContext()
			for i := 0; i < 20; i++ {
				if c.Recover(context.Background(), ac, attempt(c, ac, kind)).Terminal {
					break
				}
			}
			assert.LessOrEqual(t, ac.Attempts(), cfg.MaxAttempts)
			assert.LessOrEqual(t, ac.Attempts(), cfg.MaxRecoveries+1)
		}
	}
}

func TestStaleErrorsInvalidateAndDefer(t *testing.T) {
	inv := &recordingInvalidator{}
	c := New(&stubPlanner{}, inv, DefaultConfig())
	ac := textContext()

	d := c.Recover(context.Background(), ac, attempt(c, ac, form.ErrElementNotFound))
	require.True(t, d.Retry)
	assert.True(t, d.Defer)
	assert.Equal(t, form.SourceRetry, d.Strategy.Source)
	assert.Equal(t, []form.ElementRef{ac.Field.Ref()}, inv.refs)
	assert.Equal(t, 1, c.Summary().DeferredRetries)
	assert.Equal(t, PhaseRecovering, c.Phase(ac))

	cfg := DefaultConfig()
	cfg.DeferStale = false
	c = New(&stubPlanner{}, nil, cfg)
	ac = textContext()
	d = c.Recover(context.Background(), ac, attempt(c, ac, form.ErrActionTimeout))
	assert.True(t, d.Retry)
	assert.False(t, d.Defer)
}

func TestOracleConsultedOnceAfterAlternatives(t *testing.T) {
	f := &form.FieldDescriptor{ID: "degree", Selector: "#degree", Widget: form.WidgetSelect,
		Options: form.NewOptionSet([]string{"BS", "MS", "PhD"})}
	p := &stubPlanner{
		alts:    []form.Strategy{{Method: form.MethodSemantic, Target: "MS", Confidence: 0.75}},
		consult: form.Strategy{Method: form.MethodSemantic, Target: "PhD", Confidence: 0.9, Source: form.SourceOracle},
	}
	c := New(p, nil, Config{MaxRecoveries: 4, MaxAttempts: 5, ConsultOracle: true})
	ac := form.NewActionContext(f, form.ProfileValue{Value: "Masters"},
		form.Strategy{Method: form.MethodSemantic, Target: "BS", Confidence: 0.72})
	ctx := context.Background()

	d := c.Recover(ctx, ac, attempt(c, ac, form.ErrNoConfidentMatch))
	require.True(t, d.Retry)
	assert.Equal(t, "MS", d.Strategy.Target)
	assert.Zero(t, p.consults)

	d = c.Recover(ctx, ac, attempt(c, ac, form.ErrNoConfidentMatch))
	require.True(t, d.Retry)
	assert.Equal(t, "PhD", d.Strategy.Target)
	assert.Equal(t, 1, p.consults)
	require.Len(t, p.history, 2)
	assert.Equal(t, "BS", p.history[0].Target)
	assert.Equal(t, form.ErrNoConfidentMatch, p.history[1].Kind)

	d = c.Recover(ctx, ac, attempt(c, ac, form.ErrNoConfidentMatch))
	assert.True(t, d.Terminal)
	assert.Equal(t, 1, p.consults)
}

func TestOracleFailureFallsThrough(t *testing.T) {
	f := &form.FieldDescriptor{ID: "school", Selector: "#school", Widget: form.WidgetTypeahead}
	p := &stubPlanner{err: errors.New("declined")}
	c := New(p, nil, DefaultConfig())
	ac := form.NewActionContext(f, form.ProfileValue{Value: "MIT"},
		form.Strategy{Method: form.MethodTypeaheadPick, Target: "MIT", Variant: strategy.VariantPrefix})

	d := c.Recover(context.Background(), ac, attempt(c, ac, form.ErrNoConfidentMatch))
	assert.True(t, d.Terminal)
	assert.Equal(t, 1, p.consults)
}

func TestOracleDisabledForTextFields(t *testing.T) {
	p := &stubPlanner{consult: form.Strategy{Method: form.MethodDirectFill, Target: "Ada L."}}
	c := New(p, nil, DefaultConfig())
	ac := textContext()

	d := c.Recover(context.Background(), ac, attempt(c, ac, form.ErrNoConfidentMatch))
	assert.True(t, d.Terminal)
	assert.Zero(t, p.consults)
}

func TestSuccessFinishesContext(t *testing.T) {
	c := New(nil, nil, DefaultConfig())
	ac := textContext()
	assert.Equal(t, PhasePending, c.Phase(ac))
	require.True(t, c.Executing(ac))
	ac.BeginAttempt()
	c.Observe(ac, form.NewResult(ac, form.OutcomeSuccess))
	assert.Equal(t, PhaseSucceeded, c.Phase(ac))
	assert.False(t, c.Executing(ac))

	other := textContext()
	c.Abandon(other)
	assert.Equal(t, PhaseTerminalFailed, c.Phase(other))
}

func TestRetrySelection(t *testing.T) {
	c := New(&stubPlanner{}, nil, DefaultConfig())

	assert.True(t, c.RetrySelection("color", form.ErrOracleTimeout, 0))
	assert.True(t, c.RetrySelection("color", form.ErrOracleTimeout, 1))
	assert.False(t, c.RetrySelection("color", form.ErrOracleTimeout, 2), "bounded by max recoveries")
	assert.Equal(t, 2, c.Summary().Recoveries)

	for _, kind := range []form.ErrorKind{form.ErrNoConfidentMatch, form.ErrOracleMalformedResponse, form.ErrElementNotFound, form.ErrVerificationMismatch, form.ErrInternal} {
		assert.False(t, c.RetrySelection("color", kind, 0), string(kind))
	}
	assert.Equal(t, 2, c.Summary().Recoveries)
}

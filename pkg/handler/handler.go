// Package handler executes strategies against the page, one handler per
// widget type, and verifies every action by reading the control back.
// Handlers never retry; the recovery coordinator decides what happens after
// a failure.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/entrhq/formforge/pkg/match"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("handler")
	if err != nil {
		debugLog.Warnf("Failed to initialize handler logger, using stderr fallback: %v", err)
	}
}

// Handler drives one widget type.
type Handler interface {
	// Execute performs ac.Strategy and verifies the result. The returned
	// error is non-nil only for run-level failures such as a lost browser
	// session; field failures are reported in the result.
	Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error)
	// Verify reports whether the control currently holds what ac asks for.
	// It only reads, so repeated calls on an unchanged control agree.
	Verify(ctx context.Context, ac *form.ActionContext) (bool, error)
}

// Resolver turns element references into handles. *locator.Locator
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, ref form.ElementRef) (driver.Handle, error)
}

// Config bounds handler waits.
type Config struct {
	// ActionTimeout bounds one Execute call, resolution included.
	ActionTimeout time.Duration
	// VerifyTimeout bounds how long a post-condition may take to appear.
	VerifyTimeout time.Duration
	// PollInterval is the delay between post-condition reads.
	PollInterval time.Duration
	// SettleWait bounds how long rendered options may take to appear.
	SettleWait time.Duration
	// PrefixLength is the number of characters typed by a prefix strategy.
	PrefixLength int
	// ConfirmSelectors are looked up after a click; any match counts as the
	// expected state transition.
	ConfirmSelectors []string
}

// DefaultConfig returns the default waits.
func DefaultConfig() Config {
	return Config{
		ActionTimeout: 15 * time.Second,
		VerifyTimeout: 3 * time.Second,
		PollInterval:  100 * time.Millisecond,
		SettleWait:    2 * time.Second,
		PrefixLength:  3,
		ConfirmSelectors: []string{
			"[data-testid=confirmation]",
			".application-confirmation",
			"#application_confirmation",
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = def.VerifyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.SettleWait <= 0 {
		c.SettleWait = def.SettleWait
	}
	if c.PrefixLength <= 0 {
		c.PrefixLength = def.PrefixLength
	}
	return c
}

// Registry maps every widget type to exactly one handler.
type Registry struct {
	handlers map[form.WidgetType]Handler
}

// NewRegistry builds the standard handler set over drv.
func NewRegistry(drv driver.Driver, res Resolver, m *match.Matcher, cfg Config) *Registry {
	b := &base{drv: drv, res: res, matcher: m, cfg: cfg.withDefaults()}
	return &Registry{handlers: map[form.WidgetType]Handler{
		form.WidgetText:          &TextHandler{b},
		form.WidgetSelect:        &SelectHandler{b},
		form.WidgetTypeahead:     &TypeaheadHandler{b},
		form.WidgetCheckboxGroup: &CheckboxHandler{b},
		form.WidgetClick:         &ClickHandler{b},
		form.WidgetFile:          &FileHandler{b},
	}}
}

// For returns the handler of widget.
func (r *Registry) For(widget form.WidgetType) (Handler, error) {
	h, ok := r.handlers[widget]
	if !ok {
		return nil, fmt.Errorf("no handler for widget type %q", widget)
	}
	return h, nil
}

// Execute dispatches ac to the handler of its field's widget.
func (r *Registry) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	h, err := r.For(ac.Field.Widget)
	if err != nil {
		return form.Failed(ac, form.WrapFieldError(form.ErrInternal, ac.Field.ID, err)), nil
	}
	return h.Execute(ctx, ac)
}

// base holds what every handler shares.
type base struct {
	drv     driver.Driver
	res     Resolver
	matcher *match.Matcher
	cfg     Config
}

// begin charges an attempt, bounds ctx by the action timeout and resolves
// the field's element.
func (b *base) begin(ctx context.Context, ac *form.ActionContext) (context.Context, context.CancelFunc, driver.Handle, error) {
	attempt := ac.BeginAttempt()
	debugLog.Debugf("Field %s attempt %d: %s", ac.Field.ID, attempt, ac.Strategy)

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ActionTimeout)
	h, err := b.res.Resolve(ctx, ac.Field.Ref())
	if err != nil {
		cancel()
		return nil, nil, driver.Handle{}, err
	}
	return ctx, cancel, h, nil
}

// fail turns an action error into a failed result. Session loss is also
// returned as the run-level error.
func (b *base) fail(ctx context.Context, ac *form.ActionContext, err error) (form.ExecutionResult, error) {
	if errors.Is(err, driver.ErrSessionLost) {
		return form.Failed(ac, form.WrapFieldError(form.ErrRunAborted, ac.Field.ID, err)), err
	}
	fe := classify(ctx, ac.Field.ID, err)
	debugLog.Infof("Field %s attempt %d failed: %v", ac.Field.ID, ac.Attempts(), fe)
	return form.Failed(ac, fe), nil
}

// classify maps driver and context errors onto the error taxonomy.
func classify(ctx context.Context, fieldID string, err error) *form.FieldError {
	var fe *form.FieldError
	if errors.As(err, &fe) {
		if fe.FieldID == "" {
			stamped := *fe
			stamped.FieldID = fieldID
			return &stamped
		}
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return form.WrapFieldError(form.ErrActionTimeout, fieldID, err)
	case errors.Is(err, driver.ErrDetached), errors.Is(err, driver.ErrFrameNotFound):
		return form.WrapFieldError(form.ErrElementNotFound, fieldID, err)
	case errors.Is(err, driver.ErrOptionNotFound):
		return form.WrapFieldError(form.ErrNoConfidentMatch, fieldID, err)
	}
	// Anything else the driver reports is an interaction that did not take;
	// it is retried like a stale element.
	return form.WrapFieldError(form.ErrActionTimeout, fieldID, err)
}

// finish verifies after a successful action.
func (b *base) finish(ctx context.Context, ac *form.ActionContext, verify func(context.Context) (bool, error)) (form.ExecutionResult, error) {
	ok, err := verify(ctx)
	if err != nil {
		return b.fail(ctx, ac, err)
	}
	if !ok {
		return b.fail(ctx, ac, form.NewFieldError(form.ErrVerificationMismatch, ac.Field.ID,
			"control does not reflect %s after %s", ac.Strategy, b.cfg.VerifyTimeout))
	}
	debugLog.Debugf("Field %s verified after %s", ac.Field.ID, ac.Strategy.Method)
	return form.NewResult(ac, form.OutcomeSuccess), nil
}

// verifyState polls the element's state until check passes or the verify
// timeout elapses.
func (b *base) verifyState(ctx context.Context, ac *form.ActionContext, check func(driver.State) bool) (bool, error) {
	h, err := b.res.Resolve(ctx, ac.Field.Ref())
	if err != nil {
		return false, err
	}
	return driver.Poll(ctx, b.cfg.PollInterval, b.cfg.VerifyTimeout, func(ctx context.Context) (bool, error) {
		st, err := b.drv.ReadState(ctx, h)
		if err != nil {
			return false, err
		}
		return check(st), nil
	})
}

func sameText(a, b string) bool {
	return match.Normalize(a) == match.Normalize(b)
}

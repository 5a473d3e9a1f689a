package handler

import (
	"context"
	"errors"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/match"
)

var negatives = map[string]bool{
	"no": true, "n": true, "false": true, "0": true, "off": true, "unchecked": true, "decline": true,
}

// wantChecked reports the checked state a checkbox or radio should end in.
func wantChecked(ac *form.ActionContext) bool {
	return !negatives[match.Normalize(ac.Value.Text())]
}

// CheckboxHandler sets a checkbox or radio to the state the profile value
// asks for. A control already in that state is left alone.
type CheckboxHandler struct{ *base }

// Execute implements Handler.
func (c *CheckboxHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	actx, cancel, h, err := c.begin(ctx, ac)
	if err != nil {
		return c.fail(ctx, ac, err)
	}
	defer cancel()

	st, err := c.drv.ReadState(actx, h)
	if err != nil {
		return c.fail(actx, ac, err)
	}
	if st.Checked != wantChecked(ac) {
		if err := c.drv.Click(actx, h); err != nil {
			return c.fail(actx, ac, err)
		}
	}
	return c.finish(actx, ac, func(ctx context.Context) (bool, error) { return c.Verify(ctx, ac) })
}

// Verify implements Handler.
func (c *CheckboxHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	want := wantChecked(ac)
	return c.verifyState(ctx, ac, func(st driver.State) bool {
		return st.Checked == want
	})
}

// ClickHandler presses buttons. A click is verified by a state transition:
// the control leaves the page or becomes disabled, or a confirmation
// element appears.
type ClickHandler struct{ *base }

// Execute implements Handler. Results of clicks that removed the control
// are marked Navigated so cached handles get invalidated.
func (c *ClickHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	actx, cancel, h, err := c.begin(ctx, ac)
	if err != nil {
		return c.fail(ctx, ac, err)
	}
	defer cancel()

	if err := c.drv.Click(actx, h); err != nil {
		return c.fail(actx, ac, err)
	}

	var navigated bool
	res, err := c.finish(actx, ac, func(ctx context.Context) (bool, error) {
		ok, gone, err := c.transitioned(ctx, ac, h)
		navigated = gone
		return ok, err
	})
	res.Navigated = navigated
	return res, err
}

// Verify implements Handler.
func (c *ClickHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	h, err := c.res.Resolve(ctx, ac.Field.Ref())
	if err != nil {
		if form.IsKind(err, form.ErrElementNotFound) {
			// The control is gone, which is the transition.
			return true, nil
		}
		return false, err
	}
	ok, _, err := c.transitioned(ctx, ac, h)
	return ok, err
}

func (c *ClickHandler) transitioned(ctx context.Context, ac *form.ActionContext, h driver.Handle) (ok, gone bool, err error) {
	ok, err = driver.Poll(ctx, c.cfg.PollInterval, c.cfg.VerifyTimeout, func(ctx context.Context) (bool, error) {
		if !c.drv.Alive(ctx, h) {
			gone = true
			return true, nil
		}
		st, err := c.drv.ReadState(ctx, h)
		switch {
		case errors.Is(err, driver.ErrDetached):
			gone = true
			return true, nil
		case err != nil:
			return false, err
		case st.Disabled:
			return true, nil
		}
		for _, sel := range c.cfg.ConfirmSelectors {
			found, err := c.drv.Find(ctx, ac.Field.Frame, sel)
			if err != nil && errors.Is(err, driver.ErrSessionLost) {
				return false, err
			}
			if len(found) > 0 {
				return true, nil
			}
		}
		return false, nil
	})
	return ok, gone, err
}

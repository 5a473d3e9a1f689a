package handler

import (
	"context"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/strategy"
)

// TextHandler fills free-text inputs and textareas.
type TextHandler struct{ *base }

// Execute implements Handler.
func (t *TextHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	actx, cancel, h, err := t.begin(ctx, ac)
	if err != nil {
		return t.fail(ctx, ac, err)
	}
	defer cancel()

	if ac.Strategy.Variant == strategy.VariantKeystrokes {
		if err := t.drv.SetValue(actx, h, ""); err != nil {
			return t.fail(actx, ac, err)
		}
		err = t.drv.TypeText(actx, h, ac.Strategy.Target)
	} else {
		err = t.drv.SetValue(actx, h, ac.Strategy.Target)
	}
	if err != nil {
		return t.fail(actx, ac, err)
	}
	return t.finish(actx, ac, func(ctx context.Context) (bool, error) { return t.Verify(ctx, ac) })
}

// Verify implements Handler. The normalized value must equal the target.
func (t *TextHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	return t.verifyState(ctx, ac, func(st driver.State) bool {
		return sameText(st.Value, ac.Strategy.Target)
	})
}

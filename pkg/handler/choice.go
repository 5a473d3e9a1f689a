package handler

import (
	"context"
	"strings"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/match"
	"github.com/entrhq/formforge/pkg/strategy"
)

// SelectHandler chooses an option of a closed list. Native selects are set
// directly; scripted dropdowns (lazy option sets) are opened and the
// rendered option is clicked.
type SelectHandler struct{ *base }

// Execute implements Handler.
func (s *SelectHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	actx, cancel, h, err := s.begin(ctx, ac)
	if err != nil {
		return s.fail(ctx, ac, err)
	}
	defer cancel()

	target := ac.Strategy.Target
	if ac.Field.Options != nil && ac.Field.Options.Lazy() {
		err = s.pickRendered(actx, h, target)
	} else {
		err = s.drv.Select(actx, h, target)
	}
	if err != nil {
		return s.fail(actx, ac, err)
	}
	return s.finish(actx, ac, func(ctx context.Context) (bool, error) { return s.Verify(ctx, ac) })
}

func (s *SelectHandler) pickRendered(ctx context.Context, h driver.Handle, label string) error {
	st, err := s.drv.ReadState(ctx, h)
	if err != nil {
		return err
	}
	if !st.Expanded {
		if err := s.drv.Click(ctx, h); err != nil {
			return err
		}
	}

	var found string
	ok, err := driver.Poll(ctx, s.cfg.PollInterval, s.cfg.SettleWait, func(ctx context.Context) (bool, error) {
		rendered, err := s.drv.RenderedOptions(ctx, h)
		if err != nil {
			return false, err
		}
		for _, r := range rendered {
			if strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(label)) {
				found = r
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return form.NewFieldError(form.ErrNoConfidentMatch, "", "option %q was not rendered within %s", label, s.cfg.SettleWait)
	}
	return s.drv.PickOption(ctx, h, found)
}

// Verify implements Handler. The selected label must equal the target.
func (s *SelectHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	return s.verifyState(ctx, ac, func(st driver.State) bool {
		if st.SelectedLabel != "" {
			return sameText(st.SelectedLabel, ac.Strategy.Target)
		}
		return sameText(st.Value, ac.Strategy.Target)
	})
}

// TypeaheadHandler types into an autocomplete input, waits for live
// suggestions and picks the best one above the match threshold.
type TypeaheadHandler struct{ *base }

// Execute implements Handler.
func (t *TypeaheadHandler) Execute(ctx context.Context, ac *form.ActionContext) (form.ExecutionResult, error) {
	actx, cancel, h, err := t.begin(ctx, ac)
	if err != nil {
		return t.fail(ctx, ac, err)
	}
	defer cancel()

	typed := ac.Strategy.Target
	if ac.Strategy.Variant == strategy.VariantPrefix {
		typed = prefix(typed, t.cfg.PrefixLength)
	}
	if err := t.drv.SetValue(actx, h, ""); err != nil {
		return t.fail(actx, ac, err)
	}
	if err := t.drv.TypeText(actx, h, typed); err != nil {
		return t.fail(actx, ac, err)
	}

	var rendered []string
	_, err = driver.Poll(actx, t.cfg.PollInterval, t.cfg.SettleWait, func(ctx context.Context) (bool, error) {
		opts, err := t.drv.RenderedOptions(ctx, h)
		if err != nil {
			return false, err
		}
		rendered = opts
		return len(opts) > 0, nil
	})
	if err != nil {
		return t.fail(actx, ac, err)
	}
	if len(rendered) == 0 {
		return t.fail(actx, ac, form.NewFieldError(form.ErrNoConfidentMatch, ac.Field.ID, "no suggestions rendered after typing %q", typed))
	}

	pick, ok := t.best(ac, rendered)
	if !ok {
		return t.fail(actx, ac, form.NewFieldError(form.ErrNoConfidentMatch, ac.Field.ID,
			"none of %d suggestions matches %q above %.2f", len(rendered), ac.Value.Text(), t.matcher.Threshold()))
	}
	debugLog.Debugf("Field %s: picking suggestion %q (%.2f)", ac.Field.ID, pick.Label, pick.Score)
	if err := t.drv.PickOption(actx, h, pick.Label); err != nil {
		return t.fail(actx, ac, err)
	}
	return t.finish(actx, ac, func(ctx context.Context) (bool, error) { return t.Verify(ctx, ac) })
}

// best matches the rendered suggestions against the desired value and, for
// alias strategies, the typed alias.
func (t *TypeaheadHandler) best(ac *form.ActionContext, rendered []string) (match.Match, bool) {
	var out match.Match
	found := false
	for _, want := range t.wants(ac) {
		if m, ok := t.matcher.BestMatchFor(want, ac.Field.Purpose, rendered); ok && (!found || m.Score > out.Score) {
			out = m
			found = true
		}
	}
	return out, found
}

func (t *TypeaheadHandler) wants(ac *form.ActionContext) []string {
	wants := []string{ac.Value.Text()}
	if ac.Strategy.Target != "" && !sameText(ac.Strategy.Target, ac.Value.Text()) {
		wants = append(wants, ac.Strategy.Target)
	}
	return wants
}

// Verify implements Handler. The committed value must match the desired
// value above the threshold.
func (t *TypeaheadHandler) Verify(ctx context.Context, ac *form.ActionContext) (bool, error) {
	return t.verifyState(ctx, ac, func(st driver.State) bool {
		current := st.SelectedLabel
		if current == "" {
			current = st.Value
		}
		if strings.TrimSpace(current) == "" {
			return false
		}
		_, ok := t.best(ac, []string{current})
		return ok
	})
}

func prefix(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

package pwdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/playwright-community/playwright-go"
)

const optionSelector = `[role="option"], [role="listbox"] li, .autocomplete-suggestion, .select2-results__option`

const readStateJS = `(el) => {
  const tag = el.tagName.toLowerCase();
  const rect = el.getBoundingClientRect();
  const st = {
    value: '',
    selectedLabel: '',
    files: [],
    checked: !!el.checked || el.getAttribute('aria-checked') === 'true',
    disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
    visible: rect.width > 0 && rect.height > 0,
    expanded: el.getAttribute('aria-expanded') === 'true',
  };
  if (tag === 'select') {
    const opt = el.options[el.selectedIndex];
    st.selectedLabel = opt ? (opt.label || opt.text).trim() : '';
    st.value = el.value;
  } else if ('value' in el && tag !== 'button') {
    st.value = el.value;
  } else {
    st.value = (el.innerText || '').trim();
  }
  if (el.files) st.files = Array.from(el.files).map(f => f.name);
  if (!st.selectedLabel && el.getAttribute('role') === 'combobox') {
    st.selectedLabel = (el.value || el.innerText || '').trim();
  }
  return st;
}`

// Driver drives one playwright page.
type Driver struct {
	page    playwright.Page
	timeout time.Duration
}

// New wraps an existing page.
func New(page playwright.Page, timeout time.Duration) *Driver {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Driver{page: page, timeout: timeout}
}

// timeoutMS converts the remaining ctx budget into playwright's millisecond
// timeout, capped at the driver default.
func (d *Driver) timeoutMS(ctx context.Context) *float64 {
	budget := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	if budget < time.Millisecond {
		budget = time.Millisecond
	}
	ms := float64(budget.Milliseconds())
	return &ms
}

// mapError normalizes playwright errors onto the driver sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", driver.ErrSessionLost, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func frameID(f playwright.Frame, index int) string {
	if name := f.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("frame-%d", index)
}

func (d *Driver) frame(path form.FramePath) (playwright.Frame, error) {
	cur := d.page.MainFrame()
	for _, seg := range path.Segments() {
		var next playwright.Frame
		for i, child := range cur.ChildFrames() {
			if frameID(child, i) == seg {
				next = child
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", driver.ErrFrameNotFound, path)
		}
		cur = next
	}
	return cur, nil
}

func locator(h driver.Handle) (playwright.Locator, error) {
	loc, ok := h.Ref.(playwright.Locator)
	if !ok || loc == nil {
		return nil, fmt.Errorf("pwdriver: foreign handle %T", h.Ref)
	}
	return loc, nil
}

var identifyingAttrs = []string{"id", "name", "data-testid", "aria-label"}

// Find implements driver.Driver.
func (d *Driver) Find(ctx context.Context, path form.FramePath, selector string) ([]driver.Handle, error) {
	f, err := d.frame(path)
	if err != nil {
		return nil, err
	}
	matches, err := f.Locator(selector).All()
	if err != nil {
		return nil, mapError(err)
	}

	handles := make([]driver.Handle, 0, len(matches))
	for i, loc := range matches {
		attrs := make(map[string]string)
		for _, name := range identifyingAttrs {
			v, err := loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: d.timeoutMS(ctx)})
			if err == nil && v != "" {
				attrs[name] = v
			}
		}
		handles = append(handles, driver.Handle{
			Frame:    path,
			Selector: selector,
			Index:    i,
			Attrs:    attrs,
			Ref:      loc,
		})
	}
	return handles, nil
}

// ChildFrames implements driver.Driver.
func (d *Driver) ChildFrames(ctx context.Context, path form.FramePath) ([]string, error) {
	f, err := d.frame(path)
	if err != nil {
		return nil, err
	}
	children := f.ChildFrames()
	ids := make([]string, 0, len(children))
	for i, child := range children {
		if child.IsDetached() {
			continue
		}
		ids = append(ids, frameID(child, i))
	}
	return ids, nil
}

// Alive implements driver.Driver.
func (d *Driver) Alive(ctx context.Context, h driver.Handle) bool {
	loc, err := locator(h)
	if err != nil {
		return false
	}
	n, err := loc.Count()
	return err == nil && n == 1
}

// ReadState implements driver.Driver.
func (d *Driver) ReadState(ctx context.Context, h driver.Handle) (driver.State, error) {
	loc, err := locator(h)
	if err != nil {
		return driver.State{}, err
	}
	raw, err := loc.Evaluate(readStateJS, nil, playwright.LocatorEvaluateOptions{Timeout: d.timeoutMS(ctx)})
	if err != nil {
		return driver.State{}, mapError(err)
	}
	var st driver.State
	if err := remarshal(raw, &st); err != nil {
		return driver.State{}, fmt.Errorf("decode element state: %w", err)
	}
	return st, nil
}

// SetValue implements driver.Driver.
func (d *Driver) SetValue(ctx context.Context, h driver.Handle, value string) error {
	loc, err := locator(h)
	if err != nil {
		return err
	}
	return mapError(loc.Fill(value, playwright.LocatorFillOptions{Timeout: d.timeoutMS(ctx)}))
}

// TypeText implements driver.Driver. The field is cleared first and the text
// is typed key by key so that autocomplete listeners fire.
func (d *Driver) TypeText(ctx context.Context, h driver.Handle, text string) error {
	loc, err := locator(h)
	if err != nil {
		return err
	}
	if err := loc.Fill("", playwright.LocatorFillOptions{Timeout: d.timeoutMS(ctx)}); err != nil {
		return mapError(err)
	}
	delay := 40.0
	return mapError(loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay:   &delay,
		Timeout: d.timeoutMS(ctx),
	}))
}

// Select implements driver.Driver.
func (d *Driver) Select(ctx context.Context, h driver.Handle, label string) error {
	loc, err := locator(h)
	if err != nil {
		return err
	}
	selected, err := loc.SelectOption(
		playwright.SelectOptionValues{Labels: &[]string{label}},
		playwright.LocatorSelectOptionOptions{Timeout: d.timeoutMS(ctx)},
	)
	if err != nil {
		return mapError(err)
	}
	if len(selected) == 0 {
		return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
	}
	return nil
}

// Click implements driver.Driver.
func (d *Driver) Click(ctx context.Context, h driver.Handle) error {
	loc, err := locator(h)
	if err != nil {
		return err
	}
	return mapError(loc.Click(playwright.LocatorClickOptions{Timeout: d.timeoutMS(ctx)}))
}

// Upload implements driver.Driver.
func (d *Driver) Upload(ctx context.Context, h driver.Handle, path string) error {
	loc, err := locator(h)
	if err != nil {
		return err
	}
	return mapError(loc.SetInputFiles(path, playwright.LocatorSetInputFilesOptions{Timeout: d.timeoutMS(ctx)}))
}

func (d *Driver) visibleOptions(ctx context.Context, h driver.Handle) ([]playwright.Locator, []string, error) {
	f, err := d.frame(h.Frame)
	if err != nil {
		return nil, nil, err
	}
	all, err := f.Locator(optionSelector).All()
	if err != nil {
		return nil, nil, mapError(err)
	}
	var locs []playwright.Locator
	var labels []string
	for _, loc := range all {
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: d.timeoutMS(ctx)})
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		locs = append(locs, loc)
		labels = append(labels, text)
	}
	return locs, labels, nil
}

// RenderedOptions implements driver.Driver.
func (d *Driver) RenderedOptions(ctx context.Context, h driver.Handle) ([]string, error) {
	_, labels, err := d.visibleOptions(ctx, h)
	return labels, err
}

// PickOption implements driver.Driver.
func (d *Driver) PickOption(ctx context.Context, h driver.Handle, label string) error {
	locs, labels, err := d.visibleOptions(ctx, h)
	if err != nil {
		return err
	}
	for i, l := range labels {
		if l == label {
			return mapError(locs[i].Click(playwright.LocatorClickOptions{Timeout: d.timeoutMS(ctx)}))
		}
	}
	return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
}

func remarshal(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Scanner = (*Driver)(nil)
)

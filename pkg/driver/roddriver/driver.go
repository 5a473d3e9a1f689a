// Package roddriver implements driver.Driver and driver.Scanner with go-rod,
// either attaching to a running Chrome through its debugger URL or
// launching one.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("roddriver")
	if err != nil {
		debugLog.Warnf("Failed to initialize roddriver logger, using stderr fallback: %v", err)
	}
}

const optionSelector = `[role="option"], [role="listbox"] li, .autocomplete-suggestion, .select2-results__option`

const readStateJS = `() => {
  const el = this;
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

// Options configures how the browser is reached.
type Options struct {
	// DebuggerURL attaches to an existing Chrome when set.
	DebuggerURL string
	Headless    bool
	Timeout     time.Duration
}

// Driver drives one rod page.
type Driver struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
	owned   bool
}

// Connect attaches to or launches Chrome and opens a blank page.
func Connect(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	controlURL := opts.DebuggerURL
	owned := false
	if controlURL == "" {
		u, err := launcher.New().Headless(opts.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		owned = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	debugLog.Infof("Browser connected at %s", controlURL)
	return &Driver{browser: browser, page: page, timeout: opts.Timeout, owned: owned}, nil
}

// Navigate loads url and waits for the load event.
func (d *Driver) Navigate(url string, timeout time.Duration) error {
	page := d.page.Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

// Close closes the page, and the browser when this driver launched it.
func (d *Driver) Close() error {
	_ = d.page.Close()
	if d.owned {
		return d.browser.Close()
	}
	return nil
}

// bound applies the driver timeout when ctx carries no deadline.
func (d *Driver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var nf *rod.ElementNotFoundError
	switch {
	case errors.As(err, &nf):
		return fmt.Errorf("%w: %v", driver.ErrDetached, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case strings.Contains(err.Error(), "use of closed network connection"):
		return fmt.Errorf("%w: %v", driver.ErrSessionLost, err)
	}
	return err
}

func frameID(el *rod.Element, index int) string {
	if name, err := el.Attribute("name"); err == nil && name != nil && *name != "" {
		return *name
	}
	if id, err := el.Attribute("id"); err == nil && id != nil && *id != "" {
		return *id
	}
	return fmt.Sprintf("frame-%d", index)
}

func (d *Driver) frame(ctx context.Context, path form.FramePath) (*rod.Page, error) {
	cur := d.page.Context(ctx)
	for _, seg := range path.Segments() {
		iframes, err := cur.Elements("iframe")
		if err != nil {
			return nil, mapError(err)
		}
		var next *rod.Page
		for i, el := range iframes {
			if frameID(el, i) != seg {
				continue
			}
			next, err = el.Frame()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", driver.ErrFrameNotFound, path, err)
			}
			break
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", driver.ErrFrameNotFound, path)
		}
		cur = next.Context(ctx)
	}
	return cur, nil
}

func element(ctx context.Context, h driver.Handle) (*rod.Element, error) {
	el, ok := h.Ref.(*rod.Element)
	if !ok || el == nil {
		return nil, fmt.Errorf("roddriver: foreign handle %T", h.Ref)
	}
	return el.Context(ctx), nil
}

// Find implements driver.Driver.
func (d *Driver) Find(ctx context.Context, path form.FramePath, selector string) ([]driver.Handle, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	f, err := d.frame(ctx, path)
	if err != nil {
		return nil, err
	}
	els, err := f.Elements(selector)
	if err != nil {
		return nil, mapError(err)
	}
	handles := make([]driver.Handle, 0, len(els))
	for i, el := range els {
		attrs := make(map[string]string)
		for _, name := range []string{"id", "name", "data-testid", "aria-label"} {
			if v, err := el.Attribute(name); err == nil && v != nil && *v != "" {
				attrs[name] = *v
			}
		}
		handles = append(handles, driver.Handle{Frame: path, Selector: selector, Index: i, Attrs: attrs, Ref: el})
	}
	return handles, nil
}

// ChildFrames implements driver.Driver.
func (d *Driver) ChildFrames(ctx context.Context, path form.FramePath) ([]string, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	f, err := d.frame(ctx, path)
	if err != nil {
		return nil, err
	}
	iframes, err := f.Elements("iframe")
	if err != nil {
		return nil, mapError(err)
	}
	ids := make([]string, 0, len(iframes))
	for i, el := range iframes {
		ids = append(ids, frameID(el, i))
	}
	return ids, nil
}

// Alive implements driver.Driver.
func (d *Driver) Alive(ctx context.Context, h driver.Handle) bool {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return false
	}
	res, err := el.Eval(`() => this.isConnected`)
	return err == nil && res.Value.Bool()
}

// ReadState implements driver.Driver.
func (d *Driver) ReadState(ctx context.Context, h driver.Handle) (driver.State, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return driver.State{}, err
	}
	res, err := el.Eval(readStateJS)
	if err != nil {
		return driver.State{}, mapError(err)
	}
	var st driver.State
	if err := res.Value.Unmarshal(&st); err != nil {
		return driver.State{}, fmt.Errorf("decode element state: %w", err)
	}
	return st, nil
}

// SetValue implements driver.Driver.
func (d *Driver) SetValue(ctx context.Context, h driver.Handle, value string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return mapError(err)
	}
	return mapError(el.Input(value))
}

// TypeText implements driver.Driver.
func (d *Driver) TypeText(ctx context.Context, h driver.Handle, text string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return err
	}
	_ = el.SelectAllText()
	if err := el.Input(""); err != nil {
		return mapError(err)
	}
	return mapError(el.Input(text))
}

// Select implements driver.Driver.
func (d *Driver) Select(ctx context.Context, h driver.Handle, label string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return err
	}
	if err := el.Select([]string{label}, true, rod.SelectorTypeText); err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
		}
		return mapError(err)
	}
	return nil
}

// Click implements driver.Driver.
func (d *Driver) Click(ctx context.Context, h driver.Handle) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return err
	}
	return mapError(el.Click(proto.InputMouseButtonLeft, 1))
}

// Upload implements driver.Driver.
func (d *Driver) Upload(ctx context.Context, h driver.Handle, path string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	el, err := element(ctx, h)
	if err != nil {
		return err
	}
	return mapError(el.SetFiles([]string{path}))
}

func (d *Driver) visibleOptions(ctx context.Context, h driver.Handle) ([]*rod.Element, []string, error) {
	f, err := d.frame(ctx, h.Frame)
	if err != nil {
		return nil, nil, err
	}
	els, err := f.Elements(optionSelector)
	if err != nil {
		return nil, nil, mapError(err)
	}
	var keep []*rod.Element
	var labels []string
	for _, el := range els {
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			keep = append(keep, el)
			labels = append(labels, text)
		}
	}
	return keep, labels, nil
}

// RenderedOptions implements driver.Driver.
func (d *Driver) RenderedOptions(ctx context.Context, h driver.Handle) ([]string, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	_, labels, err := d.visibleOptions(ctx, h)
	return labels, err
}

// PickOption implements driver.Driver.
func (d *Driver) PickOption(ctx context.Context, h driver.Handle, label string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	els, labels, err := d.visibleOptions(ctx, h)
	if err != nil {
		return err
	}
	for i, l := range labels {
		if l == label {
			return mapError(els[i].Click(proto.InputMouseButtonLeft, 1))
		}
	}
	return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
}

// Scan implements driver.Scanner.
func (d *Driver) Scan(ctx context.Context, maxDepth int) ([]driver.RawElement, error) {
	type queued struct {
		path form.FramePath
		page *rod.Page
	}
	var out []driver.RawElement
	queue := []queued{{path: form.MainFrame, page: d.page.Context(ctx)}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		res, err := cur.page.Eval(driver.ScanScript)
		if err != nil {
			if cur.path == form.MainFrame {
				return nil, fmt.Errorf("scan main frame: %w", mapError(err))
			}
			debugLog.Warnf("Skipping frame %s: %v", cur.path, err)
			continue
		}
		raws, err := driver.DecodeScan(cur.path, res.Value.Val())
		if err != nil {
			return nil, err
		}
		out = append(out, raws...)

		if cur.path.Depth() >= maxDepth {
			continue
		}
		iframes, err := cur.page.Elements("iframe")
		if err != nil {
			continue
		}
		for i, el := range iframes {
			child, err := el.Frame()
			if err != nil {
				continue
			}
			queue = append(queue, queued{path: cur.path.Child(frameID(el, i)), page: child.Context(ctx)})
		}
	}
	return out, nil
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Scanner = (*Driver)(nil)
)

// Package drivertest provides an in-memory implementation of driver.Driver
// and driver.Scanner for exercising the pipeline without a browser.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
)

// Element is a fake control. Tests mutate its fields directly to script
// page behaviour.
type Element struct {
	Selectors []string
	Attrs     map[string]string

	Value    string
	Options  []string
	Selected string
	Files    []string
	Checked  bool
	Disabled bool

	// Custom marks a scripted dropdown: Select fails as on a non-native
	// control and Click toggles the rendered Options.
	Custom bool
	// Suggest produces the rendered options after text is typed.
	Suggest func(typed string) []string
	// DropWrites makes the next N writes succeed without changing state.
	DropWrites int
	// OnClick replaces the default click behaviour (toggle Checked).
	OnClick func(e *Element)
	// Hang makes every action block until ctx is done.
	Hang bool
	// Fail makes every action return this error.
	Fail error

	// Raw, when Tag is set, is reported by Scan.
	Raw driver.RawElement

	rendered []string
	detached bool
}

type frame struct {
	children []string
	elements []*Element
}

// Document is a tree of frames holding fake elements.
type Document struct {
	mu     sync.Mutex
	frames map[form.FramePath]*frame
	calls  map[string]int
	lost   bool
}

// NewDocument returns a document with an empty main frame.
func NewDocument() *Document {
	return &Document{
		frames: map[form.FramePath]*frame{form.MainFrame: {}},
		calls:  make(map[string]int),
	}
}

// AddFrame nests a frame called id under parent and returns its path.
func (d *Document) AddFrame(parent form.FramePath, id string) form.FramePath {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.frames[parent]
	p.children = append(p.children, id)
	path := parent.Child(id)
	d.frames[path] = &frame{}
	return path
}

// Add places e in the given frame.
func (d *Document) Add(path form.FramePath, e *Element) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.frames[path]
	if !ok {
		panic(fmt.Sprintf("drivertest: unknown frame %q", path))
	}
	if e.Raw.Tag != "" {
		e.Raw.Frame = path
		if e.Raw.Selector == "" && len(e.Selectors) > 0 {
			e.Raw.Selector = e.Selectors[0]
		}
	}
	f.elements = append(f.elements, e)
	return e
}

// Detach removes e from the document, invalidating handles to it.
func (d *Document) Detach(e *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.detached = true
	for _, f := range d.frames {
		for i, cur := range f.elements {
			if cur == e {
				f.elements = append(f.elements[:i], f.elements[i+1:]...)
				break
			}
		}
	}
}

// LoseSession makes every subsequent call fail with driver.ErrSessionLost.
func (d *Document) LoseSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Calls returns how many times the named operation ran.
func (d *Document) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *Document) enter(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
	if d.lost {
		return driver.ErrSessionLost
	}
	return nil
}

func (d *Document) element(ctx context.Context, op string, h driver.Handle) (*Element, error) {
	if err := d.enter(op); err != nil {
		return nil, err
	}
	e, ok := h.Ref.(*Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("drivertest: foreign handle %T", h.Ref)
	}
	if e.detached {
		return nil, driver.ErrDetached
	}
	if e.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.Fail != nil {
		return nil, e.Fail
	}
	return e, nil
}

func (e *Element) matches(selector string) bool {
	for _, s := range e.Selectors {
		if s == selector {
			return true
		}
	}
	return false
}

func (e *Element) dropWrite() bool {
	if e.DropWrites > 0 {
		e.DropWrites--
		return true
	}
	return false
}

// Find implements driver.Driver.
func (d *Document) Find(ctx context.Context, path form.FramePath, selector string) ([]driver.Handle, error) {
	if err := d.enter("find"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.frames[path]
	if !ok {
		return nil, driver.ErrFrameNotFound
	}
	var handles []driver.Handle
	for _, e := range f.elements {
		if !e.matches(selector) {
			continue
		}
		attrs := make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			attrs[k] = v
		}
		handles = append(handles, driver.Handle{
			Frame:    path,
			Selector: selector,
			Index:    len(handles),
			Attrs:    attrs,
			Ref:      e,
		})
	}
	return handles, nil
}

// ChildFrames implements driver.Driver.
func (d *Document) ChildFrames(ctx context.Context, path form.FramePath) ([]string, error) {
	if err := d.enter("child_frames"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.frames[path]
	if !ok {
		return nil, driver.ErrFrameNotFound
	}
	return append([]string(nil), f.children...), nil
}

// Alive implements driver.Driver.
func (d *Document) Alive(ctx context.Context, h driver.Handle) bool {
	if d.enter("alive") != nil {
		return false
	}
	e, ok := h.Ref.(*Element)
	return ok && !e.detached
}

// ReadState implements driver.Driver.
func (d *Document) ReadState(ctx context.Context, h driver.Handle) (driver.State, error) {
	e, err := d.element(ctx, "read_state", h)
	if err != nil {
		return driver.State{}, err
	}
	return driver.State{
		Value:         e.Value,
		SelectedLabel: e.Selected,
		Files:         append([]string(nil), e.Files...),
		Checked:       e.Checked,
		Disabled:      e.Disabled,
		Visible:       true,
		Expanded:      len(e.rendered) > 0,
	}, nil
}

// SetValue implements driver.Driver.
func (d *Document) SetValue(ctx context.Context, h driver.Handle, value string) error {
	e, err := d.element(ctx, "set_value", h)
	if err != nil {
		return err
	}
	if !e.dropWrite() {
		e.Value = value
	}
	return nil
}

// TypeText implements driver.Driver.
func (d *Document) TypeText(ctx context.Context, h driver.Handle, text string) error {
	e, err := d.element(ctx, "type_text", h)
	if err != nil {
		return err
	}
	e.Value = text
	if e.Suggest != nil {
		e.rendered = e.Suggest(text)
	}
	return nil
}

// Select implements driver.Driver.
func (d *Document) Select(ctx context.Context, h driver.Handle, label string) error {
	e, err := d.element(ctx, "select", h)
	if err != nil {
		return err
	}
	if e.Custom {
		return fmt.Errorf("drivertest: %s is not a native select", h.Selector)
	}
	for _, opt := range e.Options {
		if opt == label {
			if !e.dropWrite() {
				e.Selected = label
				e.Value = label
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
}

// Click implements driver.Driver.
func (d *Document) Click(ctx context.Context, h driver.Handle) error {
	e, err := d.element(ctx, "click", h)
	if err != nil {
		return err
	}
	if e.dropWrite() {
		return nil
	}
	if e.OnClick != nil {
		e.OnClick(e)
		return nil
	}
	if e.Custom {
		if len(e.rendered) > 0 {
			e.rendered = nil
		} else {
			e.rendered = append([]string(nil), e.Options...)
		}
		return nil
	}
	e.Checked = !e.Checked
	return nil
}

// Upload implements driver.Driver.
func (d *Document) Upload(ctx context.Context, h driver.Handle, path string) error {
	e, err := d.element(ctx, "upload", h)
	if err != nil {
		return err
	}
	if !e.dropWrite() {
		e.Files = []string{path}
	}
	return nil
}

// RenderedOptions implements driver.Driver.
func (d *Document) RenderedOptions(ctx context.Context, h driver.Handle) ([]string, error) {
	e, err := d.element(ctx, "rendered_options", h)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.rendered...), nil
}

// PickOption implements driver.Driver.
func (d *Document) PickOption(ctx context.Context, h driver.Handle, label string) error {
	e, err := d.element(ctx, "pick_option", h)
	if err != nil {
		return err
	}
	for _, opt := range e.rendered {
		if opt == label {
			if !e.dropWrite() {
				e.Value = label
				e.Selected = label
			}
			e.rendered = nil
			return nil
		}
	}
	return fmt.Errorf("%w: %q", driver.ErrOptionNotFound, label)
}

// Scan implements driver.Scanner. Frames are visited breadth first.
func (d *Document) Scan(ctx context.Context, maxDepth int) ([]driver.RawElement, error) {
	if err := d.enter("scan"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []driver.RawElement
	queue := []form.FramePath{form.MainFrame}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		f := d.frames[path]
		for _, e := range f.elements {
			if e.Raw.Tag != "" {
				raw := e.Raw
				raw.Tag = strings.ToLower(raw.Tag)
				out = append(out, raw)
			}
		}
		if path.Depth() < maxDepth {
			for _, child := range f.children {
				queue = append(queue, path.Child(child))
			}
		}
	}
	return out, nil
}

var (
	_ driver.Driver  = (*Document)(nil)
	_ driver.Scanner = (*Document)(nil)
)

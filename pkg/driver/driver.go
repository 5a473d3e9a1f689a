// Package driver defines the browser capability the form-fill pipeline is
// written against. Adapters for playwright and rod live in subpackages, and
// drivertest provides an in-memory document for tests.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/formforge/pkg/form"
)

// ErrSessionLost is returned when the underlying browser session is gone.
// It is a run-level failure and is never retried per field.
var ErrSessionLost = errors.New("browser session lost")

var (
	// ErrFrameNotFound is returned when a frame path no longer resolves.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrDetached is returned when a handle's element left the document.
	ErrDetached = errors.New("element detached")
	// ErrOptionNotFound is returned when a select or rendered list has no
	// option with the requested label.
	ErrOptionNotFound = errors.New("option not found")
)

// Handle is a driver-specific reference to one element inside a frame.
type Handle struct {
	Frame    form.FramePath
	Selector string
	// Index is the position of the element among the selector's matches.
	Index int
	// Attrs carries identifying attributes (id, name, data-testid,
	// aria-label) captured at lookup time.
	Attrs map[string]string
	// Ref is the adapter's native element reference.
	Ref any
}

// State is a read-only snapshot of a control.
type State struct {
	Value         string   `json:"value"`
	SelectedLabel string   `json:"selectedLabel"`
	Files         []string `json:"files"`
	Checked       bool     `json:"checked"`
	Disabled      bool     `json:"disabled"`
	Visible       bool     `json:"visible"`
	Expanded      bool     `json:"expanded"`
}

// Driver is the set of primitive browser operations the pipeline needs.
// Every call is bounded by ctx.
type Driver interface {
	// Find returns every element in frame matching selector.
	Find(ctx context.Context, frame form.FramePath, selector string) ([]Handle, error)
	// ChildFrames lists identifiers of frames nested directly in frame.
	ChildFrames(ctx context.Context, frame form.FramePath) ([]string, error)
	// Alive reports whether h still refers to an attached element.
	Alive(ctx context.Context, h Handle) bool
	ReadState(ctx context.Context, h Handle) (State, error)
	SetValue(ctx context.Context, h Handle, value string) error
	TypeText(ctx context.Context, h Handle, text string) error
	Select(ctx context.Context, h Handle, label string) error
	Click(ctx context.Context, h Handle) error
	Upload(ctx context.Context, h Handle, path string) error
	// RenderedOptions lists the option labels currently displayed for a
	// dynamic widget such as a typeahead popup.
	RenderedOptions(ctx context.Context, h Handle) ([]string, error)
	// PickOption activates the rendered option with the given label.
	PickOption(ctx context.Context, h Handle, label string) error
}

// RawElement is an unclassified interactive element discovered on the page.
type RawElement struct {
	Frame     form.FramePath    `json:"frame"`
	Selector  string            `json:"selector"`
	Tag       string            `json:"tag"`
	Type      string            `json:"type,omitempty"`
	Role      string            `json:"role,omitempty"`
	Label     string            `json:"label,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Classes   []string          `json:"classes,omitempty"`
	OuterHTML string            `json:"outer_html,omitempty"`
	Required  bool              `json:"required"`
}

// Attr returns the attribute value or "".
func (r RawElement) Attr(name string) string {
	if r.Attrs == nil {
		return ""
	}
	return r.Attrs[name]
}

// Scanner discovers raw interactive elements across the page's frames.
type Scanner interface {
	Scan(ctx context.Context, maxDepth int) ([]RawElement, error)
}

// Poll evaluates cond every interval until it returns true, returns an
// error, or timeout elapses. It returns false on timeout.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

// Package form defines the domain model shared by every stage of the
// form-fill pipeline: field descriptors, profile values, action contexts,
// strategies, execution results and run outcomes.
package form

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// WidgetType is the closed set of widget kinds the pipeline knows how to drive.
type WidgetType string

const (
	WidgetText          WidgetType = "text"
	WidgetSelect        WidgetType = "select"
	WidgetTypeahead     WidgetType = "typeahead"
	WidgetCheckboxGroup WidgetType = "checkbox_group"
	WidgetFile          WidgetType = "file"
	WidgetClick         WidgetType = "click"
)

// AllWidgets lists every widget type in classification priority order.
var AllWidgets = []WidgetType{
	WidgetFile,
	WidgetSelect,
	WidgetTypeahead,
	WidgetCheckboxGroup,
	WidgetClick,
	WidgetText,
}

// Valid reports whether w is one of the known widget types.
func (w WidgetType) Valid() bool {
	for _, known := range AllWidgets {
		if w == known {
			return true
		}
	}
	return false
}

// FramePath addresses a frame by the chain of frame identifiers from the
// top document. The empty path is the main frame.
type FramePath string

// MainFrame is the top-level document.
const MainFrame FramePath = ""

// Child returns the path of a frame nested directly under p.
func (p FramePath) Child(id string) FramePath {
	if p == MainFrame {
		return FramePath(id)
	}
	return FramePath(string(p) + "/" + id)
}

// Depth is the number of frame hops from the main document.
func (p FramePath) Depth() int {
	if p == MainFrame {
		return 0
	}
	return strings.Count(string(p), "/") + 1
}

// Segments splits the path into its frame identifiers.
func (p FramePath) Segments() []string {
	if p == MainFrame {
		return nil
	}
	return strings.Split(string(p), "/")
}

func (p FramePath) String() string {
	if p == MainFrame {
		return "main"
	}
	return string(p)
}

// ElementRef is a frame-qualified selector. Hint holds identifying
// attributes observed when the element was discovered; the locator uses it
// to pick between several matches.
type ElementRef struct {
	Frame    FramePath         `json:"frame" yaml:"frame"`
	Selector string            `json:"selector" yaml:"selector"`
	Hint     map[string]string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Key identifies the reference for caching.
func (r ElementRef) Key() RefKey {
	key := RefKey{Frame: r.Frame, Selector: r.Selector}
	if len(r.Hint) > 0 {
		names := make([]string, 0, len(r.Hint))
		for k := range r.Hint {
			names = append(names, k)
		}
		sort.Strings(names)
		var b strings.Builder
		for _, k := range names {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(r.Hint[k])
			b.WriteByte(';')
		}
		key.Hint = b.String()
	}
	return key
}

func (r ElementRef) String() string {
	return fmt.Sprintf("%s::%s", r.Frame, r.Selector)
}

// RefKey is the comparable part of an ElementRef.
type RefKey struct {
	Frame    FramePath
	Selector string
	Hint     string
}

// OptionSet holds the option labels of a choice widget. For dynamic widgets
// it starts empty and lazy, and is populated exactly once.
type OptionSet struct {
	mu     sync.RWMutex
	labels []string
	lazy   bool
	loaded bool
}

// NewOptionSet returns an eagerly populated option set.
func NewOptionSet(labels []string) *OptionSet {
	return &OptionSet{labels: append([]string(nil), labels...), loaded: true}
}

// NewLazyOptionSet returns an option set to be filled on first use.
func NewLazyOptionSet() *OptionSet {
	return &OptionSet{lazy: true}
}

// Labels returns a copy of the loaded labels.
func (o *OptionSet) Labels() []string {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.labels...)
}

// Lazy reports whether the set was created without options.
func (o *OptionSet) Lazy() bool {
	if o == nil {
		return false
	}
	return o.lazy
}

// Loaded reports whether labels are available.
func (o *OptionSet) Loaded() bool {
	if o == nil {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded
}

// Load populates a lazy set. It returns false if the set was already loaded.
func (o *OptionSet) Load(labels []string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded {
		return false
	}
	o.labels = append([]string(nil), labels...)
	o.loaded = true
	return true
}

// FieldDescriptor is the classifier's description of one interactive control.
// Apart from a lazy option set, it is immutable once created.
type FieldDescriptor struct {
	ID       string            `json:"id"`
	Frame    FramePath         `json:"frame"`
	Selector string            `json:"selector"`
	Label    string            `json:"label"`
	Widget   WidgetType        `json:"widget_type"`
	Purpose  string            `json:"purpose,omitempty"`
	Required bool              `json:"required"`
	Hint     map[string]string `json:"hint,omitempty"`
	Options  *OptionSet        `json:"-"`
}

// Ref returns the element reference of the field.
func (f *FieldDescriptor) Ref() ElementRef {
	return ElementRef{Frame: f.Frame, Selector: f.Selector, Hint: f.Hint}
}

// OptionLabels returns the currently known option labels.
func (f *FieldDescriptor) OptionLabels() []string {
	return f.Options.Labels()
}

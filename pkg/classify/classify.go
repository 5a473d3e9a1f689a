// Package classify turns raw scanned elements into field descriptors with a
// widget type, purpose and option set.
package classify

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("classify")
	if err != nil {
		debugLog.Warnf("Failed to initialize classify logger, using stderr fallback: %v", err)
	}
}

// Config holds the glob patterns matched against an element's classes and
// attribute values.
type Config struct {
	TypeaheadPatterns []string `yaml:"typeahead_patterns"`
	SelectPatterns    []string `yaml:"select_patterns"`
}

// DefaultConfig returns the built-in heuristics.
func DefaultConfig() Config {
	return Config{
		TypeaheadPatterns: []string{"*typeahead*", "*autocomplete*", "*autosuggest*", "*combobox*", "*select2-search*"},
		SelectPatterns:    []string{"*select2*", "*dropdown*", "*chosen*", "*listbox*", "*picker*"},
	}
}

// textInputTypes are input types filled with free text.
var textInputTypes = map[string]bool{
	"": true, "text": true, "email": true, "tel": true, "url": true,
	"number": true, "search": true, "date": true, "password": true,
}

// Classifier assigns widget types. It is safe for concurrent use.
type Classifier struct {
	typeahead []glob.Glob
	selects   []glob.Glob
}

// New compiles the heuristic patterns in cfg. Empty pattern lists fall back
// to the defaults.
func New(cfg Config) (*Classifier, error) {
	def := DefaultConfig()
	if len(cfg.TypeaheadPatterns) == 0 {
		cfg.TypeaheadPatterns = def.TypeaheadPatterns
	}
	if len(cfg.SelectPatterns) == 0 {
		cfg.SelectPatterns = def.SelectPatterns
	}

	c := &Classifier{}
	for _, p := range cfg.TypeaheadPatterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid typeahead pattern '%s': %w", p, err)
		}
		c.typeahead = append(c.typeahead, g)
	}
	for _, p := range cfg.SelectPatterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid select pattern '%s': %w", p, err)
		}
		c.selects = append(c.selects, g)
	}
	return c, nil
}

// Classify derives a descriptor from raw. The ID is left empty; Inventory
// assigns IDs for a whole scan.
func (c *Classifier) Classify(raw driver.RawElement) *form.FieldDescriptor {
	widget, options := c.widget(raw)

	fd := &form.FieldDescriptor{
		Frame:    raw.Frame,
		Selector: raw.Selector,
		Label:    strings.TrimSpace(raw.Label),
		Widget:   widget,
		Required: raw.Required || raw.Attr("aria-required") == "true",
		Hint:     hint(raw),
	}
	fd.Purpose = InferPurpose(fd.Label, raw, widget)

	switch widget {
	case form.WidgetSelect:
		if len(options) > 0 {
			fd.Options = form.NewOptionSet(options)
		} else {
			fd.Options = form.NewLazyOptionSet()
		}
	case form.WidgetTypeahead:
		fd.Options = form.NewLazyOptionSet()
	case form.WidgetCheckboxGroup:
		if len(options) > 0 {
			fd.Options = form.NewOptionSet(options)
		}
	}
	return fd
}

// widget applies the signals in priority order: control tag, accessibility
// role, option list, class heuristics, then the text fallback.
func (c *Classifier) widget(raw driver.RawElement) (form.WidgetType, []string) {
	tag := strings.ToLower(raw.Tag)
	typ := strings.ToLower(raw.Type)
	if typ == "" {
		typ = strings.ToLower(raw.Attr("type"))
	}

	switch {
	case tag == "input" && typ == "file":
		return form.WidgetFile, nil
	case tag == "select":
		return form.WidgetSelect, ExtractOptions(raw.OuterHTML)
	case tag == "input" && (typ == "checkbox" || typ == "radio"):
		return form.WidgetCheckboxGroup, nil
	case tag == "button", tag == "input" && (typ == "submit" || typ == "button" || typ == "reset"):
		return form.WidgetClick, nil
	}

	role := strings.ToLower(raw.Role)
	if role == "" {
		role = strings.ToLower(raw.Attr("role"))
	}
	switch role {
	case "combobox":
		if ac := strings.ToLower(raw.Attr("aria-autocomplete")); ac != "" && ac != "none" {
			return form.WidgetTypeahead, nil
		}
		return form.WidgetSelect, ExtractOptions(raw.OuterHTML)
	case "listbox":
		return form.WidgetSelect, ExtractOptions(raw.OuterHTML)
	case "checkbox", "radio", "radiogroup":
		return form.WidgetCheckboxGroup, ExtractChoices(raw.OuterHTML)
	case "button", "link":
		return form.WidgetClick, nil
	}

	if opts := ExtractOptions(raw.OuterHTML); len(opts) > 0 {
		return form.WidgetSelect, opts
	}
	if raw.Attr("list") != "" || raw.Attr("aria-controls") != "" {
		if c.matchAny(c.typeahead, raw) {
			return form.WidgetTypeahead, nil
		}
		return form.WidgetSelect, nil
	}

	if c.matchAny(c.typeahead, raw) {
		return form.WidgetTypeahead, nil
	}
	if c.matchAny(c.selects, raw) {
		return form.WidgetSelect, nil
	}

	if tag == "textarea" || (tag == "input" && textInputTypes[typ]) || raw.Attr("contenteditable") == "true" {
		return form.WidgetText, nil
	}
	debugLog.Debugf("No strong signal for <%s> %s, treating as text", tag, raw.Selector)
	return form.WidgetText, nil
}

func (c *Classifier) matchAny(patterns []glob.Glob, raw driver.RawElement) bool {
	subjects := make([]string, 0, len(raw.Classes)+4)
	for _, cls := range raw.Classes {
		subjects = append(subjects, strings.ToLower(cls))
	}
	for _, attr := range []string{"id", "name", "data-testid", "autocomplete", "data-role"} {
		if v := raw.Attr(attr); v != "" {
			subjects = append(subjects, strings.ToLower(v))
		}
	}
	for _, s := range subjects {
		for _, g := range patterns {
			if g.Match(s) {
				return true
			}
		}
	}
	return false
}

func hint(raw driver.RawElement) map[string]string {
	var h map[string]string
	for _, attr := range []string{"id", "name", "data-testid", "aria-label"} {
		if v := raw.Attr(attr); v != "" {
			if h == nil {
				h = make(map[string]string)
			}
			h[attr] = v
		}
	}
	return h
}

// Inventory classifies a whole scan in order and assigns each descriptor an
// ID unique within the run. Hidden inputs are dropped.
func (c *Classifier) Inventory(raws []driver.RawElement) []*form.FieldDescriptor {
	seen := make(map[string]int)
	fields := make([]*form.FieldDescriptor, 0, len(raws))
	for _, raw := range raws {
		if strings.EqualFold(raw.Type, "hidden") || strings.EqualFold(raw.Attr("type"), "hidden") {
			continue
		}
		fd := c.Classify(raw)

		base := fieldID(raw, fd)
		seen[base]++
		fd.ID = base
		if n := seen[base]; n > 1 {
			fd.ID = fmt.Sprintf("%s_%d", base, n)
		}
		fields = append(fields, fd)
	}
	debugLog.Infof("Classified %d fields from %d raw elements", len(fields), len(raws))
	return fields
}

func fieldID(raw driver.RawElement, fd *form.FieldDescriptor) string {
	for _, candidate := range []string{raw.Attr("id"), raw.Attr("name"), fd.Purpose, fd.Label} {
		if id := slug(candidate); id != "" {
			return id
		}
	}
	return string(fd.Widget)
}

func slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

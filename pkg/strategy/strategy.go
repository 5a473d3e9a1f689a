// Package strategy decides how each field should be filled: which handler
// method to use and what to apply.
package strategy

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
	"github.com/entrhq/formforge/pkg/match"
	"github.com/entrhq/formforge/pkg/oracle"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("strategy")
	if err != nil {
		debugLog.Warnf("Failed to initialize strategy logger, using stderr fallback: %v", err)
	}
}

// Variants understood by the handlers.
const (
	// VariantPrefix types the first characters of the value before picking.
	VariantPrefix = "prefix"
	// VariantFullText types the whole value before picking.
	VariantFullText = "full_text"
	// VariantAlias types a lexical variant of the value (Target) before picking.
	VariantAlias = "alias"
	// VariantKeystrokes fills a text field key by key instead of setting it.
	VariantKeystrokes = "keystrokes"
)

// OptionLoader materializes the options of a lazily populated select.
type OptionLoader interface {
	LoadOptions(ctx context.Context, field *form.FieldDescriptor) ([]string, error)
}

// Selector assigns strategies. It is safe for concurrent use.
type Selector struct {
	matcher      *match.Matcher
	oracle       oracle.Oracle
	loader       OptionLoader
	prefixLength int

	mu          sync.Mutex
	oracleCalls int
}

// Option configures a Selector.
type Option func(*Selector)

// WithOracle enables escalation to o when local matching is inconclusive.
func WithOracle(o oracle.Oracle) Option {
	return func(s *Selector) {
		s.oracle = o
	}
}

// WithOptionLoader sets the loader for lazy option sets.
func WithOptionLoader(l OptionLoader) Option {
	return func(s *Selector) {
		s.loader = l
	}
}

// WithPrefixLength sets how many characters a typeahead prefix strategy types.
func WithPrefixLength(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.prefixLength = n
		}
	}
}

// New returns a selector using m for fuzzy matching.
func New(m *match.Matcher, opts ...Option) *Selector {
	s := &Selector{matcher: m, prefixLength: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PrefixLength is the number of characters typed by VariantPrefix.
func (s *Selector) PrefixLength() int {
	return s.prefixLength
}

// Threshold is the matcher's acceptance threshold.
func (s *Selector) Threshold() float64 {
	return s.matcher.Threshold()
}

// OracleCalls returns how many times the oracle was consulted.
func (s *Selector) OracleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oracleCalls
}

// Select picks the initial strategy for field. Deterministic widgets never
// reach the matcher or the oracle; exact select matches never reach the
// oracle.
func (s *Selector) Select(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue) (form.Strategy, error) {
	text := value.Text()

	switch field.Widget {
	case form.WidgetText:
		return form.Strategy{Method: form.MethodDirectFill, Confidence: 1, Target: text, Source: form.SourceRule}, nil

	case form.WidgetFile:
		return form.Strategy{Method: form.MethodUpload, Confidence: 1, Target: value.Value, Source: form.SourceRule}, nil

	case form.WidgetCheckboxGroup, form.WidgetClick:
		return form.Strategy{Method: form.MethodClick, Confidence: 1, Target: text, Source: form.SourceRule}, nil

	case form.WidgetTypeahead:
		return form.Strategy{
			Method:     form.MethodTypeaheadPick,
			Confidence: s.matcher.Threshold(),
			Target:     text,
			Source:     form.SourceRule,
			Variant:    VariantPrefix,
		}, nil

	case form.WidgetSelect:
		return s.selectOption(ctx, field, value)
	}
	return form.Strategy{}, form.NewFieldError(form.ErrInternal, field.ID, "unknown widget type %q", field.Widget)
}

func (s *Selector) selectOption(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue) (form.Strategy, error) {
	options, err := s.Options(ctx, field)
	if err != nil {
		return form.Strategy{}, err
	}
	text := value.Text()

	if m, ok := match.Exact(text, options); ok {
		return form.Strategy{Method: form.MethodExactSelect, Confidence: 1, Target: m.Label, Source: form.SourceRule}, nil
	}
	if m, ok := s.matcher.BestMatchFor(text, field.Purpose, options); ok {
		debugLog.Debugf("Field %s: %q matched %q (%.2f via %q)", field.ID, text, m.Label, m.Score, m.Variant)
		return form.Strategy{Method: form.MethodSemantic, Confidence: m.Score, Target: m.Label, Source: form.SourceMatcher}, nil
	}

	debugLog.Infof("Field %s: no local match for %q among %d options, escalating", field.ID, text, len(options))
	return s.Consult(ctx, field, value, nil)
}

// Options returns the field's options, loading a lazy set on first use.
func (s *Selector) Options(ctx context.Context, field *form.FieldDescriptor) ([]string, error) {
	if field.Options == nil || field.Options.Loaded() || s.loader == nil {
		return field.OptionLabels(), nil
	}
	labels, err := s.loader.LoadOptions(ctx, field)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		// The list may not have rendered yet; leave the set lazy so a later
		// call loads it again.
		debugLog.Debugf("No options rendered yet for field %s", field.ID)
		return nil, nil
	}
	if field.Options.Load(labels) {
		debugLog.Debugf("Loaded %d options for field %s", len(labels), field.ID)
	}
	return field.OptionLabels(), nil
}

// Consult asks the oracle for a strategy. It fails closed: an oracle error
// keeps its own kind (OracleTimeout, OracleMalformedResponse), any other
// failure to call it and every inconclusive answer is NoConfidentMatch.
func (s *Selector) Consult(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, history []oracle.Failure) (form.Strategy, error) {
	if s.oracle == nil {
		return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "no option matches %q and no oracle is configured", value.Text())
	}

	options := field.OptionLabels()
	s.mu.Lock()
	s.oracleCalls++
	s.mu.Unlock()

	resp, err := s.oracle.Consult(ctx, oracle.Request{
		FieldID: field.ID,
		Label:   field.Label,
		Widget:  field.Widget,
		Purpose: field.Purpose,
		Desired: value.Text(),
		Options: options,
		History: history,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrBudgetExhausted) {
			debugLog.Warnf("Oracle budget exhausted at field %s", field.ID)
		}
		var fe *form.FieldError
		if errors.As(err, &fe) {
			if fe.FieldID == "" {
				stamped := *fe
				stamped.FieldID = field.ID
				return form.Strategy{}, &stamped
			}
			return form.Strategy{}, fe
		}
		return form.Strategy{}, &form.FieldError{Kind: form.ErrNoConfidentMatch, FieldID: field.ID, Message: "oracle gave no usable answer", Err: err}
	}

	if resp.Confidence+1e-9 < s.matcher.Threshold() {
		return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "oracle confidence %.2f below %.2f", resp.Confidence, s.matcher.Threshold())
	}

	switch field.Widget {
	case form.WidgetSelect:
		label, ok := resp.Selected(options)
		if !ok && resp.Index != oracle.NoSelection {
			return form.Strategy{}, form.NewFieldError(form.ErrOracleMalformedResponse, field.ID, "oracle index %d outside %d options", resp.Index, len(options))
		}
		if !ok {
			return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "oracle found no option for %q", value.Text())
		}
		return form.Strategy{Method: form.MethodSemantic, Confidence: resp.Confidence, Target: label, Source: form.SourceOracle}, nil

	case form.WidgetTypeahead:
		target := resp.Value
		if label, ok := resp.Selected(options); ok {
			target = label
		}
		if target == "" {
			return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "oracle suggested nothing to type")
		}
		return form.Strategy{Method: form.MethodTypeaheadPick, Confidence: resp.Confidence, Target: target, Source: form.SourceOracle, Variant: VariantAlias}, nil

	case form.WidgetText:
		if resp.Value == "" {
			return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "oracle suggested no text")
		}
		return form.Strategy{Method: form.MethodDirectFill, Confidence: resp.Confidence, Target: resp.Value, Source: form.SourceOracle}, nil
	}
	return form.Strategy{}, form.NewFieldError(form.ErrNoConfidentMatch, field.ID, "oracle cannot help with %s widgets", field.Widget)
}

// Alternatives lists untried local strategies for field, best first. The
// recovery coordinator draws from it before consulting the oracle.
func (s *Selector) Alternatives(ctx context.Context, field *form.FieldDescriptor, value form.ProfileValue, tried []form.Strategy) []form.Strategy {
	text := value.Text()
	var cands []form.Strategy

	switch field.Widget {
	case form.WidgetText:
		cands = append(cands, form.Strategy{Method: form.MethodDirectFill, Confidence: 1, Target: text, Source: form.SourceRetry, Variant: VariantKeystrokes})

	case form.WidgetSelect:
		options, err := s.Options(ctx, field)
		if err != nil {
			debugLog.Warnf("Cannot list alternatives for %s: %v", field.ID, err)
			return nil
		}
		if m, ok := match.Exact(text, options); ok {
			cands = append(cands, form.Strategy{Method: form.MethodExactSelect, Confidence: 1, Target: m.Label, Source: form.SourceRule})
		}
		for _, m := range s.matcher.RankFor(text, field.Purpose, options) {
			cands = append(cands, form.Strategy{Method: form.MethodSemantic, Confidence: m.Score, Target: m.Label, Source: form.SourceMatcher})
		}

	case form.WidgetTypeahead:
		conf := s.matcher.Threshold()
		cands = append(cands,
			form.Strategy{Method: form.MethodTypeaheadPick, Confidence: conf, Target: text, Source: form.SourceRetry, Variant: VariantFullText},
		)
		for i, v := range match.Variants(text, field.Purpose) {
			if i == 0 || utf8.RuneCountInString(v) < 2 {
				continue
			}
			cands = append(cands, form.Strategy{Method: form.MethodTypeaheadPick, Confidence: conf, Target: v, Source: form.SourceRetry, Variant: VariantAlias})
		}
	}

	out := cands[:0]
	for _, c := range cands {
		if !triedAlready(tried, c) && !triedAlready(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func triedAlready(tried []form.Strategy, s form.Strategy) bool {
	for _, t := range tried {
		if t.Same(s) {
			return true
		}
		// An exact select and a semantic select of the same label do the
		// same thing on the page.
		if isSelect(t.Method) && isSelect(s.Method) && t.Target == s.Target {
			return true
		}
	}
	return false
}

func isSelect(m form.Method) bool {
	return m == form.MethodExactSelect || m == form.MethodSemantic
}

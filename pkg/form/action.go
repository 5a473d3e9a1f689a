package form

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValueKind distinguishes how a profile value is applied.
type ValueKind string

const (
	KindLiteral   ValueKind = "literal"
	KindFilePath  ValueKind = "file_path"
	KindComposite ValueKind = "composite"
)

// ProfileValue is one entry of the applicant profile. The pipeline never
// mutates it.
type ProfileValue struct {
	Key   string    `json:"key" yaml:"key"`
	Value string    `json:"value" yaml:"value"`
	Kind  ValueKind `json:"kind" yaml:"kind"`
	Items []string  `json:"items,omitempty" yaml:"items,omitempty"`
}

// Text returns the value as a single string. Composite values are joined
// with ", ".
func (v ProfileValue) Text() string {
	if v.Kind == KindComposite && len(v.Items) > 0 {
		return strings.Join(v.Items, ", ")
	}
	return v.Value
}

// Method is the interaction technique chosen for a field.
type Method string

const (
	MethodDirectFill    Method = "direct_fill"
	MethodExactSelect   Method = "exact_select"
	MethodSemantic      Method = "semantic_select"
	MethodTypeaheadPick Method = "typeahead_type_and_pick"
	MethodClick         Method = "click"
	MethodUpload        Method = "upload"
)

// Source records which decision layer produced a strategy.
type Source string

const (
	SourceRule    Source = "rule"
	SourceMatcher Source = "matcher"
	SourceOracle  Source = "oracle"
	SourceRetry   Source = "retry"
)

// Strategy is a method plus the confidence behind choosing it.
type Strategy struct {
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
	// Target is the concrete option label or text the handler applies.
	Target  string `json:"target,omitempty"`
	Source  Source `json:"source"`
	Variant string `json:"variant,omitempty"`
}

func (s Strategy) String() string {
	if s.Variant != "" {
		return fmt.Sprintf("%s/%s(%q, %.2f)", s.Method, s.Variant, s.Target, s.Confidence)
	}
	return fmt.Sprintf("%s(%q, %.2f)", s.Method, s.Target, s.Confidence)
}

// Same reports whether two strategies would drive the control identically.
func (s Strategy) Same(other Strategy) bool {
	return s.Method == other.Method &&
		strings.EqualFold(s.Target, other.Target) &&
		s.Variant == other.Variant
}

// ActionContext binds a field to the value being applied and the current
// strategy for the lifetime of one run.
type ActionContext struct {
	ID       string
	Field    *FieldDescriptor
	Value    ProfileValue
	Strategy Strategy
	// Synthesized is set when Value was not taken from the profile, for
	// example the implicit value of a submit button.
	Synthesized bool

	attempts int
	tried    []Strategy
}

// NewActionContext creates a context with a fresh identifier.
func NewActionContext(field *FieldDescriptor, value ProfileValue, strategy Strategy) *ActionContext {
	return &ActionContext{
		ID:       uuid.New().String(),
		Field:    field,
		Value:    value,
		Strategy: strategy,
	}
}

// Attempts is the number of executions charged so far.
func (ac *ActionContext) Attempts() int {
	return ac.attempts
}

// BeginAttempt charges one attempt against the current strategy and returns
// its 1-based ordinal.
func (ac *ActionContext) BeginAttempt() int {
	ac.attempts++
	ac.tried = append(ac.tried, ac.Strategy)
	return ac.attempts
}

// Tried returns the strategies executed so far, oldest first.
func (ac *ActionContext) Tried() []Strategy {
	return append([]Strategy(nil), ac.tried...)
}

// HasTried reports whether an equivalent strategy was already executed.
func (ac *ActionContext) HasTried(s Strategy) bool {
	for _, t := range ac.tried {
		if t.Same(s) {
			return true
		}
	}
	return false
}

// Revise replaces the current strategy.
func (ac *ActionContext) Revise(s Strategy) {
	ac.Strategy = s
}

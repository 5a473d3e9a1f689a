// Package oracle is the external decision service consulted when local
// rules and fuzzy matching cannot decide how to fill a field.
package oracle

import (
	"context"
	"errors"

	"github.com/entrhq/formforge/pkg/form"
)

var (
	// ErrBudgetExhausted is returned once the per-run request quota is spent.
	ErrBudgetExhausted = errors.New("oracle request budget exhausted")
	// ErrUnavailable is returned when the oracle could not be reached.
	ErrUnavailable = errors.New("oracle unavailable")
)

// NoSelection is the Response.Index reported when no option fits.
const NoSelection = -1

// Failure is one earlier unsuccessful attempt on the field.
type Failure struct {
	Method form.Method    `json:"method"`
	Target string         `json:"target,omitempty"`
	Kind   form.ErrorKind `json:"error_kind"`
}

// Request describes the field and the value the profile wants in it.
type Request struct {
	FieldID string          `json:"field_id"`
	Label   string          `json:"label"`
	Widget  form.WidgetType `json:"widget_type"`
	Purpose string          `json:"purpose,omitempty"`
	Desired string          `json:"desired"`
	Options []string        `json:"options,omitempty"`
	History []Failure       `json:"history,omitempty"`
}

// Response is the oracle's recommendation. Index refers to Request.Options
// or is NoSelection; Value carries free text for typeahead and text fields.
type Response struct {
	Method     form.Method `json:"method,omitempty"`
	Index      int         `json:"index"`
	Value      string      `json:"value,omitempty"`
	Confidence float64     `json:"confidence"`
	Rationale  string      `json:"rationale,omitempty"`
}

// Selected returns the chosen option label, if any.
func (r Response) Selected(options []string) (string, bool) {
	if r.Index < 0 || r.Index >= len(options) {
		return "", false
	}
	return options[r.Index], true
}

// Oracle answers a single request. Implementations fail closed: any doubt
// is an error, never a guess.
type Oracle interface {
	Consult(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Consult implements Oracle.
func (f Func) Consult(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

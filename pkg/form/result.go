package form

import "time"

// Outcome is the disposition of one attempt or of a whole field.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ExecutionResult records one attempt. Results are append-only.
type ExecutionResult struct {
	ActionContextID string     `json:"action_context_id"`
	FieldID         string     `json:"field_id"`
	Widget          WidgetType `json:"widget_type"`
	Method          Method     `json:"strategy_used"`
	Attempt         int        `json:"attempts"`
	Outcome         Outcome    `json:"outcome"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	Detail          string     `json:"detail,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`

	// Navigated is set by handlers whose action caused a navigation or
	// large DOM change.
	Navigated bool `json:"-"`
}

// Succeeded reports whether the attempt was verified.
func (r ExecutionResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// NewResult stamps a result for ac with the current time.
func NewResult(ac *ActionContext, outcome Outcome) ExecutionResult {
	return ExecutionResult{
		ActionContextID: ac.ID,
		FieldID:         ac.Field.ID,
		Widget:          ac.Field.Widget,
		Method:          ac.Strategy.Method,
		Attempt:         ac.Attempts(),
		Outcome:         outcome,
		Timestamp:       time.Now(),
	}
}

// Failed returns a failed result for ac carrying the kind of err.
func Failed(ac *ActionContext, err error) ExecutionResult {
	r := NewResult(ac, OutcomeFailed)
	r.ErrorKind = KindOf(err)
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// RunStatus summarizes a run.
type RunStatus string

const (
	StatusSuccess        RunStatus = "success"
	StatusPartialSuccess RunStatus = "partial_success"
	StatusFailed         RunStatus = "failed"
)

// FieldDisposition is the final state of one field.
type FieldDisposition struct {
	FieldID    string     `json:"field_id"`
	Label      string     `json:"label,omitempty"`
	Widget     WidgetType `json:"widget_type"`
	Outcome    Outcome    `json:"outcome"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Attempts   int        `json:"attempts"`
	LastMethod Method     `json:"strategy_used,omitempty"`
	Required   bool       `json:"required"`
}

// RecoverySummary aggregates recovery activity for a run.
type RecoverySummary struct {
	Recoveries       int `json:"recoveries"`
	OracleCalls      int `json:"oracle_calls"`
	DeferredRetries  int `json:"deferred_retries"`
	TerminalFailures int `json:"terminal_failures"`
}

// RunOutcome is the final report for one run.
type RunOutcome struct {
	RunID        string             `json:"run_id"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	Duration     time.Duration      `json:"duration"`
	Status       RunStatus          `json:"status"`
	Aborted      bool               `json:"aborted"`
	AbortReason  string             `json:"abort_reason,omitempty"`
	Results      []ExecutionResult  `json:"results"`
	Fields       []FieldDisposition `json:"fields"`
	Recovery     RecoverySummary    `json:"recovery"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Skipped      int                `json:"skipped"`
	ErrorsByKind map[ErrorKind]int  `json:"errors_by_kind,omitempty"`
}

// Disposition returns the disposition for fieldID, if recorded.
func (o *RunOutcome) Disposition(fieldID string) (FieldDisposition, bool) {
	for _, d := range o.Fields {
		if d.FieldID == fieldID {
			return d, true
		}
	}
	return FieldDisposition{}, false
}

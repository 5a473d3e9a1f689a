// Package outcome records what happened to every field of a run and hands
// the records to sinks for external consumers.
package outcome

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("outcome")
	if err != nil {
		debugLog.Warnf("Failed to initialize outcome logger, using stderr fallback: %v", err)
	}
}

// Recorder collects ExecutionResults in order and derives the final
// disposition of every registered field. It is safe for concurrent use.
type Recorder struct {
	runID string
	sink  Sink
	now   func() time.Time

	mu        sync.Mutex
	start     time.Time
	order     []string
	disp      map[string]*form.FieldDisposition
	results   []form.ExecutionResult
	sinkErrs  []error
	finalized *form.RunOutcome
}

// NewRecorder starts recording run runID. sink may be nil.
func NewRecorder(runID string, sink Sink) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Recorder{
		runID: runID,
		sink:  sink,
		now:   time.Now,
		disp:  make(map[string]*form.FieldDisposition),
	}
	r.start = r.now()
	return r
}

// RunID returns the run identifier.
func (r *Recorder) RunID() string {
	return r.runID
}

// Register adds the field inventory. Every registered field receives a
// disposition in the final outcome.
func (r *Recorder) Register(fields []*form.FieldDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range fields {
		if _, ok := r.disp[f.ID]; ok {
			continue
		}
		r.order = append(r.order, f.ID)
		r.disp[f.ID] = &form.FieldDisposition{
			FieldID:  f.ID,
			Label:    f.Label,
			Widget:   f.Widget,
			Required: f.Required,
		}
	}
}

// Record appends res and forwards it to the sink. Sink failures are kept
// for Finalize and never interrupt the run.
func (r *Recorder) Record(ctx context.Context, res form.ExecutionResult) {
	r.mu.Lock()
	if r.finalized != nil {
		r.mu.Unlock()
		debugLog.Warnf("Dropping result for %s recorded after finalize", res.FieldID)
		return
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = r.now()
	}
	r.results = append(r.results, res)
	d, ok := r.disp[res.FieldID]
	if !ok {
		r.order = append(r.order, res.FieldID)
		d = &form.FieldDisposition{FieldID: res.FieldID, Widget: res.Widget}
		r.disp[res.FieldID] = d
	}
	d.Outcome = res.Outcome
	d.ErrorKind = res.ErrorKind
	if res.Attempt > d.Attempts {
		d.Attempts = res.Attempt
	}
	if res.Method != "" {
		d.LastMethod = res.Method
	}
	r.mu.Unlock()

	if err := r.sink.WriteResult(ctx, r.runID, res); err != nil {
		debugLog.Warnf("Sink rejected result for %s: %v", res.FieldID, err)
		r.mu.Lock()
		r.sinkErrs = append(r.sinkErrs, err)
		r.mu.Unlock()
	}
}

// Results returns the results recorded so far.
func (r *Recorder) Results() []form.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]form.ExecutionResult(nil), r.results...)
}

// Finalize builds the RunOutcome. Registered fields without any result are
// recorded as skipped; when the run was aborted they carry RunAborted.
// The returned error reports sink failures; the outcome is complete
// regardless. Finalize is idempotent.
func (r *Recorder) Finalize(ctx context.Context, recovery form.RecoverySummary, abortReason string) (*form.RunOutcome, error) {
	r.mu.Lock()
	if r.finalized != nil {
		out := r.finalized
		r.mu.Unlock()
		return out, nil
	}

	aborted := abortReason != ""
	var unreached []form.ExecutionResult
	for _, id := range r.order {
		d := r.disp[id]
		if d.Outcome != "" {
			continue
		}
		d.Outcome = form.OutcomeSkipped
		res := form.ExecutionResult{FieldID: id, Widget: d.Widget, Outcome: form.OutcomeSkipped, Timestamp: r.now()}
		if aborted {
			d.ErrorKind = form.ErrRunAborted
			res.ErrorKind = form.ErrRunAborted
			res.Detail = abortReason
		} else {
			res.Detail = "field was not processed"
		}
		unreached = append(unreached, res)
	}
	r.results = append(r.results, unreached...)

	end := r.now()
	out := &form.RunOutcome{
		RunID:        r.runID,
		StartTime:    r.start,
		EndTime:      end,
		Duration:     end.Sub(r.start),
		Aborted:      aborted,
		AbortReason:  abortReason,
		Results:      append([]form.ExecutionResult(nil), r.results...),
		Recovery:     recovery,
		ErrorsByKind: make(map[form.ErrorKind]int),
	}
	for _, id := range r.order {
		d := *r.disp[id]
		out.Fields = append(out.Fields, d)
		switch d.Outcome {
		case form.OutcomeSuccess:
			out.Succeeded++
		case form.OutcomeFailed:
			out.Failed++
			out.ErrorsByKind[d.ErrorKind]++
		default:
			out.Skipped++
		}
	}
	out.Status = status(out)
	r.finalized = out
	r.mu.Unlock()

	var errs []error
	for _, res := range unreached {
		if err := r.sink.WriteResult(ctx, r.runID, res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.sink.WriteRun(ctx, out); err != nil {
		errs = append(errs, err)
	}

	r.mu.Lock()
	errs = append(r.sinkErrs, errs...)
	r.mu.Unlock()

	debugLog.Infof("Run %s finalized: %s (%d succeeded, %d failed, %d skipped)", r.runID, out.Status, out.Succeeded, out.Failed, out.Skipped)
	return out, errors.Join(errs...)
}

func status(out *form.RunOutcome) form.RunStatus {
	switch {
	case out.Failed == 0 && !out.Aborted:
		return form.StatusSuccess
	case out.Succeeded == 0:
		return form.StatusFailed
	default:
		return form.StatusPartialSuccess
	}
}

package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/formforge/pkg/form"
)

// Sink receives outcome records as they are produced.
type Sink interface {
	// WriteResult receives one ExecutionResult of run runID.
	WriteResult(ctx context.Context, runID string, res form.ExecutionResult) error
	// WriteRun receives the finalized run.
	WriteRun(ctx context.Context, out *form.RunOutcome) error
	Close() error
}

// ResultRecord is the wire form of an ExecutionResult.
type ResultRecord struct {
	Record string `json:"record"`
	RunID  string `json:"run_id"`
	form.ExecutionResult
}

// NewResultRecord tags res with its run.
func NewResultRecord(runID string, res form.ExecutionResult) ResultRecord {
	return ResultRecord{Record: "result", RunID: runID, ExecutionResult: res}
}

// RunRecord is the wire form of a finalized run without its per-attempt
// results, which are published individually.
type RunRecord struct {
	Record       string                  `json:"record"`
	RunID        string                  `json:"run_id"`
	Status       form.RunStatus          `json:"status"`
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	DurationMS   int64                   `json:"duration_ms"`
	Aborted      bool                    `json:"aborted"`
	AbortReason  string                  `json:"abort_reason,omitempty"`
	Fields       []form.FieldDisposition `json:"fields"`
	Recovery     form.RecoverySummary    `json:"recovery"`
	Succeeded    int                     `json:"succeeded"`
	Failed       int                     `json:"failed"`
	Skipped      int                     `json:"skipped"`
	ErrorsByKind map[form.ErrorKind]int  `json:"errors_by_kind,omitempty"`
}

// NewRunRecord summarizes out.
func NewRunRecord(out *form.RunOutcome) RunRecord {
	return RunRecord{
		Record:       "run",
		RunID:        out.RunID,
		Status:       out.Status,
		StartTime:    out.StartTime,
		EndTime:      out.EndTime,
		DurationMS:   out.Duration.Milliseconds(),
		Aborted:      out.Aborted,
		AbortReason:  out.AbortReason,
		Fields:       out.Fields,
		Recovery:     out.Recovery,
		Succeeded:    out.Succeeded,
		Failed:       out.Failed,
		Skipped:      out.Skipped,
		ErrorsByKind: out.ErrorsByKind,
	}
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) WriteResult(context.Context, string, form.ExecutionResult) error { return nil }
func (NopSink) WriteRun(context.Context, *form.RunOutcome) error { return nil }
func (NopSink) Close() error { return nil }

// MultiSink fans records out to several sinks. A failing sink does not
// stop delivery to the others.
type MultiSink []Sink

// WriteResult implements Sink.
func (m MultiSink) WriteResult(ctx context.Context, runID string, res form.ExecutionResult) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteResult(ctx, runID, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteRun implements Sink.
func (m MultiSink) WriteRun(ctx context.Context, out *form.RunOutcome) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRun(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/formforge/pkg/form"
)

// Metrics are the per-run counters written to metrics.json.
type Metrics struct {
	Fields           int                    `json:"fields"`
	Succeeded        int                    `json:"succeeded"`
	Failed           int                    `json:"failed"`
	Skipped          int                    `json:"skipped"`
	Attempts         int                    `json:"attempts"`
	SuccessRate      float64                `json:"success_rate"`
	Recoveries       int                    `json:"recoveries"`
	OracleCalls      int                    `json:"oracle_calls"`
	DeferredRetries  int                    `json:"deferred_retries"`
	TerminalFailures int                    `json:"terminal_failures"`
	DurationMS       int64                  `json:"duration_ms"`
	ErrorsByKind     map[form.ErrorKind]int `json:"errors_by_kind,omitempty"`

	ByWidget map[form.WidgetType]int `json:"fields_by_widget"`
}

// ComputeMetrics derives Metrics from a finalized run.
func ComputeMetrics(out *form.RunOutcome) Metrics {
	m := Metrics{
		Fields:           len(out.Fields),
		Succeeded:        out.Succeeded,
		Failed:           out.Failed,
		Skipped:          out.Skipped,
		Recoveries:       out.Recovery.Recoveries,
		OracleCalls:      out.Recovery.OracleCalls,
		DeferredRetries:  out.Recovery.DeferredRetries,
		TerminalFailures: out.Recovery.TerminalFailures,
		DurationMS:       out.Duration.Milliseconds(),
		ErrorsByKind:     out.ErrorsByKind,
		ByWidget:         make(map[form.WidgetType]int),
	}
	for _, d := range out.Fields {
		m.Attempts += d.Attempts
		m.ByWidget[d.Widget]++
	}
	if attempted := out.Succeeded + out.Failed; attempted > 0 {
		m.SuccessRate = float64(out.Succeeded) / float64(attempted)
	}
	return m
}

// ArtifactSink writes run.json, summary.md and metrics.json into an output
// directory when the run is finalized.
type ArtifactSink struct {
	outputDir string
}

// NewArtifactSink creates an artifact sink writing to outputDir.
func NewArtifactSink(outputDir string) *ArtifactSink {
	return &ArtifactSink{outputDir: outputDir}
}

// WriteResult implements Sink. Per-attempt results reach disk with the run.
func (w *ArtifactSink) WriteResult(context.Context, string, form.ExecutionResult) error {
	return nil
}

// WriteRun implements Sink by writing every artifact format.
func (w *ArtifactSink) WriteRun(ctx context.Context, out *form.RunOutcome) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := w.WriteRunJSON(out); err != nil {
		return fmt.Errorf("failed to write run JSON: %w", err)
	}
	if err := w.WriteSummaryMarkdown(out); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	if err := w.WriteMetricsJSON(out); err != nil {
		return fmt.Errorf("failed to write metrics JSON: %w", err)
	}
	return nil
}

// Close implements Sink.
func (w *ArtifactSink) Close() error { return nil }

// WriteRunJSON writes the full RunOutcome.
func (w *ArtifactSink) WriteRunJSON(out *form.RunOutcome) error {
	return writeJSON(filepath.Join(w.outputDir, "run.json"), out)
}

// WriteMetricsJSON writes the run metrics.
func (w *ArtifactSink) WriteMetricsJSON(out *form.RunOutcome) error {
	return writeJSON(filepath.Join(w.outputDir, "metrics.json"), ComputeMetrics(out))
}

// WriteSummaryMarkdown writes a human-readable summary.
func (w *ArtifactSink) WriteSummaryMarkdown(out *form.RunOutcome) error {
	path := filepath.Join(w.outputDir, "summary.md")
	if err := os.WriteFile(path, []byte(SummaryMarkdown(out)), 0600); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return nil
}

// SummaryMarkdown renders out as markdown.
func SummaryMarkdown(out *form.RunOutcome) string {
	var md strings.Builder

	md.WriteString("# Form Fill Summary\n\n")
	md.WriteString(fmt.Sprintf("**Run:** %s\n\n", out.RunID))
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", out.Status))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", out.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", out.Duration.Round(time.Millisecond)))
	if out.Aborted {
		md.WriteString(fmt.Sprintf("❌ **Aborted:** %s\n\n", out.AbortReason))
	}

	md.WriteString("## Fields\n\n")
	md.WriteString("| Field | Widget | Outcome | Attempts | Strategy | Error |\n")
	md.WriteString("|---|---|---|---|---|---|\n")
	for _, d := range out.Fields {
		name := d.FieldID
		if d.Required {
			name += " *"
		}
		md.WriteString(fmt.Sprintf("| %s | %s | %s %s | %d | %s | %s |\n",
			name, d.Widget, outcomeMark(d.Outcome), d.Outcome, d.Attempts, d.LastMethod, d.ErrorKind))
	}
	md.WriteString("\n")

	if len(out.ErrorsByKind) > 0 {
		md.WriteString("## Failures by Kind\n\n")
		kinds := make([]string, 0, len(out.ErrorsByKind))
		for k := range out.ErrorsByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			md.WriteString(fmt.Sprintf("- **%s:** %d\n", k, out.ErrorsByKind[form.ErrorKind(k)]))
		}
		md.WriteString("\n")
	}

	md.WriteString("## Metrics\n\n")
	md.WriteString(fmt.Sprintf("- **Succeeded:** %d\n", out.Succeeded))
	md.WriteString(fmt.Sprintf("- **Failed:** %d\n", out.Failed))
	md.WriteString(fmt.Sprintf("- **Skipped:** %d\n", out.Skipped))
	md.WriteString(fmt.Sprintf("- **Recoveries:** %d\n", out.Recovery.Recoveries))
	md.WriteString(fmt.Sprintf("- **Deferred Retries:** %d\n", out.Recovery.DeferredRetries))
	md.WriteString(fmt.Sprintf("- **Oracle Calls:** %d\n", out.Recovery.OracleCalls))
	md.WriteString(fmt.Sprintf("- **Terminal Failures:** %d\n", out.Recovery.TerminalFailures))
	return md.String()
}

func outcomeMark(o form.Outcome) string {
	switch o {
	case form.OutcomeSuccess:
		return "✅"
	case form.OutcomeFailed:
		return "❌"
	}
	return "⏭"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

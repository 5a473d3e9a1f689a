package executor

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/recovery"
)

// Level is the console verbosity.
type Level int

const (
	// LevelQuiet shows warnings, errors and the final summary.
	LevelQuiet Level = iota
	// LevelNormal shows one line per field (default).
	LevelNormal
	// LevelVerbose adds every attempt and recovery decision.
	LevelVerbose
	// LevelDebug adds internal details.
	LevelDebug
)

// ParseLevel converts quiet, normal, verbose or debug to a Level. Unknown
// values select LevelNormal.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "quiet":
		return LevelQuiet
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	default:
		return LevelNormal
	}
}

var (
	salmon = lipgloss.Color("#FFB3BA")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	infoStyle    = lipgloss.NewStyle().Foreground(salmon)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(salmon).Padding(0, 2)
)

// Console prints run progress for a human watching the terminal. Component
// logs go to the log file; the console only shows what a user acts on.
type Console struct {
	level  Level
	writer io.Writer
}

// NewConsole writes to stdout at level.
func NewConsole(level Level) *Console {
	return &Console{level: level, writer: os.Stdout}
}

// NewConsoleWriter writes to w at level.
func NewConsoleWriter(w io.Writer, level Level) *Console {
	return &Console{level: level, writer: w}
}

func (c *Console) printf(at Level, style lipgloss.Style, format string, args ...interface{}) {
	if c == nil || c.level < at {
		return
	}
	fmt.Fprintln(c.writer, style.Render(fmt.Sprintf(format, args...)))
}

// Header prints a prominent header.
func (c *Console) Header(message string) {
	if c == nil || c.level < LevelNormal {
		return
	}
	rule := strings.Repeat("=", 70)
	fmt.Fprintf(c.writer, "\n%s\n%s\n%s\n", headerStyle.Render(rule), headerStyle.Render("  "+message), headerStyle.Render(rule))
}

// Section prints a section divider.
func (c *Console) Section(title string) {
	if c == nil || c.level < LevelNormal {
		return
	}
	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, sectionStyle.Render("▶ "+title))
	fmt.Fprintln(c.writer, mutedStyle.Render(strings.Repeat("─", 50)))
}

// Successf prints a success line.
func (c *Console) Successf(format string, args ...interface{}) {
	c.printf(LevelNormal, successStyle, "✓ "+format, args...)
}

// Infof prints an informational line.
func (c *Console) Infof(format string, args ...interface{}) {
	c.printf(LevelNormal, infoStyle, format, args...)
}

// Warningf prints a warning, even in quiet mode.
func (c *Console) Warningf(format string, args ...interface{}) {
	c.printf(LevelQuiet, warnStyle, "⚠ Warning: "+format, args...)
}

// Errorf prints an error, even in quiet mode.
func (c *Console) Errorf(format string, args ...interface{}) {
	c.printf(LevelQuiet, errorStyle, "✗ Error: "+format, args...)
}

// Verbosef prints detail shown in verbose mode.
func (c *Console) Verbosef(format string, args ...interface{}) {
	c.printf(LevelVerbose, mutedStyle, "→ "+format, args...)
}

// Debugf prints debug detail.
func (c *Console) Debugf(format string, args ...interface{}) {
	c.printf(LevelDebug, mutedStyle, "[DEBUG] "+format, args...)
}

// Attempt reports one ExecutionResult. Normal mode shows the final result
// of each field; verbose mode shows failed attempts too.
func (c *Console) Attempt(res form.ExecutionResult, final bool) {
	if c == nil {
		return
	}
	switch {
	case c.level == LevelQuiet:
		return
	case c.level == LevelNormal && !final:
		return
	}

	label := fmt.Sprintf("%s (%s)", res.FieldID, res.Widget)
	switch res.Outcome {
	case form.OutcomeSuccess:
		fmt.Fprintln(c.writer, successStyle.Render(fmt.Sprintf("  ✓ %s", label))+mutedStyle.Render(fmt.Sprintf(" %s, attempt %d", res.Method, res.Attempt)))
	case form.OutcomeSkipped:
		fmt.Fprintln(c.writer, mutedStyle.Render(fmt.Sprintf("  ⏭ %s skipped: %s", label, res.Detail)))
	default:
		style := warnStyle
		if final {
			style = errorStyle
		}
		fmt.Fprintln(c.writer, style.Render(fmt.Sprintf("  ✗ %s %s", label, res.ErrorKind))+mutedStyle.Render(fmt.Sprintf(" %s, attempt %d", res.Method, res.Attempt)))
		if c.level >= LevelVerbose && res.Detail != "" {
			fmt.Fprintln(c.writer, mutedStyle.Render("    "+res.Detail))
		}
	}
}

// Decision reports a recovery decision.
func (c *Console) Decision(fieldID string, d recovery.Decision) {
	if d.Terminal {
		c.Verbosef("%s: %s", fieldID, d)
		return
	}
	c.printf(LevelVerbose, warnStyle, "  ↻ %s: %s", fieldID, d)
}

// Summary prints the final run summary. It is shown at every level.
func (c *Console) Summary(out *form.RunOutcome) {
	if c == nil || out == nil {
		return
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("FORM FILL SUMMARY") + "\n\n")
	b.WriteString("Status:   " + statusBadge(out.Status) + "\n")
	b.WriteString(fmt.Sprintf("Run:      %s\n", out.RunID))
	b.WriteString(fmt.Sprintf("Duration: %s\n", out.Duration.Round(time.Millisecond)))
	b.WriteString(fmt.Sprintf("Fields:   %s succeeded, %s failed, %s skipped\n",
		successStyle.Render(formatNumber(out.Succeeded)),
		errorStyle.Render(formatNumber(out.Failed)),
		mutedStyle.Render(formatNumber(out.Skipped))))
	b.WriteString(fmt.Sprintf("Recovery: %d recoveries, %d deferred, %d oracle calls, %d terminal\n",
		out.Recovery.Recoveries, out.Recovery.DeferredRetries, out.Recovery.OracleCalls, out.Recovery.TerminalFailures))

	if len(out.ErrorsByKind) > 0 {
		kinds := make([]string, 0, len(out.ErrorsByKind))
		for k := range out.ErrorsByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		b.WriteString("\nFailures:\n")
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("  • %s: %d\n", k, out.ErrorsByKind[form.ErrorKind(k)]))
		}
	}

	if c.level >= LevelVerbose {
		var failed []string
		for _, d := range out.Fields {
			if d.Outcome == form.OutcomeFailed {
				failed = append(failed, fmt.Sprintf("  • %s (%s)", d.FieldID, d.ErrorKind))
			}
		}
		if len(failed) > 0 {
			b.WriteString("\nFailed fields:\n" + strings.Join(failed, "\n") + "\n")
		}
	}

	if out.Aborted {
		b.WriteString("\n" + errorStyle.Render("Aborted: "+out.AbortReason) + "\n")
	}

	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func statusBadge(s form.RunStatus) string {
	switch s {
	case form.StatusSuccess:
		return successStyle.Render("✓ SUCCESS")
	case form.StatusPartialSuccess:
		return warnStyle.Render("⚠ PARTIAL SUCCESS")
	case form.StatusFailed:
		return errorStyle.Render("✗ FAILED")
	}
	return string(s)
}

// formatNumber formats large numbers with commas for readability
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

package executor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/recovery"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelQuiet, ParseLevel("quiet"))
	assert.Equal(t, LevelVerbose, ParseLevel("VERBOSE"))
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelNormal, ParseLevel("chatty"))
}

func TestConsoleLevels(t *testing.T) {
	failed := form.ExecutionResult{FieldID: "city", Widget: form.WidgetText, Outcome: form.OutcomeFailed,
		ErrorKind: form.ErrElementNotFound, Method: form.MethodDirectFill, Attempt: 1, Detail: "element detached"}

	t.Run("quiet shows only problems", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsoleWriter(&buf, LevelQuiet)
		c.Infof("hello")
		c.Attempt(failed, true)
		assert.Empty(t, buf.String())
		c.Errorf("boom")
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("normal hides intermediate attempts", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsoleWriter(&buf, LevelNormal)
		c.Attempt(failed, false)
		c.Decision("city", recovery.Decision{Retry: true, Defer: true})
		assert.Empty(t, buf.String())
		c.Attempt(failed, true)
		assert.Contains(t, buf.String(), "city (text)")
		assert.NotContains(t, buf.String(), "element detached")
	})

	t.Run("verbose shows details", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsoleWriter(&buf, LevelVerbose)
		c.Attempt(failed, false)
		assert.Contains(t, buf.String(), "element detached")
	})

	t.Run("nil console is silent", func(t *testing.T) {
		var c *Console
		c.Infof("ignored")
		c.Summary(&form.RunOutcome{})
	})
}

func TestSummaryShowsAbort(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, LevelVerbose)
	c.Summary(&form.RunOutcome{
		RunID:        "r1",
		Status:       form.StatusFailed,
		Aborted:      true,
		AbortReason:  "browser session lost",
		Failed:       1,
		ErrorsByKind: map[form.ErrorKind]int{form.ErrRunAborted: 1},
		Fields:       []form.FieldDisposition{{FieldID: "email", Outcome: form.OutcomeFailed, ErrorKind: form.ErrRunAborted}},
	})
	out := buf.String()
	assert.Contains(t, out, "FORM FILL SUMMARY")
	assert.Contains(t, out, "RunAborted: 1")
	assert.Contains(t, out, "email (RunAborted)")
	assert.Contains(t, out, "browser session lost")
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}

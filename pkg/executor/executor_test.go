package executor

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/driver/drivertest"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/handler"
	"github.com/entrhq/formforge/pkg/locator"
	"github.com/entrhq/formforge/pkg/oracle"
	"github.com/entrhq/formforge/pkg/outcome"
	"github.com/entrhq/formforge/pkg/profile"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RunTimeout = 5 * time.Second
	cfg.Locator = locator.Config{MaxFrameDepth: 2, ResolveTimeout: 30 * time.Millisecond, PollInterval: 2 * time.Millisecond}
	cfg.Handler = handler.Config{
		ActionTimeout:    time.Second,
		VerifyTimeout:    30 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		SettleWait:       30 * time.Millisecond,
		PrefixLength:     3,
		ConfirmSelectors: []string{"#confirmation"},
	}
	return cfg
}

func newExecutor(t *testing.T, doc *drivertest.Document, values map[string]string, cfg Config, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithRunID("test-run")}, opts...)
	e, err := New(doc, profile.New(values), cfg, opts...)
	require.NoError(t, err)
	return e
}

func field(id string, widget form.WidgetType) *form.FieldDescriptor {
	return &form.FieldDescriptor{ID: id, Selector: "#" + id, Label: id, Widget: widget}
}

func selectField(id string, options ...string) *form.FieldDescriptor {
	f := field(id, form.WidgetSelect)
	f.Options = form.NewOptionSet(options)
	return f
}

func resultsFor(out *form.RunOutcome, fieldID string) []form.ExecutionResult {
	var rs []form.ExecutionResult
	for _, r := range out.Results {
		if r.FieldID == fieldID {
			rs = append(rs, r)
		}
	}
	return rs
}

func TestRunScansClassifiesAndFills(t *testing.T) {
	doc := drivertest.NewDocument()
	email := doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#email"},
		Raw:       driver.RawElement{Tag: "input", Type: "email", Label: "Email", Attrs: map[string]string{"id": "email"}, Required: true},
	})
	country := doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#country"},
		Options:   []string{"United States", "Canada", "Mexico"},
		Raw: driver.RawElement{Tag: "select", Label: "Country", Attrs: map[string]string{"id": "country"},
			OuterHTML: `<select id="country"><option>United States</option><option>Canada</option><option>Mexico</option></select>`},
	})
	doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#resume"},
		Raw:       driver.RawElement{Tag: "input", Type: "file", Label: "Resume/CV", Attrs: map[string]string{"id": "resume"}},
	})
	submit := doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#submit"},
		Raw:       driver.RawElement{Tag: "button", Type: "submit", Label: "Submit application", Attrs: map[string]string{"id": "submit"}},
	})

	e := newExecutor(t, doc, map[string]string{"email": "ada@example.com", "country": "USA"}, testConfig())
	out, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", email.Value)
	assert.Equal(t, "United States", country.Selected)
	assert.False(t, submit.Checked, "submit is not clicked unless enabled")

	require.Len(t, out.Fields, 4)
	d, _ := out.Disposition("country")
	assert.Equal(t, form.OutcomeSuccess, d.Outcome)
	assert.Equal(t, form.MethodSemantic, d.LastMethod)

	d, _ = out.Disposition("resume")
	assert.Equal(t, form.OutcomeSkipped, d.Outcome)
	assert.Zero(t, d.Attempts)

	d, _ = out.Disposition("submit")
	assert.Equal(t, form.OutcomeSkipped, d.Outcome)

	assert.Equal(t, form.StatusSuccess, out.Status)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 2, out.Skipped)
	assert.Equal(t, "test-run", out.RunID)
}

func TestUnknownOptionEscalatesToOracleThenFails(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#color"}, Options: []string{"Red", "Blue"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})

	calls := 0
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		calls++
		assert.Equal(t, "Green", req.Desired)
		return oracle.Response{Index: oracle.NoSelection, Confidence: 0.9}, nil
	})

	e := newExecutor(t, doc, map[string]string{"color": "Green", "email": "a@b.c"}, testConfig(), WithOracle(o))
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{selectField("color", "Red", "Blue"), field("email", form.WidgetText)})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	d, _ := out.Disposition("color")
	assert.Equal(t, form.OutcomeFailed, d.Outcome)
	assert.Equal(t, form.ErrNoConfidentMatch, d.ErrorKind)
	assert.Zero(t, d.Attempts)
	assert.Zero(t, doc.Calls("select"))
	assert.Equal(t, 1, out.Recovery.OracleCalls)

	d, _ = out.Disposition("email")
	assert.Equal(t, form.OutcomeSuccess, d.Outcome, "the run continues after a failed field")
	assert.Equal(t, form.StatusPartialSuccess, out.Status)
}

func TestOracleErrorKindsReachDispositions(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantKind  form.ErrorKind
		wantCalls int
	}{
		{
			name:      "timeouts are retried up to the recovery bound",
			errs:      []error{form.NewFieldError(form.ErrOracleTimeout, "", "deadline"), form.NewFieldError(form.ErrOracleTimeout, "", "deadline"), form.NewFieldError(form.ErrOracleTimeout, "", "deadline")},
			wantKind:  form.ErrOracleTimeout,
			wantCalls: 3,
		},
		{
			name:      "malformed replies are not retried",
			errs:      []error{form.NewFieldError(form.ErrOracleMalformedResponse, "", "reply has no JSON object")},
			wantKind:  form.ErrOracleMalformedResponse,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := drivertest.NewDocument()
			doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#color"}, Options: []string{"Red", "Blue"}})

			calls := 0
			o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
				err := tt.errs[calls%len(tt.errs)]
				calls++
				return oracle.Response{}, err
			})

			dir := t.TempDir()
			e := newExecutor(t, doc, map[string]string{"color": "Green"}, testConfig(), WithOracle(o), WithSink(outcome.NewArtifactSink(dir)))
			out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{selectField("color", "Red", "Blue")})
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, calls)
			d, _ := out.Disposition("color")
			assert.Equal(t, form.OutcomeFailed, d.Outcome)
			assert.Equal(t, tt.wantKind, d.ErrorKind)
			assert.Equal(t, 1, out.ErrorsByKind[tt.wantKind])
			assert.Equal(t, tt.wantCalls, out.Recovery.OracleCalls)
			assert.Equal(t, tt.wantCalls-1, out.Recovery.Recoveries)

			data, err := os.ReadFile(dir + "/run.json")
			require.NoError(t, err)
			assert.Contains(t, string(data), `"error_kind": "`+string(tt.wantKind)+`"`)
		})
	}
}

func TestOracleTimeoutRetriedUntilAnswer(t *testing.T) {
	doc := drivertest.NewDocument()
	color := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#color"}, Options: []string{"Red", "Blue"}})

	calls := 0
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		calls++
		if calls == 1 {
			return oracle.Response{}, form.NewFieldError(form.ErrOracleTimeout, "", "deadline")
		}
		return oracle.Response{Index: 1, Confidence: 0.9}, nil
	})

	e := newExecutor(t, doc, map[string]string{"color": "Navy"}, testConfig(), WithOracle(o))
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{selectField("color", "Red", "Blue")})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, "Blue", color.Selected)
	d, _ := out.Disposition("color")
	assert.Equal(t, form.OutcomeSuccess, d.Outcome)
	assert.Equal(t, 1, out.Recovery.Recoveries)
}

func TestEmptyAttachmentSkipped(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#resume"}})

	e := newExecutor(t, doc, map[string]string{"resume": ""}, testConfig())
	f := field("resume", form.WidgetFile)
	f.Purpose = form.PurposeResume
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{f})
	require.NoError(t, err)

	d, _ := out.Disposition("resume")
	assert.Equal(t, form.OutcomeSkipped, d.Outcome)
	assert.Zero(t, d.Attempts)
	assert.Zero(t, doc.Calls("upload"))
}

func TestThreeMismatchesTerminateAndRunContinues(t *testing.T) {
	doc := drivertest.NewDocument()
	consent := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#consent"}, DropWrites: 3})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})

	e := newExecutor(t, doc, map[string]string{"consent": "Yes", "email": "a@b.c"}, testConfig())
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{
		field("consent", form.WidgetCheckboxGroup),
		field("email", form.WidgetText),
	})
	require.NoError(t, err)

	rs := resultsFor(out, "consent")
	require.Len(t, rs, 3)
	for i, r := range rs {
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, form.ErrVerificationMismatch, r.ErrorKind)
	}
	assert.False(t, consent.Checked)

	d, _ := out.Disposition("consent")
	assert.Equal(t, form.OutcomeFailed, d.Outcome)
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, 1, out.ErrorsByKind[form.ErrVerificationMismatch])
	assert.Equal(t, 2, out.Recovery.Recoveries)
	assert.Equal(t, 1, out.Recovery.TerminalFailures)

	d, _ = out.Disposition("email")
	assert.Equal(t, form.OutcomeSuccess, d.Outcome)
}

func TestAmbiguousElementFailsWithoutRecovery(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"input.auth"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"input.auth"}})

	e := newExecutor(t, doc, map[string]string{"token": "abc"}, testConfig())
	f := &form.FieldDescriptor{ID: "token", Selector: "input.auth", Widget: form.WidgetText}
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{f})
	require.NoError(t, err)

	rs := resultsFor(out, "token")
	require.Len(t, rs, 1)
	assert.Equal(t, form.ErrAmbiguousElement, rs[0].ErrorKind)
	assert.Zero(t, rs[0].Attempt)
	assert.Zero(t, out.Recovery.Recoveries)
	assert.Zero(t, doc.Calls("set_value"))
	assert.Equal(t, form.StatusFailed, out.Status)
}

func TestStaleElementRetryIsDeferred(t *testing.T) {
	doc := drivertest.NewDocument()
	city := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#city"}, Fail: driver.ErrDetached})
	doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#consent"},
		OnClick: func(e *drivertest.Element) {
			e.Checked = true
			city.Fail = nil
		},
	})

	e := newExecutor(t, doc, map[string]string{"city": "London", "consent": "yes"}, testConfig())
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{
		field("city", form.WidgetText),
		field("consent", form.WidgetCheckboxGroup),
	})
	require.NoError(t, err)

	require.Len(t, out.Results, 3)
	assert.Equal(t, "city", out.Results[0].FieldID)
	assert.Equal(t, form.ErrElementNotFound, out.Results[0].ErrorKind)
	assert.Equal(t, "consent", out.Results[1].FieldID)
	assert.Equal(t, "city", out.Results[2].FieldID)
	assert.True(t, out.Results[2].Succeeded())
	assert.Equal(t, 2, out.Results[2].Attempt)

	assert.Equal(t, "London", city.Value)
	assert.Equal(t, 1, out.Recovery.DeferredRetries)
	assert.Equal(t, form.StatusSuccess, out.Status)
}

func TestMissingProfileValues(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#phone"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#website"}})

	phone := field("phone", form.WidgetText)
	phone.Required = true
	e := newExecutor(t, doc, map[string]string{"website": "  "}, testConfig())
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{phone, field("website", form.WidgetText)})
	require.NoError(t, err)

	d, _ := out.Disposition("phone")
	assert.Equal(t, form.OutcomeFailed, d.Outcome)
	assert.Equal(t, form.ErrMissingProfileValue, d.ErrorKind)
	assert.Zero(t, d.Attempts)

	d, _ = out.Disposition("website")
	assert.Equal(t, form.OutcomeSkipped, d.Outcome, "optional fields without a value are skipped")
	assert.Zero(t, doc.Calls("set_value"))
}

func TestSubmitRunsLastWhenEnabled(t *testing.T) {
	doc := drivertest.NewDocument()
	var submit *drivertest.Element
	submit = doc.Add(form.MainFrame, &drivertest.Element{
		Selectors: []string{"#submit"},
		OnClick:   func(*drivertest.Element) { doc.Detach(submit) },
	})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})

	cfg := testConfig()
	cfg.Submit = true
	e := newExecutor(t, doc, map[string]string{"email": "a@b.c"}, cfg)

	btn := field("submit", form.WidgetClick)
	btn.Purpose = form.PurposeSubmit
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{btn, field("email", form.WidgetText)})
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "email", out.Results[0].FieldID)
	assert.Equal(t, "submit", out.Results[1].FieldID)
	assert.True(t, out.Results[1].Succeeded())
	assert.Equal(t, form.StatusSuccess, out.Status)
}

func TestRunTimeoutAbortsButReportsEveryField(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#slow"}, Hang: true})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})

	cfg := testConfig()
	cfg.RunTimeout = 50 * time.Millisecond
	e := newExecutor(t, doc, map[string]string{"slow": "x", "email": "a@b.c"}, cfg)
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{field("slow", form.WidgetText), field("email", form.WidgetText)})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, out.Aborted)
	d, _ := out.Disposition("slow")
	assert.Equal(t, form.OutcomeFailed, d.Outcome)
	assert.Equal(t, form.ErrActionTimeout, d.ErrorKind)

	d, _ = out.Disposition("email")
	assert.Equal(t, form.OutcomeSkipped, d.Outcome)
	assert.Equal(t, form.ErrRunAborted, d.ErrorKind)
	assert.Equal(t, form.StatusFailed, out.Status)
}

func TestSessionLossAbortsRun(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#phone"}})
	doc.LoseSession()

	e := newExecutor(t, doc, map[string]string{"email": "a@b.c", "phone": "1"}, testConfig())
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{field("email", form.WidgetText), field("phone", form.WidgetText)})
	require.ErrorIs(t, err, driver.ErrSessionLost)

	assert.True(t, out.Aborted)
	require.Len(t, out.Fields, 2)
	for _, d := range out.Fields {
		assert.Equal(t, form.ErrRunAborted, d.ErrorKind)
	}
}

func TestResultsReachSinks(t *testing.T) {
	dir := t.TempDir()
	trace, err := outcome.NewJSONLSink(dir, "trace", 0)
	require.NoError(t, err)
	artifacts := outcome.NewArtifactSink(dir)

	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#phone"}})

	var console bytes.Buffer
	e := newExecutor(t, doc, map[string]string{"email": "a@b.c"}, testConfig(),
		WithSink(outcome.MultiSink{trace, artifacts}),
		WithConsole(NewConsoleWriter(&console, LevelVerbose)))
	out, err := e.RunFields(context.Background(), []*form.FieldDescriptor{field("email", form.WidgetText), field("phone", form.WidgetText)})
	require.NoError(t, err)
	require.NoError(t, trace.Close())
	e.console.Summary(out)

	f, err := os.Open(trace.Files()[0])
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	assert.Equal(t, len(out.Results)+1, lines)

	assert.FileExists(t, dir+"/run.json")
	assert.FileExists(t, dir+"/summary.md")
	assert.FileExists(t, dir+"/metrics.json")

	assert.Contains(t, console.String(), "email (text)")
	assert.Contains(t, console.String(), "FORM FILL SUMMARY")
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, profile.New(nil), DefaultConfig())
	assert.Error(t, err)

	_, err = New(drivertest.NewDocument(), nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Classifier.SelectPatterns = []string{"[unterminated"}
	_, err = New(drivertest.NewDocument(), profile.New(nil), cfg)
	assert.ErrorContains(t, err, "classifier")
}

package locator

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/driver/drivertest"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxFrameDepth: 3, ResolveTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}
}

func TestResolveMainFrame(t *testing.T) {
	doc := drivertest.NewDocument()
	el := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#email"}})

	loc := New(doc, fastConfig())
	h, err := loc.Resolve(context.Background(), form.ElementRef{Selector: "#email"})
	require.NoError(t, err)
	assert.Same(t, el, h.Ref)
	assert.Equal(t, form.MainFrame, h.Frame)
}

func TestResolveSearchesNestedFramesBreadthFirst(t *testing.T) {
	doc := drivertest.NewDocument()
	outer := doc.AddFrame(form.MainFrame, "apply")
	inner := doc.AddFrame(outer, "widget")
	deep := doc.Add(inner, &drivertest.Element{Selectors: []string{"#resume"}})

	loc := New(doc, fastConfig())
	h, err := loc.Resolve(context.Background(), form.ElementRef{Selector: "#resume"})
	require.NoError(t, err)
	assert.Same(t, deep, h.Ref)
	assert.Equal(t, form.FramePath("apply/widget"), h.Frame)

	// A shallower match wins over a deeper one.
	doc2 := drivertest.NewDocument()
	a := doc2.AddFrame(form.MainFrame, "a")
	b := doc2.AddFrame(a, "b")
	shallow := doc2.Add(a, &drivertest.Element{Selectors: []string{"#x"}})
	doc2.Add(b, &drivertest.Element{Selectors: []string{"#x"}})
	h, err = New(doc2, fastConfig()).Resolve(context.Background(), form.ElementRef{Selector: "#x"})
	require.NoError(t, err)
	assert.Same(t, shallow, h.Ref)
}

func TestResolveRespectsDepthBound(t *testing.T) {
	doc := drivertest.NewDocument()
	a := doc.AddFrame(form.MainFrame, "a")
	b := doc.AddFrame(a, "b")
	doc.Add(b, &drivertest.Element{Selectors: []string{"#deep"}})

	cfg := fastConfig()
	cfg.MaxFrameDepth = 1
	_, err := New(doc, cfg).Resolve(context.Background(), form.ElementRef{Selector: "#deep"})
	require.Error(t, err)
	assert.Equal(t, form.ErrElementNotFound, form.KindOf(err))
}

func TestResolveNotFound(t *testing.T) {
	doc := drivertest.NewDocument()
	loc := New(doc, fastConfig())

	_, err := loc.Resolve(context.Background(), form.ElementRef{Selector: "#missing"})
	require.Error(t, err)
	assert.True(t, form.IsKind(err, form.ErrElementNotFound))
}

func TestResolveAmbiguousWithoutDisambiguator(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{".country"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{".country"}})

	loc := New(doc, fastConfig())
	_, err := loc.Resolve(context.Background(), form.ElementRef{Selector: ".country"})
	require.Error(t, err)
	assert.Equal(t, form.ErrAmbiguousElement, form.KindOf(err))
	assert.Equal(t, 1, doc.Calls("find"), "ambiguity is reported without polling")
}

func TestResolveDisambiguatesWithHint(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"select"}, Attrs: map[string]string{"name": "home_country"}})
	work := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"select"}, Attrs: map[string]string{"name": "work_country"}})

	loc := New(doc, fastConfig())
	h, err := loc.Resolve(context.Background(), form.ElementRef{
		Selector: "select",
		Hint:     map[string]string{"id": "unknown", "name": "work_country"},
	})
	require.NoError(t, err)
	assert.Same(t, work, h.Ref)
}

func TestResolveWaitsForLateElement(t *testing.T) {
	doc := drivertest.NewDocument()
	loc := New(doc, Config{ResolveTimeout: time.Second, PollInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(20 * time.Millisecond)
		doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#late"}})
	}()

	_, err := loc.Resolve(context.Background(), form.ElementRef{Selector: "#late"})
	require.NoError(t, err)
}

func TestCacheHitAndStaleness(t *testing.T) {
	doc := drivertest.NewDocument()
	el := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#name"}})
	loc := New(doc, fastConfig())
	ref := form.ElementRef{Selector: "#name"}

	_, err := loc.Resolve(context.Background(), ref)
	require.NoError(t, err)
	_, err = loc.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Calls("find"), "second resolve served from cache")
	assert.Equal(t, 1, loc.Stats().Hits)

	// Element replaced by a re-render: cached handle is stale.
	doc.Detach(el)
	replacement := doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#name"}})
	h, err := loc.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Same(t, replacement, h.Ref)
	assert.Equal(t, 1, loc.Stats().Stale)
}

func TestInvalidate(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#a"}})
	loc := New(doc, fastConfig())
	ref := form.ElementRef{Selector: "#a"}

	_, err := loc.Resolve(context.Background(), ref)
	require.NoError(t, err)

	loc.InvalidateRef(ref)
	_, err = loc.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Calls("find"))

	loc.Invalidate()
	_, err = loc.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Calls("find"))
	assert.Equal(t, 2, loc.Stats().Invalidations)
}

func TestResolveSessionLost(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.LoseSession()

	_, err := New(doc, fastConfig()).Resolve(context.Background(), form.ElementRef{Selector: "#a"})
	assert.ErrorIs(t, err, driver.ErrSessionLost)
}

func TestProbe(t *testing.T) {
	doc := drivertest.NewDocument()
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{"#a"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{".dup"}})
	doc.Add(form.MainFrame, &drivertest.Element{Selectors: []string{".dup"}})
	loc := New(doc, fastConfig())
	ctx := context.Background()

	require.NoError(t, loc.Probe(ctx, form.ElementRef{Selector: "#later"}))
	assert.True(t, form.IsKind(loc.Probe(ctx, form.ElementRef{Selector: ".dup"}), form.ErrAmbiguousElement))

	require.NoError(t, loc.Probe(ctx, form.ElementRef{Selector: "#a"}))
	finds := doc.Calls("find")
	_, err := loc.Resolve(ctx, form.ElementRef{Selector: "#a"})
	require.NoError(t, err)
	assert.Equal(t, finds, doc.Calls("find"))
}

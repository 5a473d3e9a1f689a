package form

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePath(t *testing.T) {
	assert.Equal(t, 0, MainFrame.Depth())
	assert.Equal(t, "main", MainFrame.String())

	p := MainFrame.Child("apply").Child("inner")
	assert.Equal(t, FramePath("apply/inner"), p)
	assert.Equal(t, 2, p.Depth())
	assert.Equal(t, []string{"apply", "inner"}, p.Segments())
}

func TestOptionSetLoadsOnce(t *testing.T) {
	opts := NewLazyOptionSet()
	assert.True(t, opts.Lazy())
	assert.False(t, opts.Loaded())
	assert.Empty(t, opts.Labels())

	require.True(t, opts.Load([]string{"Yes", "No"}))
	assert.False(t, opts.Load([]string{"Maybe"}), "second load must be rejected")
	assert.Equal(t, []string{"Yes", "No"}, opts.Labels())

	eager := NewOptionSet([]string{"A"})
	assert.True(t, eager.Loaded())
	assert.False(t, eager.Load([]string{"B"}))

	var missing *OptionSet
	assert.Nil(t, missing.Labels())
	assert.False(t, missing.Loaded())
}

func TestActionContextAttempts(t *testing.T) {
	field := &FieldDescriptor{ID: "country", Widget: WidgetSelect}
	ac := NewActionContext(field, ProfileValue{Key: "country", Value: "USA"}, Strategy{Method: MethodSemantic, Target: "United States"})

	assert.NotEmpty(t, ac.ID)
	assert.Equal(t, 0, ac.Attempts())
	assert.Equal(t, 1, ac.BeginAttempt())

	assert.True(t, ac.HasTried(Strategy{Method: MethodSemantic, Target: "united states"}))
	ac.Revise(Strategy{Method: MethodSemantic, Target: "Canada"})
	assert.False(t, ac.HasTried(ac.Strategy))
	assert.Equal(t, 2, ac.BeginAttempt())
	assert.Len(t, ac.Tried(), 2)
}

func TestFieldErrorKinds(t *testing.T) {
	base := NewFieldError(ErrVerificationMismatch, "email", "expected %q, read %q", "a@b.c", "")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, ErrVerificationMismatch, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrVerificationMismatch))
	assert.Equal(t, ErrInternal, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Contains(t, base.Error(), "field email (VerificationMismatch)")

	cause := errors.New("socket closed")
	fe := WrapFieldError(ErrActionTimeout, "", cause)
	assert.ErrorIs(t, fe, cause)
}

func TestErrorKindClassification(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
		stale     bool
	}{
		{ErrElementNotFound, true, true},
		{ErrActionTimeout, true, true},
		{ErrVerificationMismatch, true, false},
		{ErrAmbiguousElement, false, false},
		{ErrAttachmentInvalid, false, false},
		{ErrMissingProfileValue, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
			assert.Equal(t, tt.stale, tt.kind.Stale())
		})
	}
}

func TestProfileValueText(t *testing.T) {
	assert.Equal(t, "Go, Rust", ProfileValue{Kind: KindComposite, Items: []string{"Go", "Rust"}}.Text())
	assert.Equal(t, "plain", ProfileValue{Kind: KindLiteral, Value: "plain"}.Text())
}

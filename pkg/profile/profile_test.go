package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/formforge/pkg/form"
)

const sample = `
values:
  personal:
    first_name: Ada
    last_name: Lovelace
    email: ada@example.com
  education:
    school: University of London
  work:
    school: Analytical Engines Ltd
  country: United Kingdom
  sponsorship: false
  languages: [English, French]
documents:
  resume: docs/resume.pdf
  cover_letter: ""
answers:
  "Are you  legally authorized to work in the US?": "Yes"
  question_42: "Referral"
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sample), "/home/ada")
	require.NoError(t, err)

	t.Run("dotted keys and leaf aliases", func(t *testing.T) {
		v, ok := p.Get("personal.email")
		require.True(t, ok)
		assert.Equal(t, "ada@example.com", v.Value)

		v, ok = p.Get("email")
		require.True(t, ok)
		assert.Equal(t, "ada@example.com", v.Value)
		assert.Equal(t, form.KindLiteral, v.Kind)
	})

	t.Run("ambiguous leaf has no alias", func(t *testing.T) {
		_, ok := p.Get("school")
		assert.False(t, ok)
		v, ok := p.Get("education.school")
		require.True(t, ok)
		assert.Equal(t, "University of London", v.Value)
	})

	t.Run("scalars are stringified", func(t *testing.T) {
		v, _ := p.Get("sponsorship")
		assert.Equal(t, "false", v.Value)
	})

	t.Run("lists become composite values", func(t *testing.T) {
		v, ok := p.Get("languages")
		require.True(t, ok)
		assert.Equal(t, form.KindComposite, v.Kind)
		assert.Equal(t, "English, French", v.Text())
	})

	t.Run("documents resolve against the profile directory", func(t *testing.T) {
		v, ok := p.Get(form.PurposeResume)
		require.True(t, ok)
		assert.Equal(t, form.KindFilePath, v.Kind)
		assert.Equal(t, filepath.Join("/home/ada", "docs/resume.pdf"), v.Value)

		v, ok = p.Get(form.PurposeCoverLetter)
		require.True(t, ok, "an empty document path is still present")
		assert.Empty(t, v.Value)
	})
}

func TestLookup(t *testing.T) {
	p, err := Parse([]byte(sample), "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		field *form.FieldDescriptor
		want  string
		found bool
	}{
		{"by purpose", &form.FieldDescriptor{ID: "first", Purpose: form.PurposeFirstName}, "Ada", true},
		{"by label answer", &form.FieldDescriptor{ID: "q1", Label: "Are you legally authorized to work in the US?", Purpose: form.PurposeYesNo}, "Yes", true},
		{"by id answer", &form.FieldDescriptor{ID: "question_42", Label: "How did you hear about us?"}, "Referral", true},
		{"answers win over purpose", &form.FieldDescriptor{ID: "question_42", Purpose: form.PurposeCountry}, "Referral", true},
		{"full name composed", &form.FieldDescriptor{ID: "name", Purpose: form.PurposeFullName}, "Ada Lovelace", true},
		{"by id key", &form.FieldDescriptor{ID: "country"}, "United Kingdom", true},
		{"missing", &form.FieldDescriptor{ID: "salary", Label: "Expected salary"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := p.Lookup(tt.field)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, v.Value)
		})
	}
}

func TestNew(t *testing.T) {
	p := New(map[string]string{"resume": "", "email": "a@b.c"})

	v, ok := p.Get("resume")
	require.True(t, ok)
	assert.Equal(t, form.KindFilePath, v.Kind)
	assert.Equal(t, []string{"email", "resume"}, p.Keys())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("documents:\n  resume: resume.pdf\n"), 0600))

	p, err := Load(path)
	require.NoError(t, err)
	v, _ := p.Get("resume")
	assert.Equal(t, filepath.Join(dir, "resume.pdf"), v.Value)

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read profile")
}

func TestParseRejectsNestedLists(t *testing.T) {
	_, err := Parse([]byte("values:\n  jobs:\n    - title: engineer\n"), "")
	assert.ErrorContains(t, err, "list items must be scalars")
}

// Package profile loads the applicant profile and resolves the value a form
// field should receive. A Profile is read-only once loaded.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("profile")
	if err != nil {
		debugLog.Warnf("Failed to initialize profile logger, using stderr fallback: %v", err)
	}
}

// document purposes are stored as file paths.
var documentKeys = map[string]bool{
	form.PurposeResume:      true,
	form.PurposeCoverLetter: true,
}

// file is the on-disk layout.
//
//	values:
//	  personal:
//	    first_name: Ada
//	  languages: [English, French]
//	documents:
//	  resume: ./resume.pdf
//	answers:
//	  "Are you authorized to work in the US?": "Yes"
type file struct {
	Values    map[string]interface{} `yaml:"values"`
	Documents map[string]string      `yaml:"documents"`
	Answers   map[string]interface{} `yaml:"answers"`
}

// Profile maps purpose keys, field IDs and labels to values.
type Profile struct {
	values  map[string]form.ProfileValue
	aliases map[string]string
	answers map[string]form.ProfileValue
}

// New builds a profile from flat key/value pairs.
func New(values map[string]string) *Profile {
	p := empty()
	for k, v := range values {
		p.set(k, form.ProfileValue{Key: k, Value: v, Kind: kindFor(k)})
	}
	return p
}

func empty() *Profile {
	return &Profile{
		values:  make(map[string]form.ProfileValue),
		aliases: make(map[string]string),
		answers: make(map[string]form.ProfileValue),
	}
}

// Load reads a YAML profile. Relative document paths are resolved against
// the profile's directory.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile path: %w", err)
	}
	p, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	debugLog.Infof("Loaded profile %s with %d values and %d answers", path, len(p.values), len(p.answers))
	return p, nil
}

// Parse decodes a YAML profile. baseDir anchors relative document paths.
func Parse(data []byte, baseDir string) (*Profile, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	p := empty()
	if err := p.flatten("", f.Values); err != nil {
		return nil, err
	}
	for key, path := range f.Documents {
		path = strings.TrimSpace(path)
		if path != "" && !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		p.set(key, form.ProfileValue{Key: key, Value: path, Kind: form.KindFilePath})
	}
	for question, raw := range f.Answers {
		v, err := toValue(question, raw)
		if err != nil {
			return nil, err
		}
		p.answers[normalize(question)] = v
	}
	p.resolveAliases()
	return p, nil
}

func (p *Profile) flatten(prefix string, m map[string]interface{}) error {
	for k, raw := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := raw.(map[string]interface{}); ok {
			if err := p.flatten(key, nested); err != nil {
				return err
			}
			continue
		}
		v, err := toValue(key, raw)
		if err != nil {
			return err
		}
		if documentKeys[k] && v.Kind == form.KindLiteral {
			v.Kind = form.KindFilePath
		}
		p.set(key, v)
	}
	return nil
}

func toValue(key string, raw interface{}) (form.ProfileValue, error) {
	switch v := raw.(type) {
	case nil:
		return form.ProfileValue{Key: key, Kind: form.KindLiteral}, nil
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if _, nested := item.(map[string]interface{}); nested {
				return form.ProfileValue{}, fmt.Errorf("profile key %s: list items must be scalars", key)
			}
			items = append(items, fmt.Sprint(item))
		}
		return form.ProfileValue{Key: key, Kind: form.KindComposite, Items: items}, nil
	case map[string]interface{}:
		return form.ProfileValue{}, fmt.Errorf("profile key %s: expected a scalar or list", key)
	default:
		return form.ProfileValue{Key: key, Value: fmt.Sprint(v), Kind: form.KindLiteral}, nil
	}
}

func (p *Profile) set(key string, v form.ProfileValue) {
	p.values[key] = v
}

// resolveAliases lets the last segment of a dotted key stand for the whole
// key unless two keys share it.
func (p *Profile) resolveAliases() {
	seen := make(map[string]int)
	for key := range p.values {
		if i := strings.LastIndex(key, "."); i >= 0 {
			seen[key[i+1:]]++
		}
	}
	for key := range p.values {
		i := strings.LastIndex(key, ".")
		if i < 0 {
			continue
		}
		leaf := key[i+1:]
		if _, direct := p.values[leaf]; direct || seen[leaf] > 1 {
			continue
		}
		p.aliases[leaf] = key
	}
}

func kindFor(key string) form.ValueKind {
	if documentKeys[key] {
		return form.KindFilePath
	}
	return form.KindLiteral
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Get returns the value stored under key, a dotted path or its leaf.
func (p *Profile) Get(key string) (form.ProfileValue, bool) {
	if v, ok := p.values[key]; ok {
		return v, true
	}
	if full, ok := p.aliases[key]; ok {
		return p.values[full], true
	}
	return form.ProfileValue{}, false
}

// Lookup returns the value for field. Explicit answers keyed by field ID or
// label win over the field's purpose.
func (p *Profile) Lookup(field *form.FieldDescriptor) (form.ProfileValue, bool) {
	if v, ok := p.answers[normalize(field.ID)]; ok {
		return v, true
	}
	if field.Label != "" {
		if v, ok := p.answers[normalize(field.Label)]; ok {
			return v, true
		}
	}
	if field.Purpose != "" {
		if v, ok := p.Get(field.Purpose); ok {
			return v, true
		}
		if field.Purpose == form.PurposeFullName {
			if v, ok := p.fullName(); ok {
				return v, true
			}
		}
	}
	return p.Get(field.ID)
}

func (p *Profile) fullName() (form.ProfileValue, bool) {
	first, ok1 := p.Get(form.PurposeFirstName)
	last, ok2 := p.Get(form.PurposeLastName)
	if !ok1 || !ok2 {
		return form.ProfileValue{}, false
	}
	name := strings.TrimSpace(first.Value + " " + last.Value)
	return form.ProfileValue{Key: form.PurposeFullName, Value: name, Kind: form.KindLiteral}, name != ""
}

// Keys returns every stored key, sorted.
func (p *Profile) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

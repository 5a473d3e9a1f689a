package match

import (
	"strings"

	"github.com/entrhq/formforge/pkg/form"
)

var (
	institutionPrefixes = []string{"the university of ", "university of ", "college of ", "institute of ", "school of ", "the "}
	institutionSuffixes = []string{" university", " college", " institute", " school"}
	initialsSkip        = map[string]bool{"of": true, "the": true, "and": true, "for": true, "a": true, "an": true}
)

var stateAbbrev = map[string]string{
	"alabama": "al", "alaska": "ak", "arizona": "az", "arkansas": "ar",
	"california": "ca", "colorado": "co", "connecticut": "ct", "delaware": "de",
	"florida": "fl", "georgia": "ga", "hawaii": "hi", "idaho": "id",
	"illinois": "il", "indiana": "in", "iowa": "ia", "kansas": "ks",
	"kentucky": "ky", "louisiana": "la", "maine": "me", "maryland": "md",
	"massachusetts": "ma", "michigan": "mi", "minnesota": "mn", "mississippi": "ms",
	"missouri": "mo", "montana": "mt", "nebraska": "ne", "nevada": "nv",
	"new hampshire": "nh", "new jersey": "nj", "new mexico": "nm", "new york": "ny",
	"north carolina": "nc", "north dakota": "nd", "ohio": "oh", "oklahoma": "ok",
	"oregon": "or", "pennsylvania": "pa", "rhode island": "ri", "south carolina": "sc",
	"south dakota": "sd", "tennessee": "tn", "texas": "tx", "utah": "ut",
	"vermont": "vt", "virginia": "va", "washington": "wa", "west virginia": "wv",
	"wisconsin": "wi", "wyoming": "wy",
	"district of columbia": "dc", "puerto rico": "pr",
}

// StateAbbreviation returns the two-letter code of a US state name.
func StateAbbreviation(name string) (string, bool) {
	code, ok := stateAbbrev[Normalize(name)]
	return code, ok
}

type variantSet struct {
	seen  map[string]bool
	items []string
}

func (v *variantSet) add(s string) {
	s = Normalize(s)
	if s == "" || v.seen[s] {
		return
	}
	v.seen[s] = true
	v.items = append(v.items, s)
}

func initials(normalized string) string {
	var b strings.Builder
	for _, w := range strings.Fields(normalized) {
		if !initialsSkip[w] {
			b.WriteString(w[:1])
		}
	}
	return b.String()
}

// labelForms splits an option label into the forms compared against every
// target variant (the normalized label and its institution-stripped forms)
// and its initials, which are only compared against the normalized target.
func labelForms(label string) (forms, abbrevs []string) {
	normalized := Normalize(label)
	if normalized == "" {
		return nil, nil
	}
	fs := &variantSet{seen: make(map[string]bool)}
	fs.add(normalized)
	padded := normalized + " "
	for _, prefix := range institutionPrefixes {
		if strings.HasPrefix(padded, prefix) {
			fs.add(strings.TrimSpace(padded[len(prefix):]))
		}
	}
	for _, suffix := range institutionSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			fs.add(strings.TrimSuffix(normalized, suffix))
		}
	}

	as := &variantSet{seen: make(map[string]bool)}
	for _, f := range fs.items {
		if len(strings.Fields(f)) < 2 {
			continue
		}
		if ini := initials(f); len(ini) > 1 && !fs.seen[ini] {
			as.add(ini)
		}
	}
	return fs.items, as.items
}

// Variants returns normalized lexical variants of value, the normalized
// value first. Purpose-specific variants are added for schools, locations,
// degrees and yes/no style answers.
func Variants(value, purpose string) []string {
	set := &variantSet{seen: make(map[string]bool)}
	normalized := Normalize(value)
	set.add(normalized)
	if normalized == "" {
		return nil
	}

	if words := strings.Fields(normalized); len(words) > 1 {
		if ini := initials(normalized); len(ini) > 1 {
			set.add(ini)
		}
	}

	padded := normalized + " "
	for _, prefix := range institutionPrefixes {
		if strings.HasPrefix(padded, prefix) {
			stripped := strings.TrimSpace(padded[len(prefix):])
			set.add(stripped)
			if ini := initials(stripped); len(ini) > 1 && len(strings.Fields(stripped)) > 1 {
				set.add(ini)
			}
		}
	}
	for _, suffix := range institutionSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			set.add(strings.TrimSuffix(normalized, suffix))
		}
	}

	switch purpose {
	case form.PurposeLocation, form.PurposeCountry:
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		set.add(parts[0])
		if len(parts) > 1 {
			if code, ok := StateAbbreviation(parts[1]); ok {
				set.add(parts[0] + " " + code)
				set.add(code)
			} else {
				set.add(parts[1])
			}
		}
		if code, ok := StateAbbreviation(normalized); ok {
			set.add(code)
		}
	case form.PurposeDegree:
		switch {
		case strings.Contains(normalized, "bachelor"):
			set.add("bs")
			set.add("ba")
		case strings.Contains(normalized, "master"):
			set.add("ms")
			set.add("ma")
			set.add("mba")
		case strings.Contains(normalized, "doctor"), strings.Contains(normalized, "phd"):
			set.add("phd")
		case strings.Contains(normalized, "associate"):
			set.add("aa")
			set.add("as")
		}
	case form.PurposeYesNo, form.PurposeDemographic:
		switch normalized {
		case "yes", "y", "true":
			set.add("yes")
			set.add("y")
		case "no", "n", "false":
			set.add("no")
			set.add("n")
		case "prefer not to say", "decline":
			set.add("decline to self identify")
			set.add("i dont wish to answer")
			set.add("decline")
		}
	}
	return set.items
}

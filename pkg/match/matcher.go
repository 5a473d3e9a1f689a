// Package match scores how closely option labels match a desired value and
// picks the best candidate above an acceptance threshold.
package match

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// DefaultThreshold is the minimum similarity accepted as an automatic match.
const DefaultThreshold = 0.70

const scoreEpsilon = 1e-9

// Match is one scored candidate.
type Match struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float64 `json:"score"`
	// Variant is the target variant or label initials that produced the
	// score.
	Variant string `json:"variant,omitempty"`

	distance int
}

// Matcher compares a target against candidate labels.
type Matcher struct {
	threshold float64
}

// New returns a matcher with the given threshold. Values outside (0, 1]
// fall back to DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// BestMatch returns the highest scoring candidate for target, or false when
// no candidate reaches the threshold.
func (m *Matcher) BestMatch(target string, candidates []string) (Match, bool) {
	return m.BestMatchFor(target, "", candidates)
}

// BestMatchFor is BestMatch with purpose-specific target variants.
func (m *Matcher) BestMatchFor(target, purpose string, candidates []string) (Match, bool) {
	ranked := m.RankFor(target, purpose, candidates)
	if len(ranked) == 0 {
		return Match{}, false
	}
	return ranked[0], true
}

// Rank returns every candidate at or above the threshold, best first.
func (m *Matcher) Rank(target string, candidates []string) []Match {
	return m.RankFor(target, "", candidates)
}

// RankFor is Rank with purpose-specific target variants. Equal scores are
// ordered by edit distance to the normalized target, then by position.
func (m *Matcher) RankFor(target, purpose string, candidates []string) []Match {
	scored := m.Score(target, purpose, candidates)
	out := scored[:0]
	for _, s := range scored {
		if s.Score+scoreEpsilon >= m.threshold {
			out = append(out, s)
		}
	}
	return out
}

// Score returns every candidate with its score, best first, regardless of
// the threshold.
func (m *Matcher) Score(target, purpose string, candidates []string) []Match {
	targetVariants := Variants(target, purpose)
	if len(targetVariants) == 0 {
		return nil
	}
	normTarget := targetVariants[0]

	out := make([]Match, 0, len(candidates))
	for i, cand := range candidates {
		forms, abbrevs := labelForms(cand)
		if len(forms) == 0 {
			continue
		}
		best := Match{Label: cand, Index: i}
		for _, tv := range targetVariants {
			for _, cf := range forms {
				if score := Ratio(tv, cf); score > best.Score+scoreEpsilon {
					best.Score = score
					best.Variant = tv
				}
			}
		}
		// Initials never meet initials: two labels sharing them say nothing
		// about each other.
		for _, ab := range abbrevs {
			if score := Ratio(normTarget, ab); score > best.Score+scoreEpsilon {
				best.Score = score
				best.Variant = ab
			}
		}
		best.distance = levenshtein.ComputeDistance(normTarget, forms[0])
		out = append(out, best)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if diff := a.Score - b.Score; diff > scoreEpsilon || diff < -scoreEpsilon {
			return a.Score > b.Score
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.Index < b.Index
	})
	return out
}

// Exact returns the first candidate whose label equals target ignoring case
// and surrounding whitespace.
func Exact(target string, candidates []string) (Match, bool) {
	want := foldTrim(target)
	if want == "" {
		return Match{}, false
	}
	for i, c := range candidates {
		if foldTrim(c) == want {
			return Match{Label: c, Index: i, Score: 1}, true
		}
	}
	return Match{}, false
}

func foldTrim(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

package classify

import (
	"strings"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
)

type purposeRule struct {
	purpose  string
	keywords []string
}

// purposeRules is checked in order; the first rule with a keyword found in
// the label or identifying attributes wins. More specific rules come first.
var purposeRules = []purposeRule{
	{form.PurposeResume, []string{"resume", "résumé", "cv", "curriculum vitae"}},
	{form.PurposeCoverLetter, []string{"cover letter", "cover_letter", "coverletter"}},
	{form.PurposeFirstName, []string{"first name", "first_name", "firstname", "given name", "fname"}},
	{form.PurposeLastName, []string{"last name", "last_name", "lastname", "family name", "surname", "lname"}},
	{form.PurposeFullName, []string{"full name", "full_name", "fullname", "your name"}},
	{form.PurposeEmail, []string{"email", "e-mail"}},
	{form.PurposePhone, []string{"phone", "telephone", "mobile", "cell"}},
	{form.PurposeLinkedIn, []string{"linkedin"}},
	{form.PurposeWebsite, []string{"website", "portfolio", "github", "url"}},
	{form.PurposeSchool, []string{"school", "university", "college", "institution", "education"}},
	{form.PurposeDegree, []string{"degree", "qualification"}},
	{form.PurposeDiscipline, []string{"discipline", "major", "field of study"}},
	{form.PurposeCountry, []string{"country"}},
	{form.PurposeLocation, []string{"location", "city", "address", "state", "where are you based"}},
	{form.PurposeDemographic, []string{"gender", "race", "ethnicity", "veteran", "disability", "hispanic"}},
	{form.PurposeYesNo, []string{"are you", "do you", "will you", "have you", "authorized", "sponsorship", "consent"}},
}

// InferPurpose guesses what a field asks for from its label and identifying
// attributes. It returns "" when nothing matches.
func InferPurpose(label string, raw driver.RawElement, widget form.WidgetType) string {
	if widget == form.WidgetClick {
		typ := strings.ToLower(raw.Type)
		if typ == "submit" || strings.Contains(strings.ToLower(label), "submit") {
			return form.PurposeSubmit
		}
	}

	subjects := []string{strings.ToLower(label)}
	for _, a := range []string{"name", "id", "aria-label", "placeholder", "autocomplete"} {
		if v := raw.Attr(a); v != "" {
			subjects = append(subjects, strings.ToLower(v))
		}
	}

	for _, rule := range purposeRules {
		for _, subject := range subjects {
			if containsKeyword(subject, rule.keywords) {
				return rule.purpose
			}
		}
	}
	if l := strings.ToLower(strings.TrimSpace(label)); l == "name" || l == "name*" {
		return form.PurposeFullName
	}
	return ""
}

// containsKeyword matches short keywords only on word boundaries so that
// "cv" does not match "cvv" and "cell" does not match "excellent".
func containsKeyword(subject string, keywords []string) bool {
	for _, kw := range keywords {
		if len(kw) > 4 {
			if strings.Contains(subject, kw) {
				return true
			}
			continue
		}
		for _, word := range strings.FieldsFunc(subject, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
		}) {
			if word == kw {
				return true
			}
		}
	}
	return false
}

package form

// Purpose keys describe what a field asks for. They drive profile lookup and
// which lexical variants the matcher generates.
const (
	PurposeFirstName   = "first_name"
	PurposeLastName    = "last_name"
	PurposeFullName    = "full_name"
	PurposeEmail       = "email"
	PurposePhone       = "phone"
	PurposeLocation    = "location"
	PurposeCountry     = "country"
	PurposeSchool      = "school"
	PurposeDegree      = "degree"
	PurposeDiscipline  = "discipline"
	PurposeResume      = "resume"
	PurposeCoverLetter = "cover_letter"
	PurposeLinkedIn    = "linkedin"
	PurposeWebsite     = "website"
	PurposeDemographic = "demographic"
	PurposeYesNo       = "yes_no"
	PurposeSubmit      = "submit"
)

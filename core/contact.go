package core

import "strings"

// Contact is the subset of contact attributes selection criteria can target.
type Contact struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	Company        string
	JobTitle       string
	Country        string
	Industry       string
	LifecycleStage string
	Tags           []string
}

const (
	ContactFieldEmail          = "email"
	ContactFieldFirstName      = "first_name"
	ContactFieldLastName       = "last_name"
	ContactFieldCompany        = "company"
	ContactFieldJobTitle       = "job_title"
	ContactFieldCountry        = "country"
	ContactFieldIndustry       = "industry"
	ContactFieldLifecycleStage = "lifecycle_stage"
	ContactFieldTags           = "tags"
)

// ContactFields lists the attribute names selection criteria may reference.
func ContactFields() []string {
	return []string{
		ContactFieldEmail,
		ContactFieldFirstName,
		ContactFieldLastName,
		ContactFieldCompany,
		ContactFieldJobTitle,
		ContactFieldCountry,
		ContactFieldIndustry,
		ContactFieldLifecycleStage,
		ContactFieldTags,
	}
}

func IsContactField(field string) bool {
	field = strings.TrimSpace(strings.ToLower(field))
	for _, candidate := range ContactFields() {
		if candidate == field {
			return true
		}
	}
	return false
}

// Field returns the values of a named attribute. Scalar attributes yield a
// single value; tags yield one value per tag.
func (c Contact) Field(name string) []string {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case ContactFieldEmail:
		return []string{c.Email}
	case ContactFieldFirstName:
		return []string{c.FirstName}
	case ContactFieldLastName:
		return []string{c.LastName}
	case ContactFieldCompany:
		return []string{c.Company}
	case ContactFieldJobTitle:
		return []string{c.JobTitle}
	case ContactFieldCountry:
		return []string{c.Country}
	case ContactFieldIndustry:
		return []string{c.Industry}
	case ContactFieldLifecycleStage:
		return []string{c.LifecycleStage}
	case ContactFieldTags:
		return append([]string(nil), c.Tags...)
	default:
		return nil
	}
}

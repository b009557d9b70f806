package models

// AccountType labels what a person record actually represents. Sync sources
// routinely deliver schools, rescue groups, and apartment complexes as
// "people"; the classifier tags them so matching and search can de-prioritize
// non-person records.
type AccountType string

const (
	AccountTypePerson          AccountType = "person"
	AccountTypeOrganization    AccountType = "organization"
	AccountTypePlace           AccountType = "place"
	AccountTypeInternalProject AccountType = "internal_project"
	AccountTypeDuplicateMarker AccountType = "duplicate_marker"
)

// DefaultAccountTypeConfidence is the confidence assigned when no heuristic
// rule matches and the record is assumed to be an ordinary person.
const DefaultAccountTypeConfidence = 0.70

// AccountTypeClassification is the derived label for a person record. It is
// recomputed idempotently from the display name; a stored classification is
// only replaced by one with strictly higher confidence, or when the stored
// type is still the default person.
type AccountTypeClassification struct {
	Type       AccountType
	Confidence float64
	Reason     string
}

// ShouldReplace reports whether a freshly computed classification may
// overwrite the stored one. Higher-confidence labels are never downgraded by
// a lower-confidence re-run.
func (c AccountTypeClassification) ShouldReplace(stored *AccountTypeClassification) bool {
	if stored == nil {
		return true
	}
	if stored.Type == AccountTypePerson && c.Type != AccountTypePerson {
		return true
	}
	return c.Confidence > stored.Confidence
}

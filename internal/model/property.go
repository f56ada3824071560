package model

// Property is a single validation target read from the Property Source.
// Immutable within a run; unique by ID.
type Property struct {
	ID                    string
	DisplayName           string
	TargetURL             string
	ExpectedAnalyticsID   string
	ExpectedTagManagerID  string
	UsesConsentMode       bool
	Slug                  string
	IsActive              bool
}

// HasExpectedAnalyticsID reports whether the property declares an analytics
// identifier to check against.
func (p Property) HasExpectedAnalyticsID() bool {
	return p.ExpectedAnalyticsID != ""
}

// HasExpectedTagManagerID reports whether the property declares a
// tag-manager identifier to check against.
func (p Property) HasExpectedTagManagerID() bool {
	return p.ExpectedTagManagerID != ""
}

// Package eligibility classifies reported studio hours for jurisdiction
// specific tax treatment. Everything here is pure so historical time
// entries can be replayed offline and produce the same result.
package eligibility

import "strings"

// Jurisdictions is the set of jurisdiction codes whose hours qualify.
type Jurisdictions map[string]struct{}

// NewJurisdictions builds a set from codes. Codes are stored as given after
// trimming; matching against reported states is exact.
func NewJurisdictions(codes ...string) Jurisdictions {
	set := make(Jurisdictions, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// Contains reports whether code is an eligible jurisdiction.
func (j Jurisdictions) Contains(code string) bool {
	_, ok := j[code]
	return ok
}

// ComputeEligibleHours returns reportedHours when the reported state is an
// eligible jurisdiction and the talent is flagged eligible, and 0 otherwise.
// No rounding is applied.
func ComputeEligibleHours(reportedHours float64, reportedState *string, talentEligible bool, jurisdictions Jurisdictions) float64 {
	if !talentEligible || reportedState == nil {
		return 0
	}
	if !jurisdictions.Contains(*reportedState) {
		return 0
	}
	return reportedHours
}

// LocationVerified reports whether the report carried both coordinates.
// It is evidence about the report, not an input to the hours rule.
func LocationVerified(latitude, longitude *float64) bool {
	return latitude != nil && longitude != nil
}

// Report is an already validated time-log submission.
type Report struct {
	Hours          float64
	State          *string
	Latitude       *float64
	Longitude      *float64
	TalentEligible bool
}

// Assessment is the derived classification attached to a time entry.
type Assessment struct {
	ReportedHours    float64 `json:"reported_hours"`
	EligibleHours    float64 `json:"eligible_hours"`
	LocationVerified bool    `json:"location_verified"`
	Jurisdiction     string  `json:"jurisdiction,omitempty"`
}

// Calculator binds a jurisdiction set.
type Calculator struct {
	jurisdictions Jurisdictions
}

func NewCalculator(codes ...string) *Calculator {
	return &Calculator{jurisdictions: NewJurisdictions(codes...)}
}

// Assess classifies a report.
func (c *Calculator) Assess(r Report) Assessment {
	a := Assessment{
		ReportedHours:    r.Hours,
		EligibleHours:    ComputeEligibleHours(r.Hours, r.State, r.TalentEligible, c.jurisdictions),
		LocationVerified: LocationVerified(r.Latitude, r.Longitude),
	}
	if r.TalentEligible && r.State != nil && c.jurisdictions.Contains(*r.State) {
		a.Jurisdiction = *r.State
	}
	return a
}

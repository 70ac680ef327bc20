package enums

import "fmt"

// PlanType is the billing cadence of a subscription plan.
type PlanType string

const (
	PlanTypeFree       PlanType = "free"
	PlanTypeMonthly    PlanType = "monthly"
	PlanTypeQuarterly  PlanType = "quarterly"
	PlanTypeSemiAnnual PlanType = "semi_annual"
	PlanTypeAnnual     PlanType = "annual"
	PlanTypeCustom     PlanType = "custom"
)

var validPlanTypes = []PlanType{
	PlanTypeFree,
	PlanTypeMonthly,
	PlanTypeQuarterly,
	PlanTypeSemiAnnual,
	PlanTypeAnnual,
	PlanTypeCustom,
}

// String implements fmt.Stringer.
func (p PlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}

package policy

import "time"

type FamilyPolicy struct {
	Family string `json:"family"`
	// Threshold overrides the process-wide decision threshold; 0 means unset.
	Threshold float64 `json:"threshold"`
	// LegacyDisabled turns off the unversioned fallback for the family.
	LegacyDisabled bool      `json:"legacy_disabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Promotion struct {
	Family     string    `json:"family"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PromotedAt time.Time `json:"promoted_at"`
}

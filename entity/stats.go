package entity

// Stats aggregates read-only pool and ledger counters for the admin
// dashboard. Active counts registrations with status active whose end
// date is still in the future.
type Stats struct {
	TotalCodes     int64 `json:"total_codes"`
	UsedCodes      int64 `json:"used_codes"`
	AvailableCodes int64 `json:"available_codes"`

	TotalRegistrations   int64 `json:"total_registrations"`
	ActiveRegistrations  int64 `json:"active_registrations"`
	ClaimedRegistrations int64 `json:"claimed_registrations"`

	RegistrationsLast7Days int64 `json:"registrations_last_7_days"`
	ClaimsLast7Days        int64 `json:"claims_last_7_days"`

	ByProduct   map[string]int64 `json:"by_product"`
	ByClaimType map[string]int64 `json:"by_claim_type"`
}

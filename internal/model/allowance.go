package model

// AllowanceCounters are the per-day send counts for each outreach kind.
// Day is the UTC date (YYYY-MM-DD) the counts belong to.
type AllowanceCounters struct {
	Day    string       `json:"day"`
	Counts map[Kind]int `json:"counts"`
}

// AllowanceSnapshot is the operator-facing view of one kind's quota.
type AllowanceSnapshot struct {
	Kind      Kind `json:"kind"`
	Cap       int  `json:"cap"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
}

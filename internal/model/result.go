package model

import "time"

// AttributionPrimary tags results produced by the primary analysis engine.
// Any other tag means a fallback path produced the result.
const AttributionPrimary = "primary-engine"

// Result is the outcome of a successful analysis, keyed by the owning item.
// There is at most one per item; re-analysis replaces it.
type Result struct {
	ItemID         string    `json:"-"`
	Summary        string    `json:"summary"`
	Details        string    `json:"details"`
	AttributedTo   string    `json:"attributedTo"`
	FallbackReason *string   `json:"fallbackReason"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// UsedFallback reports whether the primary engine was bypassed.
func (r Result) UsedFallback() bool {
	return r.FallbackReason != nil || (r.AttributedTo != "" && r.AttributedTo != AttributionPrimary)
}

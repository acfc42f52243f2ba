package domain

// SweepDecision is the per-token safety verdict. Computed fresh per quote request.
type SweepDecision struct {
	CanSweep         bool     `json:"canSweep"`
	RequiresApproval bool     `json:"requiresApproval"`
	Reasons          []string `json:"reasons"`
}

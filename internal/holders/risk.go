package holders

import (
	"fmt"

	"dust-sweeper/internal/domain"
)

// Risk thresholds, in percent of supply.
const (
	singleHolderHigh   = 50.0
	singleHolderMedium = 20.0
	largeHolderPct     = 5.0
	maxLargeHolders    = 5

	healthyScore = 60
)

// WhaleAssessment is the result of CheckWhaleRisk.
type WhaleAssessment struct {
	Risk                domain.WhaleRisk `json:"risk"`
	TopHolderPercentage float64          `json:"topHolderPercentage"`
	LargeHolders        int              `json:"largeHolders"` // holders above 5%
	Reason              string           `json:"reason,omitempty"`
}

// CheckWhaleRisk classifies concentration risk from the top holders.
func CheckWhaleRisk(d *domain.HolderDistribution) WhaleAssessment {
	var top float64
	large := 0
	for i, h := range d.TopHolders {
		p := pct(h)
		if i == 0 || p > top {
			top = p
		}
		if p > largeHolderPct {
			large++
		}
	}

	a := WhaleAssessment{Risk: domain.WhaleRiskLow, TopHolderPercentage: top, LargeHolders: large}
	switch {
	case top > singleHolderHigh:
		a.Risk = domain.WhaleRiskHigh
		a.Reason = fmt.Sprintf("single holder owns %.2f%% of supply", top)
	case top > singleHolderMedium:
		a.Risk = domain.WhaleRiskMedium
		a.Reason = fmt.Sprintf("single holder owns %.2f%% of supply", top)
	case large > maxLargeHolders:
		a.Risk = domain.WhaleRiskMedium
		a.Reason = fmt.Sprintf("%d holders each own more than %.0f%%", large, largeHolderPct)
	case d.IsConcentrated:
		a.Risk = domain.WhaleRiskMedium
		a.Reason = fmt.Sprintf("top 10 holders own %.2f%% of supply", d.Top10Percentage)
	}
	return a
}

// HealthAssessment is the result of IsHealthyDistribution.
type HealthAssessment struct {
	Healthy bool     `json:"healthy"`
	Score   int      `json:"score"`
	Issues  []string `json:"issues,omitempty"`
}

// IsHealthyDistribution scores a distribution from 100 down; healthy at 60 or more.
func IsHealthyDistribution(d *domain.HolderDistribution) HealthAssessment {
	score := 100
	var issues []string

	if d.IsConcentrated {
		score -= 40
		issues = append(issues, fmt.Sprintf("top 10 holders own %.2f%%", d.Top10Percentage))
	}

	switch {
	case d.HolderCount < 100:
		score -= 30
		issues = append(issues, fmt.Sprintf("only %d holders", d.HolderCount))
	case d.HolderCount < 500:
		score -= 15
		issues = append(issues, fmt.Sprintf("only %d holders", d.HolderCount))
	}

	top := CheckWhaleRisk(d).TopHolderPercentage
	switch {
	case top > 30:
		score -= 30
		issues = append(issues, fmt.Sprintf("top holder owns %.2f%%", top))
	case top > 15:
		score -= 15
		issues = append(issues, fmt.Sprintf("top holder owns %.2f%%", top))
	}

	if score < 0 {
		score = 0
	}
	return HealthAssessment{Healthy: score >= healthyScore, Score: score, Issues: issues}
}

// Verdict is the holder-based sweep recommendation.
// Sweep is always true: holder risk annotates, it never blocks.
type Verdict struct {
	Sweep            bool   `json:"sweep"`
	RequiresApproval bool   `json:"requiresApproval"`
	Reason           string `json:"reason,omitempty"`
}

// ShouldSweepBasedOnHolders turns a distribution into a Verdict.
// An unknown distribution (HolderCount = 0) is never auto-approved.
func ShouldSweepBasedOnHolders(d *domain.HolderDistribution) Verdict {
	if d == nil || d.HolderCount == 0 {
		return Verdict{Sweep: true, RequiresApproval: true, Reason: "holder distribution unknown"}
	}

	whale := CheckWhaleRisk(d)
	if whale.Risk == domain.WhaleRiskHigh {
		return Verdict{Sweep: true, RequiresApproval: true, Reason: "high whale risk: " + whale.Reason}
	}

	health := IsHealthyDistribution(d)
	if !health.Healthy {
		return Verdict{
			Sweep:            true,
			RequiresApproval: true,
			Reason:           fmt.Sprintf("unhealthy holder distribution (score %d)", health.Score),
		}
	}

	return Verdict{Sweep: true}
}

func pct(h domain.HolderRecord) float64 {
	if h.Percentage == nil {
		return 0
	}
	return *h.Percentage
}

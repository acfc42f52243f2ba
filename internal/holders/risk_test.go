package holders

import (
	"testing"

	"dust-sweeper/internal/domain"
)

func dist(count int, concentrated bool, pcts ...float64) *domain.HolderDistribution {
	d := &domain.HolderDistribution{HolderCount: count, IsConcentrated: concentrated}
	for _, p := range pcts {
		d.TopHolders = append(d.TopHolders, domain.HolderRecord{Address: "x", Percentage: pctp(p)})
		d.Top10Percentage += p
	}
	return d
}

func TestCheckWhaleRisk(t *testing.T) {
	tests := []struct {
		name string
		d    *domain.HolderDistribution
		want domain.WhaleRisk
	}{
		{"single holder above 50", dist(1000, false, 55, 2), domain.WhaleRiskHigh},
		{"single holder above 20", dist(1000, false, 25, 2), domain.WhaleRiskMedium},
		{"exactly 20 is not medium", dist(1000, false, 20, 2), domain.WhaleRiskLow},
		{"six holders above 5", dist(1000, false, 6, 6, 6, 6, 6, 6), domain.WhaleRiskMedium},
		{"five holders above 5", dist(1000, false, 6, 6, 6, 6, 6), domain.WhaleRiskLow},
		{"concentrated", dist(1000, true, 4, 4), domain.WhaleRiskMedium},
		{"spread out", dist(1000, false, 4, 3, 2), domain.WhaleRiskLow},
		{"no holders", dist(0, false), domain.WhaleRiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckWhaleRisk(tt.d)
			if got.Risk != tt.want {
				t.Errorf("Risk = %s, want %s (reason %q)", got.Risk, tt.want, got.Reason)
			}
		})
	}
}

func TestIsHealthyDistribution(t *testing.T) {
	tests := []struct {
		name        string
		d           *domain.HolderDistribution
		wantScore   int
		wantHealthy bool
	}{
		{"healthy", dist(1000, false, 10), 100, true},
		{"everything wrong floors at zero", dist(50, true, 40), 0, false},
		{"mid holder count and mid top holder", dist(200, false, 16), 70, true},
		{"boundary 60 is healthy", dist(600, true, 10), 60, true},
		{"concentrated with few holders", dist(400, true, 5), 45, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsHealthyDistribution(tt.d)
			if got.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.Healthy != tt.wantHealthy {
				t.Errorf("Healthy = %v, want %v", got.Healthy, tt.wantHealthy)
			}
		})
	}
}

func TestShouldSweepBasedOnHolders(t *testing.T) {
	tests := []struct {
		name         string
		d            *domain.HolderDistribution
		wantApproval bool
	}{
		{"unknown", dist(0, false), true},
		{"nil", nil, true},
		{"high whale risk", dist(5000, false, 60), true},
		{"unhealthy", dist(50, true, 10), true},
		{"healthy", dist(5000, false, 10, 5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldSweepBasedOnHolders(tt.d)
			if !got.Sweep {
				t.Error("Sweep must always be true")
			}
			if got.RequiresApproval != tt.wantApproval {
				t.Errorf("RequiresApproval = %v, want %v", got.RequiresApproval, tt.wantApproval)
			}
			if tt.wantApproval && got.Reason == "" {
				t.Error("approval without reason")
			}
		})
	}
}

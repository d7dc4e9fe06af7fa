package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 2.46, round(2.455, 2))
	assert.Equal(t, -2.46, round(-2.455, 2))
	assert.Equal(t, 0.5, round(0.5, 0))
	assert.Equal(t, -0.5, round(-0.5, 0))
}

func TestOpportunitiesPerMinute(t *testing.T) {
	assert.Equal(t, 10.0, OpportunitiesPerMinute(10, 60000))
	assert.Equal(t, 0.0, OpportunitiesPerMinute(10, 0))
	assert.Equal(t, 5.45, OpportunitiesPerMinute(6, 66000))
}

func TestTokensPerOpportunity(t *testing.T) {
	assert.Equal(t, 100.0, TokensPerOpportunity(1000, 10))
	assert.Equal(t, 0.0, TokensPerOpportunity(1000, 0))
}

func TestCostPerOpportunityUSD(t *testing.T) {
	assert.Equal(t, 0.0123, CostPerOpportunityUSD(1.23, 100))
	assert.Equal(t, 0.0, CostPerOpportunityUSD(1.23, 0))
}

func TestSuccessRatePercentage(t *testing.T) {
	assert.Equal(t, 90.0, SuccessRatePercentage([]int{10}, 100))
	assert.Equal(t, 100.0, SuccessRatePercentage(nil, 100))
	assert.Equal(t, 0.0, SuccessRatePercentage([]int{200}, 100))
	// totalOpportunities < 1 falls back to denominator 1, clamped at 0.
	assert.Equal(t, 0.0, SuccessRatePercentage([]int{5}, 0))
}

func TestSLACompliancePercentageAllOnTarget(t *testing.T) {
	got := SLACompliancePercentage(SLAInputs{
		OpportunitiesPerMinute: 1.0,
		SuccessRatePercentage:  90.0,
		CostPerOpportunityUSD:  0.05,
		TotalExecutionMs:       5 * 60000,
	})
	assert.Equal(t, 100.0, got)
}

func TestSLACompliancePercentageBelowTarget(t *testing.T) {
	got := SLACompliancePercentage(SLAInputs{
		OpportunitiesPerMinute: 0.5,
		SuccessRatePercentage:  45.0,
		CostPerOpportunityUSD:  0.10,
		TotalExecutionMs:       10 * 60000,
	})
	assert.Less(t, got, 100.0)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestSLAGrade(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{95, "A"}, {90, "A"}, {85, "B"}, {80, "B"},
		{75, "C"}, {70, "C"}, {65, "D"}, {60, "D"}, {10, "F"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SLAGrade(c.score))
	}
}

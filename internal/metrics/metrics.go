// Package metrics implements MetricsCalculator (C9, §4.9): pure functions
// deriving a run's throughput, cost, and SLA-compliance metrics from its raw
// counters. Nothing here touches the database or the clock — every function
// takes its inputs as arguments so results are reproducible and trivially
// testable.
package metrics

import "math"

// SLA targets and weights (§4.9's table).
const (
	targetThroughputPerMinute = 1.0
	targetSuccessRatePercent  = 90.0
	targetCostPerOpportunity  = 0.05
	targetTotalTimeMinutes    = 5.0

	weightThroughput  = 0.25
	weightSuccessRate = 0.35
	weightCost        = 0.15
	weightTime        = 0.25
)

// round rounds v to places decimal digits using round-half-away-from-zero,
// the mode §9's design notes require for cross-language byte-identical
// metric values (banker's rounding, which math.Round's own doc disclaims
// needing, is NOT what's wanted here).
func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	scaled := v * factor
	if scaled >= 0 {
		return math.Floor(scaled+0.5) / factor
	}
	return math.Ceil(scaled-0.5) / factor
}

// OpportunitiesPerMinute implements §4.9's throughput formula. Returns 0 when
// totalExecutionMs is 0 to avoid dividing by zero.
func OpportunitiesPerMinute(totalOpportunities int, totalExecutionMs int64) float64 {
	if totalExecutionMs == 0 {
		return 0
	}
	minutes := float64(totalExecutionMs) / 60000.0
	return round(float64(totalOpportunities)/minutes, 2)
}

// TokensPerOpportunity implements §4.9's token-efficiency formula.
func TokensPerOpportunity(totalTokens int, totalOpportunities int) float64 {
	if totalOpportunities == 0 {
		return 0
	}
	return round(float64(totalTokens)/float64(totalOpportunities), 2)
}

// CostPerOpportunityUSD implements §4.9's cost formula.
func CostPerOpportunityUSD(totalCostUSD float64, totalOpportunities int) float64 {
	if totalOpportunities == 0 {
		return 0
	}
	return round(totalCostUSD/float64(totalOpportunities), 4)
}

// SuccessRatePercentage implements §4.9's success-rate formula, bounded to
// [0, 100].
func SuccessRatePercentage(failureCounts []int, totalOpportunities int) float64 {
	var failures int
	for _, c := range failureCounts {
		failures += c
	}
	denom := totalOpportunities
	if denom < 1 {
		denom = 1
	}
	rate := (1 - float64(failures)/float64(denom)) * 100
	return round(clamp(rate, 0, 100), 2)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// higherIsBetterScore scores a metric where more is better: full marks at or
// above target, scaled linearly toward 0 below it.
func higherIsBetterScore(actual, target float64) float64 {
	if target <= 0 {
		return 100
	}
	return clamp(actual/target*100, 0, 100)
}

// lowerIsBetterScore scores a metric where less is better: full marks at or
// below target, degrading linearly as actual exceeds it, reaching 0 at twice
// the target.
func lowerIsBetterScore(actual, target float64) float64 {
	if actual <= target {
		return 100
	}
	if target <= 0 {
		return 0
	}
	return clamp(100-((actual-target)/target)*100, 0, 100)
}

// SLAInputs bundles the raw counters SLACompliancePercentage needs.
type SLAInputs struct {
	OpportunitiesPerMinute float64
	SuccessRatePercentage  float64
	CostPerOpportunityUSD  float64
	TotalExecutionMs       int64
}

// SLACompliancePercentage implements §4.9's weighted sub-score average.
func SLACompliancePercentage(in SLAInputs) float64 {
	throughputScore := higherIsBetterScore(in.OpportunitiesPerMinute, targetThroughputPerMinute)
	successScore := higherIsBetterScore(in.SuccessRatePercentage, targetSuccessRatePercent)
	costScore := lowerIsBetterScore(in.CostPerOpportunityUSD, targetCostPerOpportunity)
	timeMinutes := float64(in.TotalExecutionMs) / 60000.0
	timeScore := lowerIsBetterScore(timeMinutes, targetTotalTimeMinutes)

	weighted := throughputScore*weightThroughput +
		successScore*weightSuccessRate +
		costScore*weightCost +
		timeScore*weightTime

	return round(clamp(weighted, 0, 100), 2)
}

// SLAGrade implements §4.9's letter-grade bands.
func SLAGrade(slaCompliancePercentage float64) string {
	switch {
	case slaCompliancePercentage >= 90:
		return "A"
	case slaCompliancePercentage >= 80:
		return "B"
	case slaCompliancePercentage >= 70:
		return "C"
	case slaCompliancePercentage >= 60:
		return "D"
	default:
		return "F"
	}
}

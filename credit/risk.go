package credit

import "fmt"

// RiskLevel is the coarse risk band derived from the approval probability
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const (
	lowRiskThreshold    = 0.8
	mediumRiskThreshold = 0.5
)

// RiskLevelFromProbability buckets an approval probability. Each band includes
// its lower bound: 0.8 is low, 0.5 is medium.
func RiskLevelFromProbability(p float64) RiskLevel {
	switch {
	case p >= lowRiskThreshold:
		return RiskLow
	case p >= mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ParseRiskLevel reconstructs a RiskLevel from its string form
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("invalid risk level: %q", s)
}

func (r RiskLevel) String() string {
	return string(r)
}

package model

// ComplianceCheck is one regulatory/ethical dimension of the safety review.
type ComplianceCheck struct {
	Passed    bool   `json:"passed"`
	Rationale string `json:"rationale,omitempty"`
}

// RiskLevel is the ordinal overall risk of a reviewed case.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders risk levels; higher is worse.
var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the risk level.
func (r RiskLevel) Rank() int { return riskRank[r] }

// Severity maps a risk level onto the shared flag severity scale.
func (r RiskLevel) Severity() FlagSeverity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	}
	return SeverityLow
}

// ReviewRecommendation is the safety review's verdict.
type ReviewRecommendation string

const (
	RecommendApprove            ReviewRecommendation = "approve"
	RecommendApproveWithCaveats ReviewRecommendation = "approve_with_caveats"
	RecommendReject             ReviewRecommendation = "reject"
)

// SafetyReview is the safety/ethics stage payload.
type SafetyReview struct {
	HIPAA          ComplianceCheck      `json:"hipaa"`
	FDA            ComplianceCheck      `json:"fda"`
	Ethics         ComplianceCheck      `json:"ethics"`
	RiskLevel      RiskLevel            `json:"risk_level"`
	Recommendation ReviewRecommendation `json:"recommendation"`
	Concerns       []string             `json:"concerns,omitempty"`
}

// Compliant reports whether every compliance dimension passed.
func (r SafetyReview) Compliant() bool {
	return r.HIPAA.Passed && r.FDA.Passed && r.Ethics.Passed
}

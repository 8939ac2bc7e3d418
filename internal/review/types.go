package review

import "strings"

// Recommendation is the overall verdict attached to an evaluation.
type Recommendation string

const (
	RecommendationAccept Recommendation = "ACCEPT"
	RecommendationRevise Recommendation = "REVISE"
	RecommendationReject Recommendation = "REJECT"
)

// ParseRecommendation returns the canonical recommendation and whether the
// input named one of them.
func ParseRecommendation(s string) (Recommendation, bool) {
	switch Recommendation(strings.ToUpper(strings.TrimSpace(s))) {
	case RecommendationAccept:
		return RecommendationAccept, true
	case RecommendationRevise:
		return RecommendationRevise, true
	case RecommendationReject:
		return RecommendationReject, true
	default:
		return RecommendationRevise, false
	}
}

const (
	MinScore = 0
	MaxScore = 5
)

// Criteria is the fixed, ordered set of scoring dimensions.
var Criteria = []string{
	"Problem Statement",
	"Objectives",
	"Background Research",
	"Methodology",
	"Feasibility",
	"Innovation",
	"Expected Impact",
	"Timeline",
	"Budget Justification",
	"Team Qualifications",
	"Risk Management",
	"Evaluation Plan",
	"Sustainability",
	"Clarity of Writing",
	"Structure and Formatting",
}

// MaxTotal is the best possible total score.
var MaxTotal = len(Criteria) * MaxScore

type CriterionScore struct {
	Parameter string `json:"parameter"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

type EvaluationResult struct {
	Scores         []CriterionScore `json:"scores"`
	Strengths      []string         `json:"strengths"`
	Weaknesses     []string         `json:"weaknesses"`
	Recommendation Recommendation   `json:"recommendation"`
	TotalScore     int              `json:"total_score"`
	Notes          string           `json:"notes"`
	DemoMode       bool             `json:"demoMode"`
}

func (r EvaluationResult) clone() EvaluationResult {
	out := r
	out.Scores = append([]CriterionScore(nil), r.Scores...)
	out.Strengths = append([]string{}, r.Strengths...)
	out.Weaknesses = append([]string{}, r.Weaknesses...)
	return out
}

type SummaryResult struct {
	Summary    string `json:"summary"`
	Filename   string `json:"filename"`
	Characters int    `json:"characters"`
	Words      int    `json:"words"`
}

// ReviewResult joins a summary and an evaluation of the same document.
// Either side may be nil when its sub-analysis failed.
type ReviewResult struct {
	Summary    *SummaryResult    `json:"summary,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
}

func sumScores(scores []CriterionScore) int {
	total := 0
	for _, s := range scores {
		total += s.Score
	}
	return total
}

package review

// DegradedNote explains why a result carries demoMode.
const DegradedNote = "The evaluation service is temporarily over its usage quota. " +
	"These scores are a fixed baseline and do not reflect the submitted document. " +
	"Please resubmit later for a real evaluation."

var degradedScores = []int{3, 3, 3, 4, 3, 3, 3, 3, 2, 3, 3, 3, 3, 4, 4}

// Degrade returns the fixed baseline result used when the backend stays rate
// limited after every retry.
func Degrade() EvaluationResult {
	scores := make([]CriterionScore, len(Criteria))
	for i, name := range Criteria {
		scores[i] = CriterionScore{
			Parameter: name,
			Score:     degradedScores[i%len(degradedScores)],
			Reason:    "Baseline score; the document was not assessed.",
		}
	}

	return EvaluationResult{
		Scores: scores,
		Strengths: []string{
			"The document covers the expected proposal sections.",
			"The writing is clear enough for a full review.",
		},
		Weaknesses: []string{
			"Budget details should be checked against the planned activities.",
			"Risks and mitigation steps need a closer look.",
		},
		Recommendation: RecommendationRevise,
		TotalScore:     sumScores(scores),
		Notes:          DegradedNote,
		DemoMode:       true,
	}
}

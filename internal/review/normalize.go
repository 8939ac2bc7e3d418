package review

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// ErrInvalidStructure is wrapped by Normalize when the payload has no usable criterion list.
var ErrInvalidStructure = errors.New("invalid evaluation structure")

type rawScore struct {
	Parameter string  `mapstructure:"parameter"`
	Score     float64 `mapstructure:"score"`
	Reason    string  `mapstructure:"reason"`
}

type rawEvaluation struct {
	Scores         []rawScore `mapstructure:"scores"`
	Strengths      []string   `mapstructure:"strengths"`
	Weaknesses     []string   `mapstructure:"weaknesses"`
	Recommendation string     `mapstructure:"recommendation"`
	TotalScore     any        `mapstructure:"total_score"`
	Notes          string     `mapstructure:"notes"`
}

var criterionIndex = func() map[string]int {
	idx := make(map[string]int, len(Criteria))
	for i, name := range Criteria {
		idx[strings.ToLower(name)] = i
	}
	return idx
}()

// Normalize validates a repaired payload and turns it into an EvaluationResult.
// The criterion list must be present, list shaped and non-empty. Everything
// else falls back to safe defaults and total_score is always recomputed.
func Normalize(payload map[string]any, logger *zap.Logger) (EvaluationResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	scores, ok := payload["scores"]
	if !ok || scores == nil {
		return EvaluationResult{}, fmt.Errorf("%w: scores are missing", ErrInvalidStructure)
	}
	kind := reflect.TypeOf(scores).Kind()
	if kind != reflect.Slice && kind != reflect.Array {
		return EvaluationResult{}, fmt.Errorf("%w: scores must be a list, got %T", ErrInvalidStructure, scores)
	}
	if reflect.ValueOf(scores).Len() == 0 {
		return EvaluationResult{}, fmt.Errorf("%w: scores are empty", ErrInvalidStructure)
	}

	var raw rawEvaluation
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("create payload decoder: %w", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return EvaluationResult{}, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}

	result := EvaluationResult{
		Scores:     orderScores(raw.Scores, logger),
		Strengths:  nonEmpty(raw.Strengths),
		Weaknesses: nonEmpty(raw.Weaknesses),
		Notes:      strings.TrimSpace(raw.Notes),
	}
	if len(result.Scores) == 0 {
		return EvaluationResult{}, fmt.Errorf("%w: no named criterion scores", ErrInvalidStructure)
	}

	recommendation, known := ParseRecommendation(raw.Recommendation)
	if !known && strings.TrimSpace(raw.Recommendation) != "" {
		logger.Warn("unknown recommendation, using default",
			zap.String("recommendation", raw.Recommendation),
			zap.String("default", string(RecommendationRevise)),
		)
	}
	result.Recommendation = recommendation

	result.TotalScore = sumScores(result.Scores)
	if raw.TotalScore != nil {
		logger.Debug("discarding backend total score",
			zap.Any("reported", raw.TotalScore),
			zap.Int("computed", result.TotalScore),
		)
	}

	if len(result.Scores) != len(Criteria) {
		logger.Warn("criterion count differs from expected set",
			zap.Int("expected", len(Criteria)),
			zap.Int("got", len(result.Scores)),
			zap.Strings("missing", missingCriteria(result.Scores)),
		)
	}

	return result, nil
}

// orderScores emits known criteria in canonical order followed by unknown ones
// in their original order. Duplicates keep the first occurrence.
func orderScores(in []rawScore, logger *zap.Logger) []CriterionScore {
	known := make([]*CriterionScore, len(Criteria))
	unknown := make([]CriterionScore, 0)
	seen := make(map[string]bool, len(in))

	for _, r := range in {
		name := strings.TrimSpace(r.Parameter)
		key := strings.ToLower(name)
		if name == "" {
			logger.Warn("skipping criterion without a name", zap.Float64("score", r.Score))
			continue
		}
		if seen[key] {
			logger.Warn("skipping duplicate criterion", zap.String("parameter", name))
			continue
		}
		seen[key] = true

		score := CriterionScore{
			Parameter: name,
			Score:     clampScore(r.Score, name, logger),
			Reason:    strings.TrimSpace(r.Reason),
		}

		if i, ok := criterionIndex[key]; ok {
			score.Parameter = Criteria[i]
			known[i] = &score
			continue
		}
		unknown = append(unknown, score)
	}

	out := make([]CriterionScore, 0, len(in))
	for _, s := range known {
		if s != nil {
			out = append(out, *s)
		}
	}

	return append(out, unknown...)
}

func clampScore(v float64, parameter string, logger *zap.Logger) int {
	if math.IsNaN(v) {
		logger.Warn("score is not a number, using minimum", zap.String("parameter", parameter))
		return MinScore
	}

	score := int(math.Round(v))
	switch {
	case score < MinScore:
		logger.Warn("score below range, clamping", zap.String("parameter", parameter), zap.Float64("score", v))
		return MinScore
	case score > MaxScore:
		logger.Warn("score above range, clamping", zap.String("parameter", parameter), zap.Float64("score", v))
		return MaxScore
	}

	return score
}

func missingCriteria(scores []CriterionScore) []string {
	present := make(map[string]bool, len(scores))
	for _, s := range scores {
		present[s.Parameter] = true
	}

	missing := make([]string, 0)
	for _, name := range Criteria {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

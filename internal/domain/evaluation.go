package domain

import "strings"

// Quality grades how well retrieved content answers a question.
type Quality string

const (
	QualityExcellent    Quality = "EXCELLENT"
	QualityGood         Quality = "GOOD"
	QualityPartial      Quality = "PARTIAL"
	QualityInsufficient Quality = "INSUFFICIENT"
	QualityIrrelevant   Quality = "IRRELEVANT"
)

// Qualities lists the grades from best to worst.
var Qualities = []Quality{QualityExcellent, QualityGood, QualityPartial, QualityInsufficient, QualityIrrelevant}

// ParseQuality normalises a grade; unknown values map to INSUFFICIENT.
func ParseQuality(s string) Quality {
	q := Quality(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Qualities {
		if q == known {
			return q
		}
	}
	return QualityInsufficient
}

// Evaluation is the evaluator's judgment of one tool result.
type Evaluation struct {
	Quality           Quality `json:"quality"`
	RelevanceScore    int     `json:"relevance_score"`
	CompletenessScore int     `json:"completeness_score"`
	NextAction        string  `json:"next_action"`
	Reasoning         string  `json:"reasoning"`
	SuggestedQuery    string  `json:"suggested_query,omitempty"`
}

// Clamp bounds both scores to 1..10 and normalises the quality grade.
func (e Evaluation) Clamp() Evaluation {
	e.RelevanceScore = clampScore(e.RelevanceScore)
	e.CompletenessScore = clampScore(e.CompletenessScore)
	e.Quality = ParseQuality(string(e.Quality))
	return e
}

func clampScore(v int) int {
	switch {
	case v < 1:
		return 1
	case v > 10:
		return 10
	default:
		return v
	}
}

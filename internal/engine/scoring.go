package engine

import (
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/scan"
)

// Score deductions per finding by severity.
var severityWeights = map[models.Severity]int{
	models.SeverityCritical: 25,
	models.SeverityHigh:     15,
	models.SeverityMedium:   8,
	models.SeverityLow:      3,
	models.SeverityInfo:     0,
}

// Score aggregates findings into the 0-100 score and letter grade
// shown to the user.
func Score(findings []scan.Finding) *scan.Result {
	score := 100
	var summary scan.SeverityCounts
	for _, f := range findings {
		score -= severityWeights[f.Severity]
		summary.Add(f.Severity)
	}
	if score < 0 {
		score = 0
	}

	return &scan.Result{
		Score:    score,
		Grade:    gradeFor(score),
		Summary:  summary,
		Findings: findings,
	}
}

func gradeFor(score int) models.ScanGrade {
	switch {
	case score >= 90:
		return models.GradeA
	case score >= 75:
		return models.GradeB
	case score >= 50:
		return models.GradeC
	default:
		return models.GradeD
	}
}

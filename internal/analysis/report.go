package analysis

import (
	"fmt"

	"github.com/feichai0017/casefolio/internal/models"
)

// Summarize counts contradictions by severity. Any high makes the case high risk; more than one medium makes it
// medium; anything else is low.
func Summarize(contradictions []models.Contradiction) *models.ContradictionReport {
	if len(contradictions) == 0 {
		return &models.ContradictionReport{
			Total:             0,
			SeverityBreakdown: map[models.Severity]int{},
			RiskLevel:         string(models.SeverityLow),
			RiskAssessment:    "No contradictions detected",
		}
	}

	counts := map[models.Severity]int{
		models.SeverityLow:    0,
		models.SeverityMedium: 0,
		models.SeverityHigh:   0,
	}
	for _, c := range contradictions {
		counts[models.ParseSeverity(string(c.Severity))]++
	}

	risk := models.SeverityLow
	switch {
	case counts[models.SeverityHigh] > 0:
		risk = models.SeverityHigh
	case counts[models.SeverityMedium] > 1:
		risk = models.SeverityMedium
	}

	return &models.ContradictionReport{
		Total:             len(contradictions),
		SeverityBreakdown: counts,
		RiskLevel:         string(risk),
		RiskAssessment:    fmt.Sprintf("Case has %s risk due to contradictions", risk),
		HighPriorityCount: counts[models.SeverityHigh],
	}
}

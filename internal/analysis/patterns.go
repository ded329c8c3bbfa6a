package analysis

import (
	"strings"

	"github.com/feichai0017/casefolio/internal/models"
)

// Pattern is a keyword opposition: one event mentions a Claims term and the other a Counters term.
type Pattern struct {
	Type        models.PatternType
	Claims      []string
	Counters    []string
	Description string
}

// Patterns is the fixed candidate table, in evaluation order.
var Patterns = []Pattern{
	{
		Type:        models.PatternInjuryDenial,
		Claims:      []string{"injury", "pain", "accident", "trauma", "hurt"},
		Counters:    []string{"no pain", "felt fine", "no injury", "denied", "no issues"},
		Description: "Denial of injury after documented medical treatment",
	},
	{
		Type:        models.PatternTimelineConflict,
		Claims:      []string{"before", "prior to", "earlier"},
		Counters:    []string{"after", "following", "later"},
		Description: "Conflicting timeline of events",
	},
	{
		Type:        models.PatternTreatmentInconsistency,
		Claims:      []string{"treatment", "therapy", "medication"},
		Counters:    []string{"no treatment", "refused care", "declined"},
		Description: "Inconsistent treatment claims",
	},
}

// Matches reports whether the two descriptions oppose each other under p, in either direction.
func (p Pattern) Matches(desc1, desc2 string) bool {
	d1, d2 := strings.ToLower(desc1), strings.ToLower(desc2)
	return (containsAny(d1, p.Claims) && containsAny(d2, p.Counters)) ||
		(containsAny(d2, p.Claims) && containsAny(d1, p.Counters))
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

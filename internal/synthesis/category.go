package synthesis

import (
	"strings"

	"github.com/feichai0017/casefolio/internal/models"
)

// categoryTerms is checked in order; the first category with a matching term wins.
var categoryTerms = []struct {
	category models.EventCategory
	terms    []string
}{
	{models.CategoryMedical, []string{"medical", "hospital", "doctor", "treatment", "injury", "pain"}},
	{models.CategoryLegal, []string{"legal", "filing", "court", "lawsuit", "claim"}},
	{models.CategoryFinancial, []string{"payment", "cost", "expense", "bill", "$"}},
	{models.CategoryCommunication, []string{"email", "letter", "call", "meeting"}},
}

// Categorize files a description under the first category whose terms it mentions.
func Categorize(description string) models.EventCategory {
	lower := strings.ToLower(description)
	for _, c := range categoryTerms {
		for _, term := range c.terms {
			if strings.Contains(lower, term) {
				return c.category
			}
		}
	}
	return models.CategoryGeneral
}

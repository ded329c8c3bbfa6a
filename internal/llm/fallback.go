package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/feichai0017/casefolio/internal/models"
)

// Fallback is the deterministic describer and confirmer. Its output depends only on the request.
type Fallback struct{}

func (Fallback) Name() string { return "fallback" }

// Describe picks a template by which fact types are present. Amount plus name gets a phrasing flavored by the name.
func (Fallback) Describe(_ context.Context, req DescribeRequest) (string, error) {
	return FallbackDescription(req), nil
}

// FallbackDescription is the pure form of Fallback.Describe.
func FallbackDescription(req DescribeRequest) string {
	var (
		amount    *models.AmountValue
		name      *models.NameValue
		hasAmount bool
		hasName   bool
	)
	for _, f := range req.Facts {
		switch v := f.Value.(type) {
		case models.AmountValue:
			if !hasAmount {
				amount, hasAmount = &v, true
			}
		case models.NameValue:
			if !hasName {
				name, hasName = &v, true
			}
		}
	}

	switch {
	case hasAmount && hasName:
		charges := "$" + FormatAmount(amount.Amount)
		switch n := name.Name; {
		case strings.Contains(n, "Emergency") || strings.Contains(n, "ER"):
			return fmt.Sprintf("Emergency medical treatment provided by %s with charges of %s.", n, charges)
		case strings.Contains(n, "Radiology"):
			return fmt.Sprintf("Medical imaging services performed at %s for %s.", n, charges)
		case strings.Contains(n, "PT") || strings.Contains(n, "Physical"):
			return fmt.Sprintf("Physical therapy treatment by %s totaling %s.", n, charges)
		default:
			return fmt.Sprintf("Medical service provided by %s with charges of %s.", n, charges)
		}
	case hasAmount:
		return "Financial transaction recorded."
	case hasName:
		return "Professional service or consultation noted."
	}
	return "Event recorded in case file."
}

// FormatAmount renders 3450 as "3,450.00".
func FormatAmount(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// knownContradiction is a keyword pair the fallback confirms without a model.
type knownContradiction struct {
	pattern     models.PatternType
	claim       string
	denial      string
	severity    models.Severity
	confidence  float64
	explanation string
	impact      string
}

var knownContradictions = []knownContradiction{
	{
		pattern:     models.PatternInjuryDenial,
		claim:       "injury",
		denial:      "no pain",
		severity:    models.SeverityHigh,
		confidence:  0.92,
		explanation: "Patient denied experiencing pain despite documented medical treatment for injuries.",
		impact:      "This contradiction could significantly impact the credibility of injury claims.",
	},
	{
		pattern:     models.PatternTreatmentInconsistency,
		claim:       "treatment",
		denial:      "refused care",
		severity:    models.SeverityMedium,
		confidence:  0.75,
		explanation: "Records show treatment was received while another entry states care was refused.",
		impact:      "Inconsistent treatment history may weaken damages related to ongoing care.",
	},
}

// Confirm recognizes explicit keyword co-occurrence only; everything else is not confirmed.
func (Fallback) Confirm(_ context.Context, req ConfirmRequest) (*Confirmation, error) {
	d1 := strings.ToLower(req.Event1Description)
	d2 := strings.ToLower(req.Event2Description)
	for _, k := range knownContradictions {
		if k.pattern != req.PatternType {
			continue
		}
		if (strings.Contains(d1, k.claim) && strings.Contains(d2, k.denial)) ||
			(strings.Contains(d2, k.claim) && strings.Contains(d1, k.denial)) {
			return &Confirmation{
				IsContradiction: true,
				Confidence:      k.confidence,
				Severity:        string(k.severity),
				Explanation:     k.explanation,
				Impact:          k.impact,
			}, nil
		}
	}
	return &Confirmation{IsContradiction: false}, nil
}

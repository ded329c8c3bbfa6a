// Package llm holds the delegated language capabilities: phrasing event descriptions and confirming contradiction
// candidates. Live implementations call a model over the network; Fallback is deterministic and never fails.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/casefolio/internal/models"
)

// FactSummary is the structured view of a fact handed to the describer. Date facts are not summarized.
type FactSummary struct {
	Type  models.FactType  `json:"type"`
	Value models.FactValue `json:"-"`
	Role  string           `json:"role,omitempty"`
}

// DescribeRequest asks for one sentence about what happened on Date.
type DescribeRequest struct {
	Date  models.Date
	Facts []FactSummary
}

// Describer phrases an event.
type Describer interface {
	Describe(ctx context.Context, req DescribeRequest) (string, error)
}

// ConfirmRequest carries a candidate pair and the pattern that flagged it.
type ConfirmRequest struct {
	Event1Description  string
	Event1Date         string
	Event2Description  string
	Event2Date         string
	PatternType        models.PatternType
	PatternDescription string
}

// Confirmation is the reasoning verdict on a candidate.
type Confirmation struct {
	IsContradiction bool    `json:"is_contradiction"`
	Confidence      float64 `json:"confidence"`
	Severity        string  `json:"severity"`
	Explanation     string  `json:"explanation"`
	Impact          string  `json:"impact"`
}

// Confirmer decides whether a candidate is a real contradiction.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error)
}

// Sampling settings for the two calls.
const (
	DescribeMaxTokens   = 100
	DescribeTemperature = 0.3
	ConfirmMaxTokens    = 200
	ConfirmTemperature  = 0.1
)

const (
	describeSystemPrompt = "You are a legal document analyst. Produce one concise sentence summarizing the event described by the provided facts. Focus on clarity and accuracy."
	confirmSystemPrompt  = "You are a legal analyst examining potential contradictions in case documentation. " +
		"Analyze the provided events and determine if they truly contradict each other. " +
		"Respond with a JSON object containing your analysis."
)

// Config selects and tunes the delegates.
type Config struct {
	// Provider: "openai", "ollama", or "" / "mock" for the deterministic fallback only
	Provider string

	DescribeModel string
	ConfirmModel  string
	APIKey        string
	BaseURL       string

	// Timeout bounds every delegated call
	Timeout time.Duration

	// RequestsPerSecond and Burst size the in-memory limiter shared by both capabilities
	RequestsPerSecond float64
	Burst             int

	// MaxDescriptionLength rejects run-on descriptions
	MaxDescriptionLength int
}

// DefaultConfig returns the fallback-only configuration.
func DefaultConfig() Config {
	return Config{
		Provider:             "",
		DescribeModel:        "gpt-3.5-turbo",
		ConfirmModel:         "gpt-4",
		Timeout:              30 * time.Second,
		RequestsPerSecond:    2,
		Burst:                4,
		MaxDescriptionLength: 300,
	}
}

// RoleOf infers a role from markers in a person name.
func RoleOf(name string) string {
	switch {
	case strings.Contains(name, "MD") || strings.Contains(name, "Dr."):
		return "medical provider"
	case strings.Contains(name, "PT"):
		return "physical therapist"
	case strings.Contains(name, "Hospital"):
		return "medical facility"
	}
	return ""
}

// Summarize builds the describer view of a bucket of facts.
func Summarize(facts []models.ExtractedFact) []FactSummary {
	out := make([]FactSummary, 0, len(facts))
	for _, f := range facts {
		switch v := f.Value.(type) {
		case models.DateValue:
			continue
		case models.NameValue:
			out = append(out, FactSummary{Type: models.FactTypePersonName, Value: v, Role: RoleOf(v.Name)})
		case models.AmountValue:
			out = append(out, FactSummary{Type: models.FactTypeAmount, Value: v})
		}
	}
	return out
}

// DescribePrompt renders the user prompt for a describe call.
func DescribePrompt(req DescribeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a single, concise sentence describing what happened on %s based on these facts:\n\n", req.Date.Long())
	for _, f := range req.Facts {
		fmt.Fprintf(&b, "- %s: %s", strings.ReplaceAll(string(f.Type), "_", " "), f.Value)
		if f.Role != "" {
			fmt.Fprintf(&b, " (%s)", f.Role)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nGenerate a clear, professional summary sentence that captures the key information.")
	return b.String()
}

// ConfirmPrompt renders the user prompt for a confirm call.
func ConfirmPrompt(req ConfirmRequest) string {
	return fmt.Sprintf(`Analyze these two events for potential contradiction:

Event 1 (Date: %s):
%q

Event 2 (Date: %s):
%q

Potential Issue: %s

Please analyze whether these events truly contradict each other. Consider:
1. Are the statements mutually exclusive?
2. Could both statements be true under different interpretations?
3. What is the severity of the contradiction if it exists?

Respond with a JSON object containing:
{
    "is_contradiction": true/false,
    "confidence": 0.0-1.0,
    "severity": "low"|"medium"|"high",
    "explanation": "Clear explanation of the contradiction",
    "impact": "How this affects the case"
}
`, req.Event1Date, req.Event1Description, req.Event2Date, req.Event2Description, req.PatternDescription)
}

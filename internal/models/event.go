package models

import "time"

// EventCategory 事件分类
type EventCategory string

const (
	CategoryMedical       EventCategory = "medical"
	CategoryLegal         EventCategory = "legal"
	CategoryFinancial     EventCategory = "financial"
	CategoryCommunication EventCategory = "communication"
	CategoryGeneral       EventCategory = "general"
)

// SynthesizedEvent groups the facts that share one date. Facts are referenced, not owned.
type SynthesizedEvent struct {
	ID            string          `json:"id"`
	CaseID        string          `json:"case_id,omitempty"`
	DocumentID    string          `json:"document_id,omitempty"`
	EventDate     Date            `json:"event_date"`
	Description   string          `json:"description"`
	Category      EventCategory   `json:"category"`
	SourceFactIDs []string        `json:"source_fact_ids"`
	SourceFacts   []ExtractedFact `json:"source_facts,omitempty"`
	Generator     string          `json:"generator,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Severity 矛盾严重程度
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity normalizes a delegate-provided severity; unknown values map to medium.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return Severity(s)
	}
	return SeverityMedium
}

// PatternType identifies the keyword-opposition rule that produced a contradiction candidate.
type PatternType string

const (
	PatternInjuryDenial           PatternType = "injury_denial_after_report"
	PatternTimelineConflict       PatternType = "timeline_conflict"
	PatternTreatmentInconsistency PatternType = "treatment_inconsistency"
)

// EventRef is the part of an event a contradiction points at.
type EventRef struct {
	ID          string `json:"id"`
	Date        Date   `json:"date"`
	Description string `json:"description"`
}

// Ref returns the reference form of the event.
func (e SynthesizedEvent) Ref() EventRef {
	return EventRef{ID: e.ID, Date: e.EventDate, Description: e.Description}
}

// Contradiction is derived data and is regenerated on every analysis.
type Contradiction struct {
	ID          string      `json:"id"`
	CaseID      string      `json:"case_id,omitempty"`
	DocumentID  string      `json:"document_id,omitempty"`
	Event1      EventRef    `json:"event_1"`
	Event2      EventRef    `json:"event_2"`
	PatternType PatternType `json:"pattern_type"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`
	Explanation string      `json:"explanation"`
	Impact      string      `json:"impact,omitempty"`
	DetectedAt  time.Time   `json:"detected_at"`
}

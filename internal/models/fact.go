package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FactType 事实类型
type FactType string

const (
	FactTypeDate       FactType = "date"
	FactTypeAmount     FactType = "amount"
	FactTypePersonName FactType = "person_name"
)

// DeterministicConfidence is assigned to every rule-based extraction.
const DeterministicConfidence = 0.99

// BoundingBox is [x0, y0, x1, y1] in the page coordinate space of the layout service.
type BoundingBox [4]float64

func (b BoundingBox) X0() float64 { return b[0] }
func (b BoundingBox) Y0() float64 { return b[1] }
func (b BoundingBox) X1() float64 { return b[2] }
func (b BoundingBox) Y1() float64 { return b[3] }

// Validate checks non-negative coordinates and x1>=x0, y1>=y0.
func (b BoundingBox) Validate() error {
	for i, v := range b {
		if v < 0 {
			return &ValidationError{Field: "bounding_box", Message: fmt.Sprintf("coordinate %d is negative: %v", i, v)}
		}
	}
	if b[2] < b[0] || b[3] < b[1] {
		return &ValidationError{Field: "bounding_box", Message: fmt.Sprintf("inverted box %v", [4]float64(b))}
	}
	return nil
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		min(b[0], o[0]),
		min(b[1], o[1]),
		max(b[2], o[2]),
		max(b[3], o[3]),
	}
}

// SourceLink 事实来源定位
type SourceLink struct {
	DocumentName string      `json:"document_name"`
	PageNumber   int         `json:"page_number"`
	BoundingBox  BoundingBox `json:"bounding_box"`
}

// NewSourceLink builds a validated SourceLink.
func NewSourceLink(documentName string, page int, box BoundingBox) (SourceLink, error) {
	if page < 1 {
		return SourceLink{}, &ValidationError{Field: "page_number", Message: fmt.Sprintf("page must be >= 1, got %d", page)}
	}
	if err := box.Validate(); err != nil {
		return SourceLink{}, err
	}
	return SourceLink{DocumentName: documentName, PageNumber: page, BoundingBox: box}, nil
}

// Date is a calendar date without time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the date or a ValidationError when the combination is not on the calendar. Year 0 is rejected.
func NewDate(year int, month time.Month, day int) (Date, error) {
	if year < 1 || month < time.January || month > time.December || day < 1 {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %d/%d/%d", month, day, year)}
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %d/%d/%d", month, day, year)}
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// ParseDate parses an ISO "2006-01-02" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: err.Error()}
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) Time() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func (d Date) String() string { return d.Time().Format("2006-01-02") }

// Long renders the date as "January 10, 2024".
func (d Date) Long() string { return d.Time().Format("January 02, 2006") }

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FactValue is the tagged value of an ExtractedFact. Implementations: DateValue, AmountValue, NameValue.
type FactValue interface {
	Type() FactType
	String() string
}

type DateValue struct{ Date Date }

type AmountValue struct{ Amount float64 }

type NameValue struct{ Name string }

func (DateValue) Type() FactType   { return FactTypeDate }
func (AmountValue) Type() FactType { return FactTypeAmount }
func (NameValue) Type() FactType   { return FactTypePersonName }

func (v DateValue) String() string   { return v.Date.String() }
func (v AmountValue) String() string { return strconv.FormatFloat(v.Amount, 'f', 2, 64) }
func (v NameValue) String() string   { return v.Name }

// ParseFactValue restores a value from its stored string form.
func ParseFactValue(t FactType, raw string) (FactValue, error) {
	switch t {
	case FactTypeDate:
		d, err := ParseDate(raw)
		if err != nil {
			return nil, err
		}
		return DateValue{Date: d}, nil
	case FactTypeAmount:
		f, err := strconv.ParseFloat(strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(raw)), 64)
		if err != nil {
			return nil, &ValidationError{Field: "amount", Message: err.Error()}
		}
		return AmountValue{Amount: f}, nil
	case FactTypePersonName:
		return NameValue{Name: raw}, nil
	default:
		return nil, &ValidationError{Field: "fact_type", Message: fmt.Sprintf("unknown fact type %q", t)}
	}
}

// ExtractedFact 抽取出的事实
type ExtractedFact struct {
	ID         string
	DocumentID string
	Value      FactValue
	Source     SourceLink
	Confidence float64
	TextMatch  string
}

func (f ExtractedFact) Type() FactType { return f.Value.Type() }

// DateValue returns the date for date facts.
func (f ExtractedFact) DateValue() (Date, bool) {
	v, ok := f.Value.(DateValue)
	return v.Date, ok
}

type factJSON struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id,omitempty"`
	FactType   FactType   `json:"fact_type"`
	Value      string     `json:"value"`
	Source     SourceLink `json:"source"`
	Confidence float64    `json:"confidence"`
	TextMatch  string     `json:"text_match,omitempty"`
}

func (f ExtractedFact) MarshalJSON() ([]byte, error) {
	if f.Value == nil {
		return nil, fmt.Errorf("fact %s has no value", f.ID)
	}
	return json.Marshal(factJSON{
		ID:         f.ID,
		DocumentID: f.DocumentID,
		FactType:   f.Value.Type(),
		Value:      f.Value.String(),
		Source:     f.Source,
		Confidence: f.Confidence,
		TextMatch:  f.TextMatch,
	})
}

func (f *ExtractedFact) UnmarshalJSON(data []byte) error {
	var raw factJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := ParseFactValue(raw.FactType, raw.Value)
	if err != nil {
		return err
	}
	*f = ExtractedFact{
		ID:         raw.ID,
		DocumentID: raw.DocumentID,
		Value:      value,
		Source:     raw.Source,
		Confidence: raw.Confidence,
		TextMatch:  raw.TextMatch,
	}
	return nil
}

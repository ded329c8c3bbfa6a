package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage is a position in the processing state machine.
type Stage int

const (
	StagePending Stage = iota
	StageParsing
	StageExtracting
	StageSynthesizing
	StageAnalyzing
	StageSuccess
	StageFailure
)

// TotalStages is the number of working stages reported in progress.
const TotalStages = 4

var stageNames = [...]string{
	StagePending:      "PENDING",
	StageParsing:      "PARSING",
	StageExtracting:   "EXTRACTING",
	StageSynthesizing: "SYNTHESIZING",
	StageAnalyzing:    "ANALYZING",
	StageSuccess:      "SUCCESS",
	StageFailure:      "FAILURE",
}

// transitions is the only source of truth for legal moves. Failure is reachable from every non-terminal stage.
var transitions = map[Stage][]Stage{
	StagePending:      {StageParsing, StageFailure},
	StageParsing:      {StageExtracting, StageFailure},
	StageExtracting:   {StageSynthesizing, StageFailure},
	StageSynthesizing: {StageAnalyzing, StageFailure},
	StageAnalyzing:    {StageSuccess, StageFailure},
	StageSuccess:      nil,
	StageFailure:      nil,
}

func (s Stage) String() string {
	if s < StagePending || s > StageFailure {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Key is the lowercase name used for per-stage timestamps.
func (s Stage) Key() string {
	switch s {
	case StageParsing:
		return "parsing"
	case StageExtracting:
		return "extracting"
	case StageSynthesizing:
		return "synthesizing"
	case StageAnalyzing:
		return "analyzing"
	}
	return ""
}

// Index is the 1-based progress position of a working stage.
func (s Stage) Index() int {
	switch s {
	case StageParsing, StageExtracting, StageSynthesizing, StageAnalyzing:
		return int(s)
	case StageSuccess:
		return TotalStages
	}
	return 0
}

func (s Stage) IsTerminal() bool { return s == StageSuccess || s == StageFailure }

// CanTransition reports whether the table allows s -> to.
func (s Stage) CanTransition(to Stage) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStage is the inverse of String.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StagePending, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JobKind 任务类型
type JobKind string

const (
	JobKindProcessDocument JobKind = "process_document"
	JobKindReanalyzeCase   JobKind = "reanalyze_case"
)

// Progress is what a poller sees while a job runs.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// JobError is the failure payload of a job.
type JobError struct {
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Transient bool      `json:"transient"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// JobResult is the aggregate stored on success.
type JobResult struct {
	DocumentID           string               `json:"document_id,omitempty"`
	CaseID               string               `json:"case_id,omitempty"`
	PagesParsed          int                  `json:"pages_parsed"`
	FactsCount           int                  `json:"facts_count"`
	EventsCount          int                  `json:"events_count"`
	ContradictionsCount  int                  `json:"contradictions_count"`
	StageCompletedAt     map[string]time.Time `json:"stage_completed_at"`
	ContradictionSummary *ContradictionReport `json:"contradiction_summary,omitempty"`
}

// ContradictionReport summarizes a contradiction set by severity.
type ContradictionReport struct {
	Total             int              `json:"total_contradictions"`
	SeverityBreakdown map[Severity]int `json:"severity_breakdown"`
	RiskLevel         string           `json:"risk_level"`
	RiskAssessment    string           `json:"risk_assessment"`
	HighPriorityCount int              `json:"high_priority_count"`
}

// ProcessingJob 处理任务
type ProcessingJob struct {
	ID              string     `json:"id"`
	Kind            JobKind    `json:"kind"`
	DocumentRef     string     `json:"document_ref,omitempty"`
	CaseID          string     `json:"case_id,omitempty"`
	Stage           Stage      `json:"stage"`
	Progress        Progress   `json:"progress"`
	Result          *JobResult `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job.
func NewJob(id string, kind JobKind, documentRef, caseID string, now time.Time) *ProcessingJob {
	return &ProcessingJob{
		ID:          id,
		Kind:        kind,
		DocumentRef: documentRef,
		CaseID:      caseID,
		Stage:       StagePending,
		Progress:    Progress{Current: 0, Total: TotalStages, Status: "Queued"},
		Result:      &JobResult{StageCompletedAt: map[string]time.Time{}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the job along the table or returns ErrIllegalTransition.
func (j *ProcessingJob) Transition(to Stage, status string, now time.Time) error {
	if !j.Stage.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Stage, to)
	}
	if j.Stage == StagePending && j.StartedAt == nil {
		started := now
		j.StartedAt = &started
	}
	j.Stage = to
	j.UpdatedAt = now
	current := to.Index()
	if to == StageFailure {
		current = j.Progress.Current
	}
	j.Progress = Progress{Current: current, Total: TotalStages, Status: status}
	if to.IsTerminal() {
		done := now
		j.CompletedAt = &done
	}
	return nil
}

// MarkStageCompleted records the completion time of a working stage.
func (j *ProcessingJob) MarkStageCompleted(s Stage, now time.Time) {
	if j.Result == nil {
		j.Result = &JobResult{}
	}
	if j.Result.StageCompletedAt == nil {
		j.Result.StageCompletedAt = map[string]time.Time{}
	}
	j.Result.StageCompletedAt[s.Key()] = now
	j.UpdatedAt = now
}

// StageCompleted reports whether the output of stage s was durably recorded.
func (j *ProcessingJob) StageCompleted(s Stage) bool {
	if j.Result == nil || j.Result.StageCompletedAt == nil {
		return false
	}
	_, ok := j.Result.StageCompletedAt[s.Key()]
	return ok
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		r := *j.Result
		r.StageCompletedAt = make(map[string]time.Time, len(j.Result.StageCompletedAt))
		for k, v := range j.Result.StageCompletedAt {
			r.StageCompletedAt[k] = v
		}
		if j.Result.ContradictionSummary != nil {
			s := *j.Result.ContradictionSummary
			s.SeverityBreakdown = make(map[Severity]int, len(j.Result.ContradictionSummary.SeverityBreakdown))
			for k, v := range j.Result.ContradictionSummary.SeverityBreakdown {
				s.SeverityBreakdown[k] = v
			}
			r.ContradictionSummary = &s
		}
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

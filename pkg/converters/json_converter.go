package converters

import (
    "fmt"
    "sort"
    "time"

    "github.com/feichai0017/casefolio/internal/models"
)

// ResultConverter turns a finished job and its stored outputs into the result payload
type ResultConverter interface {
    Convert(job *models.ProcessingJob, facts []models.ExtractedFact, events []models.SynthesizedEvent, contradictions []models.Contradiction) (*ResultDocument, error)
}

// ResultDocument 定义处理结果结构. Field names match the model json tags so the API can pass it through.
type ResultDocument struct {
    JobID          string                    `json:"job_id"`
    Kind           models.JobKind            `json:"kind"`
    Status         string                    `json:"status"`
    CaseID         string                    `json:"case_id,omitempty"`
    DocumentID     string                    `json:"document_id,omitempty"`
    Summary        *models.JobResult         `json:"summary"`
    Facts          []models.ExtractedFact    `json:"facts"`
    Pages          []PageFacts               `json:"pages"`
    Events         []models.SynthesizedEvent `json:"events"`
    Contradictions []models.Contradiction    `json:"contradictions"`
    GeneratedAt    time.Time                 `json:"generated_at"`
}

// PageFacts indexes fact ids by the page they were read from
type PageFacts struct {
    DocumentName string   `json:"document_name"`
    PageNumber   int      `json:"page_number"`
    FactIDs      []string `json:"fact_ids"`
}

// JSONConverter 实现结果转换器
type JSONConverter struct {
    now func() time.Time
}

func NewJSONConverter() *JSONConverter {
    return &JSONConverter{now: func() time.Time { return time.Now().UTC() }}
}

func (c *JSONConverter) Convert(
    job *models.ProcessingJob,
    facts []models.ExtractedFact,
    events []models.SynthesizedEvent,
    contradictions []models.Contradiction,
) (*ResultDocument, error) {
    if job == nil {
        return nil, fmt.Errorf("no job to convert")
    }
    if job.Stage != models.StageSuccess {
        return nil, fmt.Errorf("job %s is not completed: %s", job.ID, job.Stage)
    }

    doc := &ResultDocument{
        JobID:          job.ID,
        Kind:           job.Kind,
        Status:         job.Stage.String(),
        CaseID:         job.CaseID,
        Summary:        job.Result,
        Facts:          nonNil(facts),
        Pages:          groupByPage(facts),
        Events:         make([]models.SynthesizedEvent, 0, len(events)),
        Contradictions: nonNil(contradictions),
        GeneratedAt:    c.now(),
    }
    if job.Kind == models.JobKindProcessDocument {
        doc.DocumentID = job.DocumentRef
    }

    // facts are already listed once; events keep only the ids
    for _, e := range events {
        e.SourceFacts = nil
        doc.Events = append(doc.Events, e)
    }

    return doc, nil
}

func groupByPage(facts []models.ExtractedFact) []PageFacts {
    type pageKey struct {
        name string
        page int
    }
    index := make(map[pageKey]int)
    pages := make([]PageFacts, 0)
    for _, f := range facts {
        key := pageKey{f.Source.DocumentName, f.Source.PageNumber}
        i, ok := index[key]
        if !ok {
            i = len(pages)
            index[key] = i
            pages = append(pages, PageFacts{DocumentName: f.Source.DocumentName, PageNumber: f.Source.PageNumber})
        }
        pages[i].FactIDs = append(pages[i].FactIDs, f.ID)
    }
    sort.SliceStable(pages, func(a, b int) bool {
        if pages[a].DocumentName != pages[b].DocumentName {
            return pages[a].DocumentName < pages[b].DocumentName
        }
        return pages[a].PageNumber < pages[b].PageNumber
    })
    return pages
}

func nonNil[T any](s []T) []T {
    if s == nil {
        return []T{}
    }
    return s
}

package models

import (
    "time"
)

// FileType 文件类型
type FileType string

const (
    PDF   FileType = "pdf"
    Image FileType = "image"
    Text  FileType = "text"
)

// Document is the read-side view of a case document owned by the relational layer.
type Document struct {
    ID          string     `json:"id"`
    CaseID      string     `json:"case_id"`
    FileName    string     `json:"file_name"`
    StorageKey  string     `json:"storage_key"`
    ContentType string     `json:"content_type"`
    FileType    FileType   `json:"file_type"`
    FileSize    int64      `json:"file_size"`
    PageCount   int        `json:"page_count"`
    Hash        string     `json:"hash,omitempty"`
    CreatedAt   time.Time  `json:"created_at"`
    ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DocumentMetadata 文档元数据
type DocumentMetadata struct {
    Title      string                 `json:"title"`
    Author     string                 `json:"author"`
    FileType   FileType               `json:"fileType"`
    FileSize   int64                  `json:"fileSize"`
    MimeType   string                 `json:"mimeType"`
    Pages      int                    `json:"pages"`
    Hash       string                 `json:"hash"`
    Properties map[string]interface{} `json:"properties"`
}

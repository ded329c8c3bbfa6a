// internal/utils/validator/document.go
package validator

import (
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "image"
    _ "image/jpeg"
    _ "image/png"
    "io"
    "path/filepath"
    "strings"

    "github.com/gabriel-vasile/mimetype"
    "github.com/ledongthuc/pdf"
    _ "golang.org/x/image/tiff"

    "github.com/feichai0017/casefolio/pkg/logger"
)

// DocumentValidator checks uploads before they are stored
type DocumentValidator struct {
    logger logger.Logger
    config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
    MaxFileSize  int64               // bytes
    AllowedTypes map[string][]string // extension -> accepted MIME types
    MinDimension int                 // image edge, pixels
    MaxDimension int
    MaxPageCount int
}

// ValidationResult 验证结果
type ValidationResult struct {
    IsValid  bool              `json:"is_valid"`
    Errors   []ValidationError `json:"errors,omitempty"`
    FileInfo FileInfo          `json:"file_info"`
}

// ValidationError 验证错误
type ValidationError struct {
    Code    string `json:"code"`
    Message string `json:"message"`
    Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
    Filename  string `json:"filename"`
    Size      int64  `json:"size"`
    MimeType  string `json:"mime_type"`
    Extension string `json:"extension"`
    Hash      string `json:"hash"`
    PageCount int    `json:"page_count,omitempty"`
}

// Error joins the messages of an invalid result.
func (r *ValidationResult) Error() string {
    msgs := make([]string, len(r.Errors))
    for i, e := range r.Errors {
        msgs[i] = e.Message
    }
    return strings.Join(msgs, "; ")
}

func DefaultConfig() *ValidatorConfig {
    return &ValidatorConfig{
        MaxFileSize: 50 * 1024 * 1024,
        AllowedTypes: map[string][]string{
            ".pdf":  {"application/pdf"},
            ".jpg":  {"image/jpeg"},
            ".jpeg": {"image/jpeg"},
            ".png":  {"image/png"},
            ".tiff": {"image/tiff"},
            ".tif":  {"image/tiff"},
            ".txt":  {"text/plain"},
        },
        MinDimension: 100,
        MaxDimension: 10000,
        MaxPageCount: 1000,
    }
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(logger logger.Logger, config *ValidatorConfig) *DocumentValidator {
    if config == nil {
        config = DefaultConfig()
    }
    return &DocumentValidator{
        logger: logger,
        config: config,
    }
}

// Validate inspects one upload. The reader is rewound before returning.
func (v *DocumentValidator) Validate(filename string, file io.ReadSeeker, size int64) (*ValidationResult, error) {
    result := &ValidationResult{
        IsValid: true,
        FileInfo: FileInfo{
            Filename:  filename,
            Size:      size,
            Extension: strings.ToLower(filepath.Ext(filename)),
        },
    }

    hash, err := calculateHash(file)
    if err != nil {
        return nil, fmt.Errorf("failed to calculate hash: %w", err)
    }
    result.FileInfo.Hash = hash

    mtype, err := mimetype.DetectReader(file)
    if err != nil {
        return nil, fmt.Errorf("failed to detect mime type: %w", err)
    }
    if _, err := file.Seek(0, io.SeekStart); err != nil {
        return nil, fmt.Errorf("failed to reset file pointer: %w", err)
    }
    result.FileInfo.MimeType = mtype.String()

    result.add(v.performBasicValidation(result.FileInfo)...)
    result.add(v.validateMimeType(mtype, result.FileInfo)...)
    if result.IsValid {
        result.add(v.performTypeSpecificValidation(file, &result.FileInfo)...)
    }
    if _, err := file.Seek(0, io.SeekStart); err != nil {
        return nil, fmt.Errorf("failed to reset file pointer: %w", err)
    }

    if !result.IsValid {
        v.logger.Warn("Upload rejected",
            logger.String("filename", filename),
            logger.String("mimeType", result.FileInfo.MimeType),
            logger.String("reason", result.Error()),
        )
    }
    return result, nil
}

func (r *ValidationResult) add(errs ...ValidationError) {
    if len(errs) == 0 {
        return
    }
    r.IsValid = false
    r.Errors = append(r.Errors, errs...)
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(fileInfo FileInfo) []ValidationError {
    var errors []ValidationError

    if fileInfo.Size > v.config.MaxFileSize {
        errors = append(errors, ValidationError{
            Code:    "FILE_TOO_LARGE",
            Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
            Field:   "size",
        })
    }
    if fileInfo.Size == 0 {
        errors = append(errors, ValidationError{
            Code:    "EMPTY_FILE",
            Message: "File is empty",
            Field:   "size",
        })
    }
    if _, ok := v.config.AllowedTypes[fileInfo.Extension]; !ok {
        errors = append(errors, ValidationError{
            Code:    "INVALID_FILE_TYPE",
            Message: fmt.Sprintf("File type %s is not allowed", fileInfo.Extension),
            Field:   "extension",
        })
    }

    return errors
}

// MIME类型验证 compares the sniffed type, not the client-declared one
func (v *DocumentValidator) validateMimeType(mtype *mimetype.MIME, fileInfo FileInfo) []ValidationError {
    allowed, ok := v.config.AllowedTypes[fileInfo.Extension]
    if !ok {
        return nil
    }
    for _, m := range allowed {
        if mtype.Is(m) {
            return nil
        }
    }
    return []ValidationError{{
        Code:    "INVALID_MIME_TYPE",
        Message: fmt.Sprintf("Invalid MIME type %s for extension %s", mtype.String(), fileInfo.Extension),
        Field:   "mimeType",
    }}
}

// 特定类型验证
func (v *DocumentValidator) performTypeSpecificValidation(file io.ReadSeeker, fileInfo *FileInfo) []ValidationError {
    switch fileInfo.Extension {
    case ".pdf":
        return v.validatePDF(file, fileInfo)
    case ".jpg", ".jpeg", ".png", ".tiff", ".tif":
        return v.validateImage(file)
    }
    return nil
}

func (v *DocumentValidator) validatePDF(file io.ReadSeeker, fileInfo *FileInfo) []ValidationError {
    ra, ok := file.(io.ReaderAt)
    if !ok {
        return nil
    }
    r, err := pdf.NewReader(ra, fileInfo.Size)
    if err != nil {
        return []ValidationError{{Code: "INVALID_PDF", Message: fmt.Sprintf("Unreadable PDF: %v", err), Field: "file"}}
    }
    fileInfo.PageCount = r.NumPage()
    if fileInfo.PageCount > v.config.MaxPageCount {
        return []ValidationError{{
            Code:    "TOO_MANY_PAGES",
            Message: fmt.Sprintf("PDF has %d pages, limit is %d", fileInfo.PageCount, v.config.MaxPageCount),
            Field:   "pages",
        }}
    }
    return nil
}

func (v *DocumentValidator) validateImage(file io.ReadSeeker) []ValidationError {
    if _, err := file.Seek(0, io.SeekStart); err != nil {
        return []ValidationError{{Code: "INVALID_IMAGE", Message: err.Error(), Field: "file"}}
    }
    cfg, _, err := image.DecodeConfig(file)
    if err != nil {
        return []ValidationError{{Code: "INVALID_IMAGE", Message: fmt.Sprintf("Unreadable image: %v", err), Field: "file"}}
    }
    for _, edge := range []int{cfg.Width, cfg.Height} {
        if edge < v.config.MinDimension || edge > v.config.MaxDimension {
            return []ValidationError{{
                Code:    "INVALID_DIMENSIONS",
                Message: fmt.Sprintf("Image is %dx%d, edges must be within %d-%d pixels", cfg.Width, cfg.Height, v.config.MinDimension, v.config.MaxDimension),
                Field:   "dimensions",
            }}
        }
    }
    return nil
}

// 计算文件哈希
func calculateHash(file io.ReadSeeker) (string, error) {
    hash := sha256.New()
    if _, err := io.Copy(hash, file); err != nil {
        return "", err
    }
    if _, err := file.Seek(0, io.SeekStart); err != nil {
        return "", err
    }
    return hex.EncodeToString(hash.Sum(nil)), nil
}

package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/feichai0017/casefolio/pkg/logger"
)

// 扩展名到 MIME 类型的映射
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

// MIMEType maps a file name or bare extension to the MIME type decoders are registered under.
func MIMEType(fileName string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" && strings.HasPrefix(fileName, ".") {
		ext = strings.ToLower(fileName)
	}
	mimeType, ok := extToMIME[ext]
	return mimeType, ok
}

// Factory picks a Provider by file type.
type Factory struct {
	providers map[string]Provider
	logger    logger.Logger
}

// NewFactory registers every MIME type each provider claims. Later providers win, so pass the preferred decoder last.
func NewFactory(log logger.Logger, providers ...Provider) *Factory {
	f := &Factory{
		providers: make(map[string]Provider),
		logger:    log,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		for _, mimeType := range extToMIME {
			if p.CanDecode(mimeType) {
				f.providers[mimeType] = p
			}
		}
	}
	return f
}

// Register binds a provider to one MIME type.
func (f *Factory) Register(mimeType string, p Provider) {
	f.providers[mimeType] = p
}

// ForFile returns the provider for a file name (or extension) and the MIME type it resolved to.
func (f *Factory) ForFile(fileName string) (Provider, string, error) {
	mimeType, ok := MIMEType(fileName)
	if !ok {
		f.logger.Warn("Unsupported file type",
			logger.String("file", fileName),
		)
		return nil, "", fmt.Errorf("unsupported file type: %s", filepath.Ext(fileName))
	}
	p, err := f.ForMIME(mimeType)
	if err != nil {
		return nil, "", err
	}
	return p, mimeType, nil
}

// ForMIME returns the provider registered for mimeType.
func (f *Factory) ForMIME(mimeType string) (Provider, error) {
	// "text/plain; charset=utf-8" -> "text/plain"
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	p, ok := f.providers[strings.ToLower(base)]
	if !ok {
		f.logger.Warn("No decoder found",
			logger.String("mimeType", mimeType),
		)
		return nil, fmt.Errorf("no decoder found for mime type: %s", mimeType)
	}
	f.logger.Debug("Selected decoder",
		logger.String("mimeType", base),
		logger.String("decoder", p.Name()),
	)
	return p, nil
}

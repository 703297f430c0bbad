// Package extract turns uploaded file bytes into plain text, routed by MIME type.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedType is returned for MIME types no extractor handles.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrExtraction wraps any failure inside an extractor.
	ErrExtraction = errors.New("text extraction failed")
	// ErrTextTooShort is returned when cleaned text is below the minimum viable length.
	ErrTextTooShort = errors.New("extracted text is too short or invalid")
)

// MIME types accepted for upload.
const (
	MimePDF      = "application/pdf"
	MimeDOC      = "application/msword"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG     = "image/jpeg"
	MimeJPG      = "image/jpg"
	MimePNG      = "image/png"
	MimeWebP     = "image/webp"
	MimeHTML     = "text/html"
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
)

// Extractor returns the plain text content of a file.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, mimeType string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	return f(ctx, data, mimeType)
}

// Registry routes extraction to the extractor registered for a MIME type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Extractor)}
}

// Register binds an extractor to one or more MIME types, replacing earlier bindings.
func (r *Registry) Register(e Extractor, mimeTypes ...string) {
	for _, mt := range mimeTypes {
		r.byType[normalizeMime(mt)] = e
	}
}

// Supports reports whether mimeType has an extractor.
func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.byType[normalizeMime(mimeType)]
	return ok
}

// Types lists the registered MIME types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.byType))
	for mt := range r.byType {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Extract runs the extractor for mimeType. Errors wrap ErrUnsupportedType or ErrExtraction.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	e, ok := r.byType[normalizeMime(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	text, err := e.Extract(ctx, data, mimeType)
	if err != nil {
		if errors.Is(err, ErrExtraction) || errors.Is(err, ErrUnsupportedType) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return text, nil
}

// NewLocal returns a registry of in-process extractors. Images are not supported locally.
func NewLocal() *Registry {
	r := NewRegistry()
	r.Register(ExtractorFunc(PDF), MimePDF)
	r.Register(ExtractorFunc(DOCX), MimeDOCX, MimeDOC)
	r.Register(ExtractorFunc(HTML), MimeHTML)
	r.Register(ExtractorFunc(PlainText), MimePlain, MimeMarkdown)
	return r
}

// NewRemoteFirst returns a registry sending PDF, Word and image files to the remote
// extraction service and handling HTML and text locally.
func NewRemoteFirst(remote *Remote) *Registry {
	r := NewLocal()
	r.Register(remote, remote.SupportedTypes()...)
	return r
}

func normalizeMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// remoteRoute maps a MIME type to the extraction service endpoint and upload filename.
type remoteRoute struct {
	path     string
	filename string
}

var remoteRoutes = map[string]remoteRoute{
	MimePDF:  {"/extract/pdf", "document.pdf"},
	MimeDOCX: {"/extract/word", "document.docx"},
	MimeDOC:  {"/extract/word", "document.doc"},
	MimeJPEG: {"/extract/image", "image.jpg"},
	MimeJPG:  {"/extract/image", "image.jpg"},
	MimePNG:  {"/extract/image", "image.png"},
	MimeWebP: {"/extract/image", "image.webp"},
}

// Remote sends files to the document extraction microservice (PDF parsing, OCR, Word).
type Remote struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemote creates a client for the extraction service at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SupportedTypes lists the MIME types the service accepts.
func (r *Remote) SupportedTypes() []string {
	types := make([]string, 0, len(remoteRoutes))
	for mt := range remoteRoutes {
		types = append(types, mt)
	}
	return types
}

type remoteResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Extract uploads data as the multipart field "file" and returns the service's text.
func (r *Remote) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	route, ok := remoteRoutes[normalizeMime(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, route.filename))
	h.Set("Content-Type", normalizeMime(mimeType))
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+route.path, &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: calling extraction service: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading extraction response: %v", ErrExtraction, err)
	}

	var out remoteResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("extraction service returned status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrExtraction, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decoding extraction response: %v", ErrExtraction, decodeErr)
	}
	return out.Text, nil
}

// Healthy reports whether the service answers GET /health with 200.
func (r *Remote) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// PlainText returns text and markdown files as-is, transcoding non-UTF-8 input
// using the charset named in mimeType or sniffed from the content.
func PlainText(_ context.Context, data []byte, mimeType string) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	r, err := charset.NewReader(bytes.NewReader(data), mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: detecting charset: %v", ErrExtraction, err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: decoding text: %v", ErrExtraction, err)
	}
	return string(b), nil
}

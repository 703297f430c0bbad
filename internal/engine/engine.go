// Package engine holds the model providers behind two narrow interfaces:
// Embedder for vectors and Completer for chat completions.
package engine

import (
	"context"
	"errors"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmbedding wraps any failure to produce an embedding.
	ErrEmbedding = errors.New("embedding failed")
	// ErrCompletion wraps any failure to produce a completion.
	ErrCompletion = errors.New("completion failed")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces an assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ModelManager is implemented by self-hosted backends that can pull missing models.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// PullProgress reports download progress for a model pull.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// CompletionOptions are shared by every Completer implementation.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// splitSystem joins all system messages into one instruction and returns the rest,
// for APIs that take the system prompt separately.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

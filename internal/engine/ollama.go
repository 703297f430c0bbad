package engine

import (
	"context"
	"fmt"

	"github.com/omj-erie/omjsite/internal/ollama"
)

// Ollama serves embeddings and completions from a self-hosted Ollama server.
type Ollama struct {
	client     *ollama.Client
	embedModel string
	completion CompletionOptions
}

// NewOllama creates a provider for the Ollama server at baseURL.
func NewOllama(baseURL, embedModel string, completion CompletionOptions) *Ollama {
	return &Ollama{client: ollama.New(baseURL), embedModel: embedModel, completion: completion}
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := o.client.Embed(ctx, o.embedModel, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vec, nil
}

func (o *Ollama) Complete(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	opts := &ollama.ChatOptions{Temperature: o.completion.Temperature, NumPredict: o.completion.MaxTokens}
	out, err := o.client.Chat(ctx, o.completion.Model, msgs, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	return out, nil
}

func (o *Ollama) IsRunning(ctx context.Context) bool {
	return o.client.IsRunning(ctx)
}

func (o *Ollama) HasModel(ctx context.Context, name string) bool {
	return o.client.HasModel(ctx, name)
}

func (o *Ollama) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return o.client.PullModel(ctx, name, cb)
}

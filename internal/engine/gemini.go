package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey         string
	EmbeddingModel string
	Dimensions     int
	Completion     CompletionOptions
}

// Gemini serves embeddings and completions from the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var conf *genai.EmbedContentConfig
	if g.cfg.Dimensions > 0 {
		dim := int32(g.cfg.Dimensions)
		conf = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	res, err := g.client.Models.EmbedContent(ctx, g.cfg.EmbeddingModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrEmbedding)
	}
	return res.Embeddings[0].Values, nil
}

func (g *Gemini) Complete(ctx context.Context, messages []Message) (string, error) {
	system, contents := toGeminiContents(messages)
	conf := &genai.GenerateContentConfig{}
	if g.cfg.Completion.Temperature > 0 {
		conf.Temperature = genai.Ptr(float32(g.cfg.Completion.Temperature))
	}
	if system != "" {
		conf.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Completion.Model, contents, conf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	var out strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				out.WriteString(part.Text)
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrCompletion)
	}
	return out.String(), nil
}

// toGeminiContents splits off the system prompt and maps assistant turns to the model role.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	system, rest := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return system, contents
}

// Package llm wraps the text-generation backend used for reply drafting and
// model-based moderation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Model turns a prompt into free text. One call, no retries.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeminiModel struct {
	Client *genai.Client
	Name   string
}

func NewGeminiModel(ctx context.Context, apiKey, name string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, errors.New("genai api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiModel{Client: client, Name: name}, nil
}

func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := m.Client.Models.GenerateContent(ctx, m.Name, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := responseText(result)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

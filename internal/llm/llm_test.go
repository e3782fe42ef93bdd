package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Thanks "}, nil, {Text: "for reading!"}}},
		}},
	}
	assert.Equal(t, "Thanks for reading!", responseText(resp))
}

func TestNewGeminiModelRequiresKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), "", "gemini-2.5-flash")
	assert.Error(t, err)
}

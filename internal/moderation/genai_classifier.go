package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/alphabot-ai/scribe/internal/llm"
)

const genaiModerationPrompt = `You are a content moderator for a blog platform. Decide whether the following %s is appropriate to publish.

Consider:
- Profanity and offensive language
- Hate speech or discrimination
- Spam or unsolicited promotion
- Threats or harassment
- Sexual or otherwise inappropriate content

Content:
%s

Respond with a single JSON object and nothing else:
{"is_appropriate": true or false, "confidence": number between 0 and 1, "issues": [list of short issue names], "severity": "none" | "low" | "medium" | "high"}`

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// GenAIClassifier asks a language model to classify content and reads the
// JSON object out of its answer.
type GenAIClassifier struct {
	Model llm.Model
	Kind  Kind
}

type genaiVerdict struct {
	IsAppropriate *bool    `json:"is_appropriate"`
	Confidence    *float64 `json:"confidence"`
	Issues        []string `json:"issues"`
	Severity      string   `json:"severity"`
}

func NewGenAIClassifier(model llm.Model) *GenAIClassifier {
	return &GenAIClassifier{Model: model, Kind: KindComment}
}

func (gc *GenAIClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	kind := KindFromContext(ctx, gc.Kind)
	raw, err := gc.Model.Generate(ctx, fmt.Sprintf(genaiModerationPrompt, kind, text))
	if err != nil {
		return Classification{}, err
	}
	return parseGenAIVerdict(raw)
}

func parseGenAIVerdict(raw string) (Classification, error) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return Classification{}, &ParseError{Raw: excerpt(raw, 500), Err: errors.New("no JSON object in model output")}
	}
	var v genaiVerdict
	if err := json.Unmarshal([]byte(match), &v); err != nil {
		return Classification{}, &ParseError{Raw: excerpt(raw, 500), Err: err}
	}
	c := Classification{
		Confidence: 1.0,
		Issues:     v.Issues,
		Severity:   ParseSeverity(v.Severity),
	}
	if v.IsAppropriate != nil {
		c.Flagged = !*v.IsAppropriate
	}
	if v.Confidence != nil {
		c.Confidence = *v.Confidence
	}
	return c, nil
}

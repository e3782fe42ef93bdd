// Package reply drafts short replies to comments on behalf of a post's author.
package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alphabot-ai/scribe/internal/breaker"
	"github.com/alphabot-ai/scribe/internal/llm"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 15 * time.Second

	// MaxLength is the ceiling on a cleaned reply, in characters.
	MaxLength = 500
	ellipsis  = "..."
)

const promptTemplate = `Generate a helpful and relevant reply to this comment on a blog post.

Post Title: %s
Post Content: %s
Comment: %s

Requirements:
- Be helpful and informative
- Address the comment's content directly
- Keep it concise (1-2 sentences)
- Be friendly and professional
- Don't be overly promotional
- If the comment is negative, be constructive

Generate only the reply text, no additional formatting or explanations.`

// Generator returns "" whenever it has nothing to post: disabled, no model,
// a failed call, or an empty answer.
type Generator struct {
	model   llm.Model
	enabled bool
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewGenerator(model llm.Model, enabled bool, timeout time.Duration, log *zap.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		model:   model,
		enabled: enabled,
		timeout: timeout,
		breaker: breaker.New("reply", time.Minute, log),
		log:     log,
	}
}

func (g *Generator) Enabled() bool {
	return g.enabled && g.model != nil
}

func (g *Generator) Generate(ctx context.Context, postTitle, postContent, commentContent string) string {
	if !g.Enabled() {
		generateCount.WithLabelValues("disabled").Inc()
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.model.Generate(ctx, BuildPrompt(postTitle, postContent, commentContent))
	})
	generateDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		generateCount.WithLabelValues("error").Inc()
		g.log.Warn("reply generation failed", zap.Error(err))
		return ""
	}

	out := CleanReply(res.(string))
	if out == "" {
		generateCount.WithLabelValues("empty").Inc()
		return ""
	}
	generateCount.WithLabelValues("ok").Inc()
	g.log.Info("reply generated", zap.String("preview", preview(out, 100)))
	return out
}

func BuildPrompt(postTitle, postContent, commentContent string) string {
	return fmt.Sprintf(promptTemplate, postTitle, postContent, commentContent)
}

// CleanReply strips wrapping whitespace and quotes, then caps the result at
// MaxLength characters, ending a cut reply with "...".
func CleanReply(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, `'`)
	s = strings.TrimSpace(s)

	r := []rune(s)
	if len(r) > MaxLength {
		s = string(r[:MaxLength-len(ellipsis)]) + ellipsis
	}
	return s
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

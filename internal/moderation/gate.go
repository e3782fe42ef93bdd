package moderation

import (
	"context"
	"strings"
)

// Kind says what sort of content is being moderated.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

type kindKey struct{}

// WithKind records the content kind on ctx for classifiers that phrase
// their request differently per kind.
func WithKind(ctx context.Context, kind Kind) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

// KindFromContext returns the kind stored by WithKind, or def.
func KindFromContext(ctx context.Context, def Kind) Kind {
	if k, ok := ctx.Value(kindKey{}).(Kind); ok && k != "" {
		return k
	}
	return def
}

// Moderator classifies text into a verdict. It never fails.
type Moderator interface {
	Classify(ctx context.Context, text string) Verdict
}

// Gate decides whether a new post or comment may be persisted. It holds no
// state between calls.
type Gate struct {
	moderator Moderator
}

func NewGate(m Moderator) *Gate {
	return &Gate{moderator: m}
}

// Check classifies content as submitted and returns the verdict unchanged.
func (g *Gate) Check(ctx context.Context, content string, kind Kind) Verdict {
	return g.moderator.Classify(WithKind(ctx, kind), content)
}

// CheckPost classifies a post's title and body together.
func (g *Gate) CheckPost(ctx context.Context, title, content string) Verdict {
	return g.Check(ctx, strings.Join([]string{title, content}, " "), KindPost)
}

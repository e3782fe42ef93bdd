package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

type fakeModel struct {
	out    string
	err    error
	calls  int
	prompt string
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls++
	m.prompt = prompt
	return m.out, m.err
}

func TestGenerateDisabled(t *testing.T) {
	m := &fakeModel{out: "hi"}
	assert.Equal(t, "", NewGenerator(m, false, 0, nil).Generate(context.Background(), "t", "c", "x"))
	assert.Equal(t, 0, m.calls)

	assert.Equal(t, "", NewGenerator(nil, true, 0, nil).Generate(context.Background(), "t", "c", "x"))
}

func TestGenerate(t *testing.T) {
	m := &fakeModel{out: "  \"Thanks for reading!\"\n"}
	g := NewGenerator(m, true, 0, nil)

	out := g.Generate(context.Background(), "Go tips", "Use interfaces.", "Great post!")
	assert.Equal(t, "Thanks for reading!", out)
	assert.Contains(t, m.prompt, "Post Title: Go tips\nPost Content: Use interfaces.\nComment: Great post!")
	assert.Contains(t, m.prompt, "- Don't be overly promotional")
}

func TestGenerateFailureIsSilent(t *testing.T) {
	g := NewGenerator(&fakeModel{err: errors.New("quota exceeded")}, true, 0, nil)
	assert.Equal(t, "", g.Generate(context.Background(), "t", "c", "x"))

	g = NewGenerator(&fakeModel{out: "   "}, true, 0, nil)
	assert.Equal(t, "", g.Generate(context.Background(), "t", "c", "x"))
}

type slowModel struct{}

func (slowModel) Generate(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGenerateTimeout(t *testing.T) {
	g := NewGenerator(slowModel{}, true, 20*time.Millisecond, nil)
	assert.Equal(t, "", g.Generate(context.Background(), "t", "c", "x"))
}

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "hello", CleanReply(`  "hello"  `))
	assert.Equal(t, "hello", CleanReply(`'hello'`))
	assert.Equal(t, "it's fine", CleanReply(` "'it's fine'" `))
	assert.Equal(t, "", CleanReply(`""`))

	exact := strings.Repeat("a", MaxLength)
	assert.Equal(t, exact, CleanReply(exact))

	long := CleanReply(strings.Repeat("b", 800))
	assert.Equal(t, MaxLength, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Equal(t, strings.Repeat("b", MaxLength-3), strings.TrimSuffix(long, "..."))

	wide := CleanReply(strings.Repeat("é", 600))
	assert.Equal(t, MaxLength, utf8.RuneCountInString(wide))
	assert.True(t, utf8.ValidString(wide))
}

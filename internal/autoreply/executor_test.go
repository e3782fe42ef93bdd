package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"
	"github.com/alphabot-ai/scribe/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedWriter struct {
	text  string
	calls int
}

func (w *fixedWriter) Generate(ctx context.Context, postTitle, postContent, commentContent string) string {
	w.calls++
	return w.text
}

type fixture struct {
	st       *sqlite.Store
	authorID int64
	readerID int64
	post     model.Post
	comment  model.Comment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{st: st}
	f.authorID, err = st.CreateUser(ctx, &model.User{Email: "author@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)
	f.readerID, err = st.CreateUser(ctx, &model.User{Email: "reader@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)

	f.post = model.Post{Title: "Go tips", Content: "Use small interfaces.", AuthorID: f.authorID, AutoReplyEnabled: true, AutoReplyDelay: 60}
	f.post.ID, err = st.CreatePost(ctx, &f.post)
	require.NoError(t, err)

	f.comment = model.Comment{PostID: f.post.ID, AuthorID: f.readerID, Content: "Great post!"}
	f.comment.ID, err = st.CreateComment(ctx, &f.comment)
	require.NoError(t, err)
	return f
}

func (f *fixture) job() Job {
	return Job{Handle: "h1", CommentID: f.comment.ID, PostID: f.post.ID, Delay: 60, CreatedAt: time.Now()}
}

func (f *fixture) comments(t *testing.T) []model.Comment {
	t.Helper()
	cs, _, err := f.st.ListCommentsByPost(context.Background(), f.post.ID, store.CommentListOpts{IncludeBlocked: true, Limit: 100})
	require.NoError(t, err)
	return cs
}

func TestExecutePostsReply(t *testing.T) {
	f := newFixture(t)
	ex := NewExecutor(f.st, &fixedWriter{text: "Thanks for reading!"}, "", nil)

	res, err := ex.Execute(context.Background(), f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, res.Outcome)

	reply, err := f.st.GetComment(context.Background(), res.ReplyID)
	require.NoError(t, err)
	assert.Equal(t, "Thanks for reading!", reply.Content)
	assert.True(t, reply.IsAutoReply)
	assert.False(t, reply.IsBlocked)
	assert.Equal(t, f.authorID, reply.AuthorID)
	assert.Equal(t, f.post.ID, reply.PostID)
}

func TestExecuteTwiceIsAlreadyReplied(t *testing.T) {
	f := newFixture(t)
	w := &fixedWriter{text: "Thanks for reading!"}
	ex := NewExecutor(f.st, w, "", nil)

	res, err := ex.Execute(context.Background(), f.job())
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, res.Outcome)

	res, err = ex.Execute(context.Background(), f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReplied, res.Outcome)
	assert.Equal(t, 1, w.calls)
	assert.Len(t, f.comments(t), 2)
}

func TestExecuteBurstSharesOneReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := model.Comment{PostID: f.post.ID, AuthorID: f.readerID, Content: "Me too"}
	var err error
	second.ID, err = f.st.CreateComment(ctx, &second)
	require.NoError(t, err)

	ex := NewExecutor(f.st, &fixedWriter{text: "Thanks!"}, "", nil)
	res, err := ex.Execute(ctx, Job{CommentID: second.ID, PostID: f.post.ID})
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, res.Outcome)

	res, err = ex.Execute(ctx, f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReplied, res.Outcome)
}

// rendezvousWriter holds every Generate call until n calls are in flight, so
// jobs for one post pass the early auto-reply check together.
type rendezvousWriter struct {
	text string
	n    int

	mu      sync.Mutex
	calls   int
	arrived chan struct{}
}

func newRendezvousWriter(text string, n int) *rendezvousWriter {
	return &rendezvousWriter{text: text, n: n, arrived: make(chan struct{})}
}

func (w *rendezvousWriter) Generate(ctx context.Context, postTitle, postContent, commentContent string) string {
	w.mu.Lock()
	w.calls++
	if w.calls == w.n {
		close(w.arrived)
	}
	w.mu.Unlock()

	select {
	case <-w.arrived:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return w.text
}

func (f *fixture) addComment(t *testing.T, content string) model.Comment {
	t.Helper()
	c := model.Comment{PostID: f.post.ID, AuthorID: f.readerID, Content: content}
	var err error
	c.ID, err = f.st.CreateComment(context.Background(), &c)
	require.NoError(t, err)
	return c
}

func (f *fixture) autoReplies(t *testing.T) []model.Comment {
	t.Helper()
	var out []model.Comment
	for _, c := range f.comments(t) {
		if c.IsAutoReply {
			out = append(out, c)
		}
	}
	return out
}

func TestExecuteConcurrentJobsPostOneReply(t *testing.T) {
	f := newFixture(t)
	second := f.addComment(t, "Me too")
	w := newRendezvousWriter("Thanks!", 2)
	ex := NewExecutor(f.st, w, "", nil)

	jobs := []Job{f.job(), {Handle: "h2", CommentID: second.ID, PostID: f.post.ID}}
	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			res, err := ex.Execute(context.Background(), job)
			assert.NoError(t, err)
			outcomes[i] = res.Outcome
		}(i, job)
	}
	wg.Wait()

	assert.ElementsMatch(t, []Outcome{OutcomePosted, OutcomeAlreadyReplied}, outcomes)
	assert.Equal(t, 2, w.calls)
	assert.Len(t, f.autoReplies(t), 1)
}

func TestExecuteTargetGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := &fixedWriter{text: "Thanks for reading!"}
	ex := NewExecutor(f.st, w, "", nil)

	require.NoError(t, f.st.DeletePost(ctx, f.post.ID))
	res, err := ex.Execute(ctx, f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTargetGone, res.Outcome)
	assert.Equal(t, 0, w.calls)
}

func TestExecuteCommentDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.DeleteComment(ctx, f.comment.ID))

	res, err := NewExecutor(f.st, &fixedWriter{text: "x"}, "", nil).Execute(ctx, f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTargetGone, res.Outcome)
	assert.Len(t, f.comments(t), 0)
}

func TestExecuteCommentOnOtherPost(t *testing.T) {
	f := newFixture(t)
	other := model.Post{Title: "Other", Content: "Elsewhere", AuthorID: f.authorID, AutoReplyEnabled: true}
	var err error
	other.ID, err = f.st.CreatePost(context.Background(), &other)
	require.NoError(t, err)
	job := f.job()
	job.PostID = other.ID

	res, err := NewExecutor(f.st, &fixedWriter{text: "x"}, "", nil).Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTargetGone, res.Outcome)
}

func TestExecuteDisabledAndBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := &fixedWriter{text: "Thanks for reading!"}
	ex := NewExecutor(f.st, w, "", nil)

	require.NoError(t, f.st.SetCommentBlocked(ctx, f.comment.ID, true))
	res, err := ex.Execute(ctx, f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)

	f.post.AutoReplyEnabled = false
	require.NoError(t, f.st.UpdatePost(ctx, &f.post))
	res, err = ex.Execute(ctx, f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.Equal(t, 0, w.calls)
}

func TestExecuteNoContent(t *testing.T) {
	f := newFixture(t)
	res, err := NewExecutor(f.st, &fixedWriter{}, "", nil).Execute(context.Background(), f.job())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoContent, res.Outcome)
	assert.Len(t, f.comments(t), 1)
}

func TestExecuteTag(t *testing.T) {
	f := newFixture(t)
	res, err := NewExecutor(f.st, &fixedWriter{text: "Thanks!"}, "[auto]", nil).Execute(context.Background(), f.job())
	require.NoError(t, err)
	reply, err := f.st.GetComment(context.Background(), res.ReplyID)
	require.NoError(t, err)
	assert.Equal(t, "[auto] Thanks!", reply.Content)
}

// flakyContent fails the first n GetPost calls.
type flakyContent struct {
	Content
	failures int
	calls    int
}

func (c *flakyContent) GetPost(ctx context.Context, id int64) (model.Post, error) {
	c.calls++
	if c.calls <= c.failures {
		return model.Post{}, errors.New("database is locked")
	}
	return c.Content.GetPost(ctx, id)
}

func TestExecuteStoreErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	ex := NewExecutor(&flakyContent{Content: f.st, failures: 1}, &fixedWriter{text: "x"}, "", nil)
	_, err := ex.Execute(context.Background(), f.job())
	assert.ErrorContains(t, err, "database is locked")
}

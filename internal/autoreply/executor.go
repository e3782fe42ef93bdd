package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeTargetGone     Outcome = "target_gone"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeAlreadyReplied Outcome = "already_replied"
	OutcomeNoContent      Outcome = "no_content"
	OutcomePosted         Outcome = "posted"
)

type Result struct {
	Outcome Outcome
	ReplyID int64
}

// ReplyWriter drafts the text of a reply. An empty string means no reply.
type ReplyWriter interface {
	Generate(ctx context.Context, postTitle, postContent, commentContent string) string
}

// Content is the store surface a job needs.
type Content interface {
	GetPost(ctx context.Context, id int64) (model.Post, error)
	GetComment(ctx context.Context, id int64) (model.Comment, error)
	FindAutoReply(ctx context.Context, postID, authorID int64, after time.Time) (model.Comment, error)
	CreateAutoReply(ctx context.Context, reply *model.Comment, after time.Time) (int64, error)
}

// Executor runs a single job against current state. Every terminal outcome
// is a nil error; a returned error means the job should be retried.
type Executor struct {
	content Content
	writer  ReplyWriter
	tag     string
	log     *zap.Logger
}

// NewExecutor builds an Executor. A non-empty tag is prepended to every
// posted reply, separated by a space.
func NewExecutor(content Content, writer ReplyWriter, tag string, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{content: content, writer: writer, tag: tag, log: log}
}

func (e *Executor) Execute(ctx context.Context, job Job) (Result, error) {
	post, err := e.content.GetPost(ctx, job.PostID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Outcome: OutcomeTargetGone}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load post %d: %w", job.PostID, err)
	}
	comment, err := e.content.GetComment(ctx, job.CommentID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Outcome: OutcomeTargetGone}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load comment %d: %w", job.CommentID, err)
	}
	if comment.PostID != post.ID {
		return Result{Outcome: OutcomeTargetGone}, nil
	}

	if !post.AutoReplyEnabled {
		return Result{Outcome: OutcomeDisabled}, nil
	}
	if comment.IsBlocked {
		return Result{Outcome: OutcomeBlocked}, nil
	}

	// Any auto-reply by the author after the trigger suppresses this one,
	// including one written for a different comment in the same burst. This
	// early check only saves a generation call; CreateAutoReply repeats it
	// atomically for jobs racing on other workers.
	_, err = e.content.FindAutoReply(ctx, post.ID, post.AuthorID, comment.CreatedAt)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeAlreadyReplied}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("check existing reply: %w", err)
	}

	text := e.writer.Generate(ctx, post.Title, post.Content, comment.Content)
	if text == "" {
		return Result{Outcome: OutcomeNoContent}, nil
	}
	if e.tag != "" {
		text = e.tag + " " + text
	}

	reply := &model.Comment{
		PostID:      post.ID,
		AuthorID:    post.AuthorID,
		Content:     text,
		IsAutoReply: true,
		CreatedAt:   time.Now(),
	}
	id, err := e.content.CreateAutoReply(ctx, reply, comment.CreatedAt)
	switch {
	case errors.Is(err, store.ErrAlreadyReplied):
		return Result{Outcome: OutcomeAlreadyReplied}, nil
	case errors.Is(err, store.ErrNotFound):
		return Result{Outcome: OutcomeTargetGone}, nil
	case err != nil:
		return Result{}, fmt.Errorf("store reply: %w", err)
	}
	return Result{Outcome: OutcomePosted, ReplyID: id}, nil
}

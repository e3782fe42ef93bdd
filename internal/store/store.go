package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrAlreadyReplied = errors.New("auto-reply already posted")
)

type PostListOpts struct {
	AuthorID int64
	Limit    int
	Offset   int
}

type CommentListOpts struct {
	IncludeBlocked bool
	Limit          int
	Offset         int
}

type Store interface {
	UserStore
	PostStore
	CommentStore
	ReplyJobStore
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) (int64, error)
	GetUser(ctx context.Context, id int64) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	UpdateUserEmail(ctx context.Context, id int64, email string) error
}

type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) (int64, error)
	GetPost(ctx context.Context, id int64) (model.Post, error)
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, int, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	DeletePost(ctx context.Context, id int64) error
}

type CommentStore interface {
	CreateComment(ctx context.Context, comment *model.Comment) (int64, error)
	GetComment(ctx context.Context, id int64) (model.Comment, error)
	ListCommentsByPost(ctx context.Context, postID int64, opts CommentListOpts) ([]model.Comment, int, error)
	UpdateCommentContent(ctx context.Context, id int64, content string) error
	SetCommentBlocked(ctx context.Context, id int64, blocked bool) error
	DeleteComment(ctx context.Context, id int64) error
	// FindAutoReply returns any auto-reply on postID authored by authorID and
	// created strictly after the given time.
	FindAutoReply(ctx context.Context, postID, authorID int64, after time.Time) (model.Comment, error)
	// CreateAutoReply stores reply as an auto-reply unless FindAutoReply would
	// already match for its post and author, in which case it returns
	// ErrAlreadyReplied. The check and the insert are atomic.
	CreateAutoReply(ctx context.Context, reply *model.Comment, after time.Time) (int64, error)
}

type ReplyJobStore interface {
	CreateReplyJob(ctx context.Context, job model.ReplyJob) error
	UpdateReplyJob(ctx context.Context, handle string, state model.JobState, outcome string, replyID *int64, attempts int) error
	GetReplyJob(ctx context.Context, handle string) (model.ReplyJob, error)
	ListOpenReplyJobs(ctx context.Context, postID, commentID int64) ([]model.ReplyJob, error)
	PurgeReplyJobs(ctx context.Context, before time.Time) (int64, error)
}

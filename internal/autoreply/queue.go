// Package autoreply posts delayed replies to comments on behalf of a post's
// author.
//
// A job is submitted to a Queue when a comment is accepted on a post with
// auto-reply enabled. Once its delay has passed a worker claims it, re-reads
// the post and comment, and only then generates and stores a reply. Cancel
// and claim race safely: for any job exactly one of them wins.
package autoreply

import (
	"context"
	"errors"
	"time"
)

// Handle identifies a submitted job for cancellation.
type Handle string

type Job struct {
	Handle    Handle    `json:"handle"`
	CommentID int64     `json:"comment_id"`
	PostID    int64     `json:"post_id"`
	Delay     int       `json:"delay_seconds"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrQueueClosed = errors.New("queue closed")

// Queue holds jobs until they are due.
type Queue interface {
	// Submit stores job and makes it claimable no earlier than delay from now.
	Submit(ctx context.Context, job Job, delay time.Duration) (Handle, error)
	// Cancel removes a job that has not been claimed. It reports false if
	// the job was already claimed or never existed.
	Cancel(ctx context.Context, h Handle) (bool, error)
	// Next blocks until a due job is claimed or ctx is done.
	Next(ctx context.Context) (Job, error)
}

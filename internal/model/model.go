package model

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Post struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	AuthorID         int64     `json:"author_id"`
	AutoReplyEnabled bool      `json:"auto_reply_enabled"`
	AutoReplyDelay   int       `json:"auto_reply_delay"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MaxAutoReplyDelay bounds Post.AutoReplyDelay, in seconds.
const MaxAutoReplyDelay = 3600

type Comment struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"post_id"`
	AuthorID    int64     `json:"author_id"`
	AuthorEmail string    `json:"author_email,omitempty"`
	Content     string    `json:"content"`
	IsBlocked   bool      `json:"is_blocked"`
	IsAutoReply bool      `json:"is_auto_reply"`
	CreatedAt   time.Time `json:"created_at"`
}

type JobState string

const (
	JobScheduled JobState = "scheduled"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobCancelled JobState = "cancelled"
	JobAbandoned JobState = "abandoned"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobCancelled || s == JobAbandoned
}

// ReplyJob is the ledger row for one scheduled auto-reply.
type ReplyJob struct {
	Handle    string
	CommentID int64
	PostID    int64
	State     JobState
	Outcome   string
	ReplyID   *int64
	Attempts  int
	RunAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

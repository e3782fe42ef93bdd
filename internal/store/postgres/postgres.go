// Package postgres implements store.Store on a pgx connection pool. It is
// selected when DATABASE_URL is a postgres:// URL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := &Store{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(200) NOT NULL,
			content TEXT NOT NULL,
			author_id BIGINT NOT NULL REFERENCES users(id),
			auto_reply_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			auto_reply_delay INTEGER NOT NULL DEFAULT 60,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id BIGSERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			author_id BIGINT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			is_auto_reply BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_auto_reply ON comments(post_id, author_id, created_at) WHERE is_auto_reply`,
		`CREATE TABLE IF NOT EXISTS reply_jobs (
			handle TEXT PRIMARY KEY,
			comment_id BIGINT NOT NULL,
			post_id BIGINT NOT NULL,
			state TEXT NOT NULL,
			outcome TEXT,
			reply_id BIGINT,
			attempts INTEGER NOT NULL DEFAULT 0,
			run_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_jobs_post ON reply_jobs(post_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_jobs_comment ON reply_jobs(comment_id, state)`,
	}

	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *model.User) (int64, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, is_active, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		user.Email, user.PasswordHash, user.IsActive, user.CreatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateEmail
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (model.User, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE users SET email = $1 WHERE id = $2`, email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEmail
		}
		return err
	}
	return expectAffected(tag)
}

// Posts

const postColumns = `id, title, content, author_id, auto_reply_enabled, auto_reply_delay, created_at, updated_at`

func (s *Store) CreatePost(ctx context.Context, post *model.Post) (int64, error) {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO posts (title, content, author_id, auto_reply_enabled, auto_reply_delay, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		post.Title, post.Content, post.AuthorID, post.AutoReplyEnabled, post.AutoReplyDelay, post.CreatedAt, post.UpdatedAt).Scan(&id)
	return id, err
}

func (s *Store) GetPost(ctx context.Context, id int64) (model.Post, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := max(opts.Offset, 0)

	// author_id = 0 means every author
	var total int
	if err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM posts WHERE ($1 = 0 OR author_id = $1)`, opts.AuthorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE ($1 = 0 OR author_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, opts.AuthorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

func (s *Store) UpdatePost(ctx context.Context, post *model.Post) error {
	post.UpdatedAt = time.Now()
	tag, err := s.Pool.Exec(ctx, `
		UPDATE posts SET title = $1, content = $2, auto_reply_enabled = $3, auto_reply_delay = $4, updated_at = $5
		WHERE id = $6`,
		post.Title, post.Content, post.AutoReplyEnabled, post.AutoReplyDelay, post.UpdatedAt, post.ID)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

func (s *Store) DeletePost(ctx context.Context, id int64) error {
	// comments go with the post via ON DELETE CASCADE
	tag, err := s.Pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

// Comments

const commentColumns = `c.id, c.post_id, c.author_id, u.email, c.content, c.is_blocked, c.is_auto_reply, c.created_at`

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) (int64, error) {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO comments (post_id, author_id, content, is_blocked, is_auto_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		comment.PostID, comment.AuthorID, comment.Content, comment.IsBlocked, comment.IsAutoReply, comment.CreatedAt).Scan(&id)
	return id, err
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+commentColumns+`
		FROM comments c LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id = $1`, id)
	return scanComment(row)
}

func (s *Store) ListCommentsByPost(ctx context.Context, postID int64, opts store.CommentListOpts) ([]model.Comment, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := max(opts.Offset, 0)

	var total int
	if err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM comments WHERE post_id = $1 AND ($2 OR NOT is_blocked)`,
		postID, opts.IncludeBlocked).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT `+commentColumns+`
		FROM comments c LEFT JOIN users u ON u.id = c.author_id
		WHERE c.post_id = $1 AND ($2 OR NOT c.is_blocked)
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT $3 OFFSET $4`, postID, opts.IncludeBlocked, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	comments := make([]model.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, 0, err
		}
		comments = append(comments, c)
	}
	return comments, total, rows.Err()
}

func (s *Store) UpdateCommentContent(ctx context.Context, id int64, content string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE comments SET content = $1 WHERE id = $2`, content, id)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

func (s *Store) SetCommentBlocked(ctx context.Context, id int64, blocked bool) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE comments SET is_blocked = $1 WHERE id = $2`, blocked, id)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

func (s *Store) FindAutoReply(ctx context.Context, postID, authorID int64, after time.Time) (model.Comment, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+commentColumns+`
		FROM comments c LEFT JOIN users u ON u.id = c.author_id
		WHERE c.post_id = $1 AND c.author_id = $2 AND c.is_auto_reply AND c.created_at > $3
		LIMIT 1`, postID, authorID, after)
	return scanComment(row)
}

func (s *Store) CreateAutoReply(ctx context.Context, reply *model.Comment, after time.Time) (int64, error) {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}
	reply.IsAutoReply = true
	reply.IsBlocked = false

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// the post row lock serializes auto-replies on one post
	var postID int64
	err = tx.QueryRow(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, reply.PostID).Scan(&postID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO comments (post_id, author_id, content, is_blocked, is_auto_reply, created_at)
		SELECT $1::bigint, $2::bigint, $3::text, FALSE, TRUE, $4::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM comments
			WHERE post_id = $1 AND author_id = $2 AND is_auto_reply AND created_at > $5
		)
		RETURNING id`,
		reply.PostID, reply.AuthorID, reply.Content, reply.CreatedAt, after).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrAlreadyReplied
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// Reply job ledger

func (s *Store) CreateReplyJob(ctx context.Context, job model.ReplyJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO reply_jobs (handle, comment_id, post_id, state, outcome, reply_id, attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		job.Handle, job.CommentID, job.PostID, string(job.State), job.Outcome, job.ReplyID, job.Attempts, job.RunAt, job.CreatedAt, now)
	return err
}

func (s *Store) UpdateReplyJob(ctx context.Context, handle string, state model.JobState, outcome string, replyID *int64, attempts int) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE reply_jobs SET state = $1, outcome = NULLIF($2, ''), reply_id = $3, attempts = $4, updated_at = now()
		WHERE handle = $5`, string(state), outcome, replyID, attempts, handle)
	if err != nil {
		return err
	}
	return expectAffected(tag)
}

const replyJobColumns = `handle, comment_id, post_id, state, outcome, reply_id, attempts, run_at, created_at, updated_at`

func (s *Store) GetReplyJob(ctx context.Context, handle string) (model.ReplyJob, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+replyJobColumns+` FROM reply_jobs WHERE handle = $1`, handle)
	return scanReplyJob(row)
}

func (s *Store) ListOpenReplyJobs(ctx context.Context, postID, commentID int64) ([]model.ReplyJob, error) {
	var rows pgx.Rows
	var err error
	if commentID > 0 {
		rows, err = s.Pool.Query(ctx, `SELECT `+replyJobColumns+` FROM reply_jobs WHERE state = $1 AND comment_id = $2 ORDER BY run_at`,
			string(model.JobScheduled), commentID)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+replyJobColumns+` FROM reply_jobs WHERE state = $1 AND post_id = $2 ORDER BY run_at`,
			string(model.JobScheduled), postID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.ReplyJob
	for rows.Next() {
		j, err := scanReplyJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanReplyJob(row pgx.Row) (model.ReplyJob, error) {
	var j model.ReplyJob
	var state string
	var outcome *string
	err := row.Scan(&j.Handle, &j.CommentID, &j.PostID, &state, &outcome, &j.ReplyID, &j.Attempts, &j.RunAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReplyJob{}, store.ErrNotFound
	}
	if err != nil {
		return model.ReplyJob{}, err
	}
	j.State = model.JobState(state)
	if outcome != nil {
		j.Outcome = *outcome
	}
	return j, nil
}

func (s *Store) PurgeReplyJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM reply_jobs WHERE state IN ($1, $2, $3) AND updated_at < $4`,
		string(model.JobDone), string(model.JobCancelled), string(model.JobAbandoned), before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	return u, nil
}

func scanPost(row pgx.Row) (model.Post, error) {
	var p model.Post
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.AutoReplyEnabled, &p.AutoReplyDelay, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	return p, nil
}

func scanComment(row pgx.Row) (model.Comment, error) {
	var c model.Comment
	var email *string
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &email, &c.Content, &c.IsBlocked, &c.IsAutoReply, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	if email != nil {
		c.AuthorEmail = *email
	}
	return c, nil
}

func expectAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

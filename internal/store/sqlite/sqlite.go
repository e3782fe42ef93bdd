package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite has a single writer, and foreign_keys is a
	// per-connection pragma.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
// Timestamps are stored as unix nanoseconds so that the auto-reply guard can
// order comments created within the same second.
var migrations = []string{
	// Migration 1: users, posts, comments
	`
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	author_id INTEGER NOT NULL,
	auto_reply_enabled INTEGER NOT NULL DEFAULT 0,
	auto_reply_delay INTEGER NOT NULL DEFAULT 60,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL,
	author_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	is_blocked INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(post_id) REFERENCES posts(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id, created_at);
`,
	// Migration 2: auto-reply flag
	`
ALTER TABLE comments ADD COLUMN is_auto_reply INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_comments_auto_reply ON comments(post_id, author_id, is_auto_reply, created_at);
`,
	// Migration 3: reply job ledger
	`
CREATE TABLE IF NOT EXISTS reply_jobs (
	handle TEXT PRIMARY KEY,
	comment_id INTEGER NOT NULL,
	post_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	outcome TEXT,
	reply_id INTEGER,
	attempts INTEGER NOT NULL DEFAULT 0,
	run_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reply_jobs_post ON reply_jobs(post_id, state);
CREATE INDEX IF NOT EXISTS idx_reply_jobs_comment ON reply_jobs(comment_id, state);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *model.User) (int64, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (email, password_hash, is_active, created_at)
VALUES (?, ?, ?, ?)
`, user.Email, user.PasswordHash, boolToInt(user.IsActive), user.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateEmail
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetUser(ctx context.Context, id int64) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, password_hash, is_active, created_at FROM users WHERE id = ?
`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, password_hash, is_active, created_at FROM users WHERE email = ?
`, email)
	return scanUser(row)
}

func (s *Store) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEmail
		}
		return err
	}
	return expectAffected(res)
}

// Posts

func (s *Store) CreatePost(ctx context.Context, post *model.Post) (int64, error) {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO posts (title, content, author_id, auto_reply_enabled, auto_reply_delay, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, post.Title, post.Content, post.AuthorID, boolToInt(post.AutoReplyEnabled), post.AutoReplyDelay, post.CreatedAt.UnixNano(), post.UpdatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetPost(ctx context.Context, id int64) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, content, author_id, auto_reply_enabled, auto_reply_delay, created_at, updated_at
FROM posts WHERE id = ?
`, id)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if opts.AuthorID > 0 {
		where = "WHERE author_id = ?"
		args = append(args, opts.AuthorID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, content, author_id, auto_reply_enabled, auto_reply_delay, created_at, updated_at
FROM posts `+where+`
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`, append(args, limit, offset)...)
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
	res, err := s.db.ExecContext(ctx, `
UPDATE posts SET title = ?, content = ?, auto_reply_enabled = ?, auto_reply_delay = ?, updated_at = ?
WHERE id = ?
`, post.Title, post.Content, boolToInt(post.AutoReplyEnabled), post.AutoReplyDelay, post.UpdatedAt.UnixNano(), post.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeletePost(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Comments

const commentColumns = `c.id, c.post_id, c.author_id, u.email, c.content, c.is_blocked, c.is_auto_reply, c.created_at`

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) (int64, error) {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO comments (post_id, author_id, content, is_blocked, is_auto_reply, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, comment.PostID, comment.AuthorID, comment.Content, boolToInt(comment.IsBlocked), boolToInt(comment.IsAutoReply), comment.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+commentColumns+`
FROM comments c
LEFT JOIN users u ON u.id = c.author_id
WHERE c.id = ?
`, id)
	return scanComment(row)
}

func (s *Store) ListCommentsByPost(ctx context.Context, postID int64, opts store.CommentListOpts) ([]model.Comment, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	filter := "c.post_id = ?"
	if !opts.IncludeBlocked {
		filter += " AND c.is_blocked = 0"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments c WHERE `+filter, postID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+commentColumns+`
FROM comments c
LEFT JOIN users u ON u.id = c.author_id
WHERE `+filter+`
ORDER BY c.created_at ASC, c.id ASC
LIMIT ? OFFSET ?
`, postID, limit, offset)
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
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) SetCommentBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET is_blocked = ? WHERE id = ?`, boolToInt(blocked), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) FindAutoReply(ctx context.Context, postID, authorID int64, after time.Time) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+commentColumns+`
FROM comments c
LEFT JOIN users u ON u.id = c.author_id
WHERE c.post_id = ? AND c.author_id = ? AND c.is_auto_reply = 1 AND c.created_at > ?
LIMIT 1
`, postID, authorID, after.UnixNano())
	return scanComment(row)
}

func (s *Store) CreateAutoReply(ctx context.Context, reply *model.Comment, after time.Time) (int64, error) {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}
	reply.IsAutoReply = true
	reply.IsBlocked = false

	// A single statement, so the existence check and the insert share one
	// sqlite write transaction.
	res, err := s.db.ExecContext(ctx, `
INSERT INTO comments (post_id, author_id, content, is_blocked, is_auto_reply, created_at)
SELECT ?, ?, ?, 0, 1, ?
WHERE NOT EXISTS (
	SELECT 1 FROM comments
	WHERE post_id = ? AND author_id = ? AND is_auto_reply = 1 AND created_at > ?
)
`, reply.PostID, reply.AuthorID, reply.Content, reply.CreatedAt.UnixNano(),
		reply.PostID, reply.AuthorID, after.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrAlreadyReplied
	}
	return res.LastInsertId()
}

// Reply job ledger

func (s *Store) CreateReplyJob(ctx context.Context, job model.ReplyJob) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reply_jobs (handle, comment_id, post_id, state, outcome, reply_id, attempts, run_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, job.Handle, job.CommentID, job.PostID, string(job.State), nullIfEmpty(job.Outcome), nullableInt(job.ReplyID), job.Attempts, job.RunAt.UnixNano(), job.CreatedAt.UnixNano(), now.UnixNano())
	return err
}

func (s *Store) UpdateReplyJob(ctx context.Context, handle string, state model.JobState, outcome string, replyID *int64, attempts int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE reply_jobs SET state = ?, outcome = ?, reply_id = ?, attempts = ?, updated_at = ?
WHERE handle = ?
`, string(state), nullIfEmpty(outcome), nullableInt(replyID), attempts, time.Now().UnixNano(), handle)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) GetReplyJob(ctx context.Context, handle string) (model.ReplyJob, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT handle, comment_id, post_id, state, outcome, reply_id, attempts, run_at, created_at, updated_at
FROM reply_jobs WHERE handle = ?
`, handle)
	return scanReplyJob(row)
}

func (s *Store) ListOpenReplyJobs(ctx context.Context, postID, commentID int64) ([]model.ReplyJob, error) {
	query := `
SELECT handle, comment_id, post_id, state, outcome, reply_id, attempts, run_at, created_at, updated_at
FROM reply_jobs WHERE state = ? AND `
	var arg int64
	if commentID > 0 {
		query += "comment_id = ?"
		arg = commentID
	} else {
		query += "post_id = ?"
		arg = postID
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY run_at ASC", string(model.JobScheduled), arg)
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

func (s *Store) PurgeReplyJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM reply_jobs WHERE state IN (?, ?, ?) AND updated_at < ?
`, string(model.JobDone), string(model.JobCancelled), string(model.JobAbandoned), before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface{ Scan(dest ...any) error }

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var active int
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	u.IsActive = active == 1
	u.CreatedAt = time.Unix(0, created)
	return u, nil
}

func scanPost(row scanner) (model.Post, error) {
	var p model.Post
	var enabled int
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &enabled, &p.AutoReplyDelay, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	p.AutoReplyEnabled = enabled == 1
	p.CreatedAt = time.Unix(0, created)
	p.UpdatedAt = time.Unix(0, updated)
	return p, nil
}

func scanComment(row scanner) (model.Comment, error) {
	var c model.Comment
	var email sql.NullString
	var blocked, auto int
	var created int64
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &email, &c.Content, &blocked, &auto, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	if email.Valid {
		c.AuthorEmail = email.String
	}
	c.IsBlocked = blocked == 1
	c.IsAutoReply = auto == 1
	c.CreatedAt = time.Unix(0, created)
	return c, nil
}

func scanReplyJob(row scanner) (model.ReplyJob, error) {
	var j model.ReplyJob
	var state string
	var outcome sql.NullString
	var replyID sql.NullInt64
	var runAt, created, updated int64
	if err := row.Scan(&j.Handle, &j.CommentID, &j.PostID, &state, &outcome, &replyID, &j.Attempts, &runAt, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ReplyJob{}, store.ErrNotFound
		}
		return model.ReplyJob{}, err
	}
	j.State = model.JobState(state)
	if outcome.Valid {
		j.Outcome = outcome.String
	}
	if replyID.Valid {
		id := replyID.Int64
		j.ReplyID = &id
	}
	j.RunAt = time.Unix(0, runAt)
	j.CreatedAt = time.Unix(0, created)
	j.UpdatedAt = time.Unix(0, updated)
	return j, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphabot-ai/scribe/internal/auth"
	"github.com/alphabot-ai/scribe/internal/autoreply"
	"github.com/alphabot-ai/scribe/internal/config"
	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/moderation"
	"github.com/alphabot-ai/scribe/internal/rate"
	"github.com/alphabot-ai/scribe/internal/store"

	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

const (
	maxTitleLen   = 200
	maxPostLen    = 10000
	maxCommentLen = 2000
)

// Gate screens new and edited content.
type Gate interface {
	Check(ctx context.Context, content string, kind moderation.Kind) moderation.Verdict
	CheckPost(ctx context.Context, title, content string) moderation.Verdict
}

// ReplyScheduler arranges and cancels delayed auto-replies.
type ReplyScheduler interface {
	Schedule(ctx context.Context, commentID, postID int64, delaySeconds int) (autoreply.Handle, bool)
	CancelForComment(ctx context.Context, commentID int64) int
	CancelForPost(ctx context.Context, postID int64) int
}

type Server struct {
	store     store.Store
	auth      *auth.Service
	gate      Gate
	scheduler ReplyScheduler
	limiter   rate.Limiter
	cfg       config.Config
	log       *zap.Logger
}

// NewServer wires the API. A nil scheduler disables auto-replies.
func NewServer(store store.Store, authSvc *auth.Service, gate Gate, scheduler ReplyScheduler, limiter rate.Limiter, cfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:     store,
		auth:      authSvc,
		gate:      gate,
		scheduler: scheduler,
		limiter:   limiter,
		cfg:       cfg,
		log:       log,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		route := routeLabel(r.URL.Path)
		httpRequestCount.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}()

	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(rec, r)
		return
	}
	notFound(rec)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 1 && segments[0] == "health":
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
	case len(segments) == 1 && segments[0] == "version":
		if r.Method == http.MethodGet {
			s.handleVersion(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "register":
		if r.Method == http.MethodPost {
			s.handleRegister(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "login":
		if r.Method == http.MethodPost {
			s.handleLogin(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "refresh":
		if r.Method == http.MethodPost {
			s.handleRefresh(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "me":
		if r.Method == http.MethodGet {
			s.handleGetMe(w, r)
			return
		}
		if r.Method == http.MethodPut {
			s.handleUpdateMe(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleListPosts(w, r)
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreatePost(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
		if r.Method == http.MethodPut {
			s.handleUpdatePost(w, r, segments[1])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeletePost(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "comments":
		if r.Method == http.MethodGet {
			s.handleListComments(w, r, segments[1])
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreateComment(w, r, segments[1])
			return
		}
	case len(segments) == 4 && segments[0] == "posts" && segments[2] == "comments":
		if r.Method == http.MethodPut {
			s.handleUpdateComment(w, r, segments[1], segments[3])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeleteComment(w, r, segments[1], segments[3])
			return
		}
	case len(segments) == 4 && segments[0] == "admin" && segments[1] == "comments" && (segments[3] == "block" || segments[3] == "unblock"):
		if r.Method == http.MethodPost {
			s.handleAdminBlock(w, r, segments[2], segments[3] == "block")
			return
		}
	default:
		notFound(w)
		return
	}
	methodNotAllowed(w)
}

// handleVersion godoc
//
//	@Summary	Build information
//	@Tags		Meta
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/api/version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     versioninfo.Version,
		"revision":    versioninfo.Revision,
		"last_commit": versioninfo.LastCommit,
		"dirty":       versioninfo.DirtyBuild,
	})
}

// handleRegister godoc
//
//	@Summary		Register
//	@Description	Create a user account with email and password
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			user	body		object{email=string,password=string}	true	"Credentials"
//	@Success		201		{object}	model.User
//	@Failure		400		{object}	map[string]string	"Invalid input or email taken"
//	@Failure		429		{object}	map[string]string	"Rate limited"
//	@Router			/api/auth/register [post]
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail), errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err)
		default:
			s.internalError(w, "register", err)
		}
		return
	}
	s.log.Info("user registered", zap.Int64("user_id", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

// handleLogin godoc
//
//	@Summary	Log in
//	@Tags		Auth
//	@Accept		json
//	@Produce	json
//	@Param		credentials	body		object{email=string,password=string}	true	"Credentials"
//	@Success	200			{object}	map[string]interface{}	"Token pair and user"
//	@Failure	401			{object}	map[string]string		"Invalid credentials"
//	@Router		/api/auth/login [post]
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pair, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, auth.ErrInactiveUser):
			writeError(w, http.StatusBadRequest, err)
		default:
			s.internalError(w, "login", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"user":          user,
	})
}

// handleRefresh godoc
//
//	@Summary	Refresh tokens
//	@Tags		Auth
//	@Accept		json
//	@Produce	json
//	@Param		token	body		object{refresh_token=string}	true	"Refresh token"
//	@Success	200		{object}	auth.TokenPair
//	@Failure	401		{object}	map[string]string	"Invalid token"
//	@Router		/api/auth/refresh [post]
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrInactiveUser) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		s.internalError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	user, err := s.store.GetUser(r.Context(), verified.UserID)
	if err != nil {
		s.storeError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateMe godoc
//
//	@Summary	Change email
//	@Tags		Users
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		user	body		object{email=string}	true	"New email"
//	@Success	200		{object}	model.User
//	@Failure	400		{object}	map[string]string	"Email already registered"
//	@Router		/api/users/me [put]
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	email := auth.NormalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, auth.ErrInvalidEmail)
		return
	}
	if err := s.store.UpdateUserEmail(r.Context(), verified.UserID, email); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.storeError(w, "update user", err)
		return
	}
	user, err := s.store.GetUser(r.Context(), verified.UserID)
	if err != nil {
		s.storeError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleListPosts godoc
//
//	@Summary	List posts
//	@Tags		Posts
//	@Produce	json
//	@Param		page		query		int	false	"Page number"		default(1)
//	@Param		page_size	query		int	false	"Posts per page"	default(10)	maximum(100)
//	@Param		author_id	query		int	false	"Only posts by this author"
//	@Success	200			{object}	map[string]interface{}	"Posts page"
//	@Router		/api/posts [get]
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := parsePage(w, r, 10)
	if !ok {
		return
	}
	authorID := parseInt64Default(r.URL.Query().Get("author_id"), 0)
	posts, total, err := s.store.ListPosts(r.Context(), store.PostListOpts{
		AuthorID: authorID,
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	})
	if err != nil {
		s.internalError(w, "list posts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":     posts,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     pageCount(total, pageSize),
	})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := parseID(w, idStr, "post")
	if !ok {
		return
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.storeError(w, "get post", err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// handleCreatePost godoc
//
//	@Summary		Create a post
//	@Description	Create a post. The title and content are moderated before the post is stored.
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			post	body		object{title=string,content=string,auto_reply_enabled=bool,auto_reply_delay=int}	true	"Post data"
//	@Success		201		{object}	model.Post
//	@Failure		400		{object}	map[string]interface{}	"Validation error or content blocked"
//	@Failure		401		{object}	map[string]string		"Authentication required"
//	@Failure		429		{object}	map[string]string		"Rate limited"
//	@Router			/api/posts [post]
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "post", s.cfg.RateLimits.PostPerMinute) {
		return
	}
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Title            string `json:"title"`
		Content          string `json:"content"`
		AutoReplyEnabled *bool  `json:"auto_reply_enabled"`
		AutoReplyDelay   *int   `json:"auto_reply_delay"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	post := model.Post{
		Title:          strings.TrimSpace(req.Title),
		Content:        strings.TrimSpace(req.Content),
		AuthorID:       verified.UserID,
		AutoReplyDelay: s.cfg.AutoReply.DefaultDelay,
	}
	if req.AutoReplyEnabled != nil {
		post.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.AutoReplyDelay != nil {
		post.AutoReplyDelay = *req.AutoReplyDelay
	}
	if err := validatePost(post); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if v := s.gate.CheckPost(r.Context(), post.Title, post.Content); !v.IsAppropriate {
		s.writeBlocked(w, "post", v)
		return
	}

	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	id, err := s.store.CreatePost(r.Context(), &post)
	if err != nil {
		s.internalError(w, "create post", err)
		return
	}
	post.ID = id
	s.log.Info("post created", zap.Int64("post_id", id), zap.Int64("user_id", verified.UserID))
	writeJSON(w, http.StatusCreated, post)
}

// handleUpdatePost godoc
//
//	@Summary		Update a post
//	@Description	Update your own post. Changed text is moderated again.
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		int	true	"Post ID"
//	@Param			post	body		object{title=string,content=string,auto_reply_enabled=bool,auto_reply_delay=int}	true	"Fields to change"
//	@Success		200		{object}	model.Post
//	@Failure		403		{object}	map[string]string	"Not your post"
//	@Failure		404		{object}	map[string]string	"Post not found"
//	@Router			/api/posts/{id} [put]
func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request, idStr string) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, idStr, "post")
	if !ok {
		return
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.storeError(w, "get post", err)
		return
	}
	if post.AuthorID != verified.UserID {
		writeError(w, http.StatusForbidden, errors.New("you can only edit your own posts"))
		return
	}

	var req struct {
		Title            *string `json:"title"`
		Content          *string `json:"content"`
		AutoReplyEnabled *bool   `json:"auto_reply_enabled"`
		AutoReplyDelay   *int    `json:"auto_reply_delay"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	textChanged := false
	if req.Title != nil && strings.TrimSpace(*req.Title) != post.Title {
		post.Title = strings.TrimSpace(*req.Title)
		textChanged = true
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) != post.Content {
		post.Content = strings.TrimSpace(*req.Content)
		textChanged = true
	}
	if req.AutoReplyEnabled != nil {
		post.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.AutoReplyDelay != nil {
		post.AutoReplyDelay = *req.AutoReplyDelay
	}
	if err := validatePost(post); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if textChanged {
		if v := s.gate.CheckPost(r.Context(), post.Title, post.Content); !v.IsAppropriate {
			s.writeBlocked(w, "post", v)
			return
		}
	}

	post.UpdatedAt = time.Now()
	if err := s.store.UpdatePost(r.Context(), &post); err != nil {
		s.storeError(w, "update post", err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// handleDeletePost godoc
//
//	@Summary		Delete a post
//	@Description	Delete your own post with its comments. Pending auto-replies are cancelled.
//	@Tags			Posts
//	@Security		BearerAuth
//	@Param			id	path	int	true	"Post ID"
//	@Success		204
//	@Failure		403	{object}	map[string]string	"Not your post"
//	@Failure		404	{object}	map[string]string	"Post not found"
//	@Router			/api/posts/{id} [delete]
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, idStr string) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, idStr, "post")
	if !ok {
		return
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.storeError(w, "get post", err)
		return
	}
	if post.AuthorID != verified.UserID {
		writeError(w, http.StatusForbidden, errors.New("you can only delete your own posts"))
		return
	}

	if s.scheduler != nil {
		if n := s.scheduler.CancelForPost(r.Context(), id); n > 0 {
			s.log.Info("cancelled auto-replies for deleted post", zap.Int64("post_id", id), zap.Int("count", n))
		}
	}
	if err := s.store.DeletePost(r.Context(), id); err != nil {
		s.storeError(w, "delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListComments godoc
//
//	@Summary	List comments on a post
//	@Tags		Comments
//	@Produce	json
//	@Param		id				path		int		true	"Post ID"
//	@Param		page			query		int		false	"Page number"			default(1)
//	@Param		page_size		query		int		false	"Comments per page"		default(50)	maximum(100)
//	@Param		include_blocked	query		bool	false	"Include blocked comments"
//	@Success	200				{object}	map[string]interface{}	"Comments page"
//	@Failure	404				{object}	map[string]string		"Post not found"
//	@Router		/api/posts/{id}/comments [get]
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request, idStr string) {
	postID, ok := parseID(w, idStr, "post")
	if !ok {
		return
	}
	page, pageSize, ok := parsePage(w, r, 50)
	if !ok {
		return
	}
	if _, err := s.store.GetPost(r.Context(), postID); err != nil {
		s.storeError(w, "get post", err)
		return
	}
	includeBlocked, _ := strconv.ParseBool(r.URL.Query().Get("include_blocked"))
	comments, total, err := s.store.ListCommentsByPost(r.Context(), postID, store.CommentListOpts{
		IncludeBlocked: includeBlocked,
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	})
	if err != nil {
		s.internalError(w, "list comments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comments":  comments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     pageCount(total, pageSize),
	})
}

type commentResponse struct {
	model.Comment
	AutoReplyJob string `json:"auto_reply_job,omitempty"`
}

// handleCreateComment godoc
//
//	@Summary		Comment on a post
//	@Description	Add a comment. It is moderated first; if the post has auto-reply enabled a reply is scheduled.
//	@Tags			Comments
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		int					true	"Post ID"
//	@Param			comment	body		object{content=string}	true	"Comment data"
//	@Success		201		{object}	commentResponse
//	@Failure		400		{object}	map[string]interface{}	"Validation error or content blocked"
//	@Failure		401		{object}	map[string]string		"Authentication required"
//	@Failure		404		{object}	map[string]string		"Post not found"
//	@Failure		429		{object}	map[string]string		"Rate limited"
//	@Router			/api/posts/{id}/comments [post]
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, idStr string) {
	if !s.allowRateLimit(w, r, "comment", s.cfg.RateLimits.CommentPerMinute) {
		return
	}
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	postID, ok := parseID(w, idStr, "post")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if err := validateComment(content); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		s.storeError(w, "get post", err)
		return
	}

	if v := s.gate.Check(r.Context(), content, moderation.KindComment); !v.IsAppropriate {
		s.writeBlocked(w, "comment", v)
		return
	}

	comment := model.Comment{
		PostID:      postID,
		AuthorID:    verified.UserID,
		AuthorEmail: verified.Email,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	id, err := s.store.CreateComment(r.Context(), &comment)
	if err != nil {
		s.internalError(w, "create comment", err)
		return
	}
	comment.ID = id

	resp := commentResponse{Comment: comment}
	// Authors commenting on their own post never trigger an auto-reply.
	if s.scheduler != nil && post.AutoReplyEnabled && post.AuthorID != verified.UserID {
		if h, ok := s.scheduler.Schedule(r.Context(), id, postID, post.AutoReplyDelay); ok {
			resp.AutoReplyJob = string(h)
		}
	}
	s.log.Info("comment created", zap.Int64("comment_id", id), zap.Int64("post_id", postID), zap.Int64("user_id", verified.UserID))
	writeJSON(w, http.StatusCreated, resp)
}

// handleUpdateComment godoc
//
//	@Summary	Edit a comment
//	@Tags		Comments
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		int						true	"Post ID"
//	@Param		cid		path		int						true	"Comment ID"
//	@Param		comment	body		object{content=string}	true	"New content"
//	@Success	200		{object}	model.Comment
//	@Failure	403		{object}	map[string]string	"Not your comment"
//	@Failure	404		{object}	map[string]string	"Comment not found"
//	@Router		/api/posts/{id}/comments/{cid} [put]
func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, postIDStr, idStr string) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	comment, ok := s.loadComment(w, r, postIDStr, idStr)
	if !ok {
		return
	}
	if comment.AuthorID != verified.UserID {
		writeError(w, http.StatusForbidden, errors.New("you can only edit your own comments"))
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if err := validateComment(content); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if content != comment.Content {
		if v := s.gate.Check(r.Context(), content, moderation.KindComment); !v.IsAppropriate {
			s.writeBlocked(w, "comment", v)
			return
		}
		if err := s.store.UpdateCommentContent(r.Context(), comment.ID, content); err != nil {
			s.storeError(w, "update comment", err)
			return
		}
		comment.Content = content
	}
	writeJSON(w, http.StatusOK, comment)
}

// handleDeleteComment godoc
//
//	@Summary	Delete a comment
//	@Tags		Comments
//	@Security	BearerAuth
//	@Param		id	path	int	true	"Post ID"
//	@Param		cid	path	int	true	"Comment ID"
//	@Success	204
//	@Failure	403	{object}	map[string]string	"Not your comment"
//	@Failure	404	{object}	map[string]string	"Comment not found"
//	@Router		/api/posts/{id}/comments/{cid} [delete]
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, postIDStr, idStr string) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	comment, ok := s.loadComment(w, r, postIDStr, idStr)
	if !ok {
		return
	}
	if comment.AuthorID != verified.UserID {
		writeError(w, http.StatusForbidden, errors.New("you can only delete your own comments"))
		return
	}
	if s.scheduler != nil {
		s.scheduler.CancelForComment(r.Context(), comment.ID)
	}
	if err := s.store.DeleteComment(r.Context(), comment.ID); err != nil {
		s.storeError(w, "delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminBlock godoc
//
//	@Summary		Block or unblock a comment (admin)
//	@Description	Requires X-Admin-Secret header. Blocked comments are hidden from listings and never auto-replied to.
//	@Tags			Admin
//	@Produce		json
//	@Param			X-Admin-Secret	header		string	true	"Admin secret"
//	@Param			cid				path		int		true	"Comment ID"
//	@Success		200				{object}	model.Comment
//	@Failure		400				{object}	map[string]string	"Already in that state"
//	@Failure		401				{object}	map[string]string	"Invalid admin secret"
//	@Router			/api/admin/comments/{cid}/block [post]
//	@Router			/api/admin/comments/{cid}/unblock [post]
func (s *Server) handleAdminBlock(w http.ResponseWriter, r *http.Request, idStr string, block bool) {
	if s.cfg.AdminSecret == "" || r.Header.Get("X-Admin-Secret") != s.cfg.AdminSecret {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	id, ok := parseID(w, idStr, "comment")
	if !ok {
		return
	}
	comment, err := s.store.GetComment(r.Context(), id)
	if err != nil {
		s.storeError(w, "get comment", err)
		return
	}
	if comment.IsBlocked == block {
		if block {
			writeError(w, http.StatusBadRequest, errors.New("comment is already blocked"))
		} else {
			writeError(w, http.StatusBadRequest, errors.New("comment is not blocked"))
		}
		return
	}
	if err := s.store.SetCommentBlocked(r.Context(), id, block); err != nil {
		s.storeError(w, "block comment", err)
		return
	}
	comment.IsBlocked = block
	s.log.Info("comment moderation changed", zap.Int64("comment_id", id), zap.Bool("blocked", block))
	writeJSON(w, http.StatusOK, comment)
}

func (s *Server) loadComment(w http.ResponseWriter, r *http.Request, postIDStr, idStr string) (model.Comment, bool) {
	postID, ok := parseID(w, postIDStr, "post")
	if !ok {
		return model.Comment{}, false
	}
	id, ok := parseID(w, idStr, "comment")
	if !ok {
		return model.Comment{}, false
	}
	comment, err := s.store.GetComment(r.Context(), id)
	if err != nil {
		s.storeError(w, "get comment", err)
		return model.Comment{}, false
	}
	if comment.PostID != postID {
		notFound(w)
		return model.Comment{}, false
	}
	return comment, true
}

// writeBlocked reports a moderation block with the verdict's diagnostics.
func (s *Server) writeBlocked(w http.ResponseWriter, kind string, v moderation.Verdict) {
	moderationBlocks.WithLabelValues(kind).Inc()
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":    "content_blocked",
		"message":  fmt.Sprintf("%s blocked by content moderation", kind),
		"issues":   v.Issues,
		"severity": v.Severity,
	})
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	ipKey := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(ipKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Verified, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return auth.Verified{}, false
	}
	bearer := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	verified, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return auth.Verified{}, false
	}
	return verified, true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		notFound(w)
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func validatePost(p model.Post) error {
	if p.Title == "" || utf8.RuneCountInString(p.Title) > maxTitleLen {
		return fmt.Errorf("title must be 1-%d characters", maxTitleLen)
	}
	if p.Content == "" || utf8.RuneCountInString(p.Content) > maxPostLen {
		return fmt.Errorf("content must be 1-%d characters", maxPostLen)
	}
	if p.AutoReplyDelay < 0 || p.AutoReplyDelay > model.MaxAutoReplyDelay {
		return fmt.Errorf("auto_reply_delay must be 0-%d seconds", model.MaxAutoReplyDelay)
	}
	return nil
}

func validateComment(content string) error {
	if content == "" || utf8.RuneCountInString(content) > maxCommentLen {
		return fmt.Errorf("content must be 1-%d characters", maxCommentLen)
	}
	return nil
}

func parseID(w http.ResponseWriter, value, what string) (int64, bool) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s id", what))
		return 0, false
	}
	return id, true
}

func parsePage(w http.ResponseWriter, r *http.Request, defSize int) (int, int, bool) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	pageSize := parseIntDefault(r.URL.Query().Get("page_size"), defSize)
	if page < 1 {
		writeError(w, http.StatusBadRequest, errors.New("page must be >= 1"))
		return 0, 0, false
	}
	if pageSize < 1 || pageSize > 100 {
		writeError(w, http.StatusBadRequest, errors.New("page_size must be 1-100"))
		return 0, 0, false
	}
	return page, pageSize, true
}

func pageCount(total, pageSize int) int {
	return (total + pageSize - 1) / pageSize
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func parseInt64Default(value string, def int64) int64 {
	if value == "" {
		return def
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return def
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

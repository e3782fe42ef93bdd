// Package client provides a Go client for the Scribe API.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
)

// Client is a Scribe API client.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	Token        string
	RefreshToken string
	TokenExp     time.Time
}

// New creates a new Scribe client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var (
	ErrAlreadyRegistered = errors.New("already registered")
)

// BlockedError is returned when content moderation rejects a post or comment.
type BlockedError struct {
	Message  string   `json:"message"`
	Issues   []string `json:"issues"`
	Severity string   `json:"severity"`
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s (severity=%s issues=%v)", e.Message, e.Severity, e.Issues)
}

// APIError is any other non-success response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, e.Body)
}

// Register creates an account.
func (c *Client) Register(email, password string) (*model.User, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/auth/register", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error == "email already registered" {
			return nil, ErrAlreadyRegistered
		}
		return nil, &APIError{Op: "register", Status: resp.StatusCode, Body: string(body)}
	}
	var user model.User
	if err := decode(resp, http.StatusCreated, "register", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for tokens and keeps them on the client.
func (c *Client) Login(email, password string) (*model.User, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result struct {
		AccessToken  string     `json:"access_token"`
		RefreshToken string     `json:"refresh_token"`
		ExpiresIn    int        `json:"expires_in"`
		User         model.User `json:"user"`
	}
	if err := decode(resp, http.StatusOK, "login", &result); err != nil {
		return nil, err
	}
	c.setTokens(result.AccessToken, result.RefreshToken, result.ExpiresIn)
	return &result.User, nil
}

// Refresh renews the access token using the stored refresh token.
func (c *Client) Refresh() error {
	resp, err := c.doRequest(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": c.RefreshToken})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := decode(resp, http.StatusOK, "refresh", &result); err != nil {
		return err
	}
	c.setTokens(result.AccessToken, result.RefreshToken, result.ExpiresIn)
	return nil
}

// RegisterAndLogin registers if needed, then logs in.
func (c *Client) RegisterAndLogin(email, password string) error {
	if _, err := c.Register(email, password); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
		return fmt.Errorf("register: %w", err)
	}
	_, err := c.Login(email, password)
	return err
}

// IsAuthenticated returns true if the client has a valid token.
func (c *Client) IsAuthenticated() bool {
	return c.Token != "" && time.Now().Before(c.TokenExp)
}

func (c *Client) setTokens(access, refresh string, expiresIn int) {
	c.Token = access
	c.RefreshToken = refresh
	c.TokenExp = time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// Me returns the logged-in user.
func (c *Client) Me() (*model.User, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/users/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var user model.User
	if err := decode(resp, http.StatusOK, "get profile", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// NewPost holds the fields for creating a post. A nil AutoReplyDelay uses
// the server default.
type NewPost struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	AutoReplyDelay   *int   `json:"auto_reply_delay,omitempty"`
}

// CreatePost creates a post.
func (c *Client) CreatePost(p NewPost) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/posts", p)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var post model.Post
	if err := decode(resp, http.StatusCreated, "create post", &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPost fetches a single post.
func (c *Client) GetPost(id int64) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodGet, fmt.Sprintf("/api/posts/%d", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var post model.Post
	if err := decode(resp, http.StatusOK, "get post", &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// PostPage is one page of a post listing.
type PostPage struct {
	Posts    []model.Post `json:"posts"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Pages    int          `json:"pages"`
}

// ListPosts fetches a page of posts. authorID 0 lists everyone's.
func (c *Client) ListPosts(page, pageSize int, authorID int64) (*PostPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if authorID > 0 {
		q.Set("author_id", strconv.FormatInt(authorID, 10))
	}
	resp, err := c.doRequest(http.MethodGet, "/api/posts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result PostPage
	if err := decode(resp, http.StatusOK, "list posts", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePost deletes a post you own.
func (c *Client) DeletePost(id int64) error {
	resp, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/api/posts/%d", id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, http.StatusNoContent, "delete post", nil)
}

// CreatedComment is a new comment plus the auto-reply job it scheduled, if any.
type CreatedComment struct {
	model.Comment
	AutoReplyJob string `json:"auto_reply_job"`
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(postID int64, content string) (*CreatedComment, error) {
	resp, err := c.doRequest(http.MethodPost, fmt.Sprintf("/api/posts/%d/comments", postID), map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var comment CreatedComment
	if err := decode(resp, http.StatusCreated, "create comment", &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListComments fetches the first page of comments on a post.
func (c *Client) ListComments(postID int64, includeBlocked bool) ([]model.Comment, error) {
	path := fmt.Sprintf("/api/posts/%d/comments?page_size=100&include_blocked=%t", postID, includeBlocked)
	resp, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result struct {
		Comments []model.Comment `json:"comments"`
	}
	if err := decode(resp, http.StatusOK, "list comments", &result); err != nil {
		return nil, err
	}
	return result.Comments, nil
}

// DeleteComment deletes a comment you wrote.
func (c *Client) DeleteComment(postID, commentID int64) error {
	resp, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/api/posts/%d/comments/%d", postID, commentID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, http.StatusNoContent, "delete comment", nil)
}

// doRequest performs an authenticated HTTP request.
func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

// decode checks the status and unmarshals the body into out, which may be nil.
func decode(resp *http.Response, want int, op string, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		var blocked struct {
			Error string `json:"error"`
			BlockedError
		}
		if resp.StatusCode == http.StatusBadRequest && json.Unmarshal(body, &blocked) == nil && blocked.Error == "content_blocked" {
			return &blocked.BlockedError
		}
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// TestHelper provides utilities for creating authenticated clients in tests.
type TestHelper struct {
	BaseURL string
}

// NewTestHelper creates a new test helper for the given base URL.
func NewTestHelper(baseURL string) *TestHelper {
	return &TestHelper{BaseURL: baseURL}
}

const testPassword = "correct-horse-battery"

// CreateAuthenticatedClient registers the given email and returns a
// logged-in client.
func (h *TestHelper) CreateAuthenticatedClient(email string) (*Client, error) {
	c := New(h.BaseURL)
	if err := c.RegisterAndLogin(email, testPassword); err != nil {
		return nil, err
	}
	return c, nil
}

// GetToken creates an account (if needed) and returns an access token.
func (h *TestHelper) GetToken(email string) (string, error) {
	c, err := h.CreateAuthenticatedClient(email)
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

package httpapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/scribe/internal/auth"
	"github.com/alphabot-ai/scribe/internal/config"
	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/moderation"
	"github.com/alphabot-ai/scribe/internal/store/sqlite"
)

type allowAllLimiter struct{}

func (a allowAllLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	return true, 0
}

// countingGate allows everything and counts how often it was asked.
type countingGate struct {
	calls int
}

func (g *countingGate) Check(ctx context.Context, content string, kind moderation.Kind) moderation.Verdict {
	g.calls++
	return moderation.Unconfigured()
}

func (g *countingGate) CheckPost(ctx context.Context, title, content string) moderation.Verdict {
	g.calls++
	return moderation.Unconfigured()
}

func newUnitServer(t *testing.T, gate Gate) (*Server, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open("file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := config.Config{SecretKey: "unit", AccessTTL: time.Hour, RefreshTTL: time.Hour, AutoReply: config.AutoReply{DefaultDelay: 60}}
	authSvc := auth.NewService(st, cfg.SecretKey, cfg.AccessTTL, cfg.RefreshTTL)
	return NewServer(st, authSvc, gate, nil, allowAllLimiter{}, cfg, nil), st
}

func TestHealthAndVersion(t *testing.T) {
	server, _ := newUnitServer(t, &countingGate{})

	for _, path := range []string{"/api/health", "/api/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s: json parse: %v", path, err)
		}
	}
}

func TestRoutingErrors(t *testing.T) {
	server, _ := newUnitServer(t, &countingGate{})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusNotFound},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/health", http.StatusMethodNotAllowed},
		{http.MethodPatch, "/api/posts", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/posts/abc", http.StatusBadRequest},
		{http.MethodGet, "/api/posts/42", http.StatusNotFound},
		{http.MethodGet, "/api/users/me", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.Code)
		}
	}
}

func TestUpdateWithoutTextChangeSkipsModeration(t *testing.T) {
	gate := &countingGate{}
	server, st := newUnitServer(t, gate)

	authSvc := auth.NewService(st, "unit", time.Hour, time.Hour)
	user, err := authSvc.Register(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := authSvc.Login(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	post := model.Post{Title: "Same", Content: "Same body", AuthorID: user.ID, AutoReplyDelay: 60}
	postID, err := st.CreatePost(context.Background(), &post)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	body := `{"title":"Same","auto_reply_enabled":true}`
	req := httptest.NewRequest(http.MethodPut, "/api/posts/"+strconv.FormatInt(postID, 10), strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if gate.calls != 0 {
		t.Fatalf("unchanged text should not be moderated, got %d calls", gate.calls)
	}
	var updated model.Post
	if err := json.Unmarshal(resp.Body.Bytes(), &updated); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if !updated.AutoReplyEnabled {
		t.Fatalf("expected auto-reply enabled: %+v", updated)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/posts":                  "/api/posts",
		"/api/posts/12":               "/api/posts/:id",
		"/api/posts/12/comments/7":    "/api/posts/:id/comments/:id",
		"/api/admin/comments/3/block": "/api/admin/comments/:id/block",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePost(t *testing.T) {
	ok := model.Post{Title: "t", Content: "c", AutoReplyDelay: 0}
	if err := validatePost(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []model.Post{
		{Title: "", Content: "c"},
		{Title: strings.Repeat("é", maxTitleLen+1), Content: "c"},
		{Title: "t", Content: ""},
		{Title: "t", Content: "c", AutoReplyDelay: -1},
		{Title: "t", Content: "c", AutoReplyDelay: model.MaxAutoReplyDelay + 1},
	}
	for i, p := range bad {
		if err := validatePost(p); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	// limits count characters, not bytes
	if err := validateComment(strings.Repeat("é", maxCommentLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

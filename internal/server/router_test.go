package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alxvallejo/read-api/internal/auth"
	"github.com/alxvallejo/read-api/internal/database"
	"github.com/alxvallejo/read-api/internal/feedcache"
	"github.com/alxvallejo/read-api/internal/foryou"
	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/alxvallejo/read-api/internal/summarize"
	"github.com/alxvallejo/read-api/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSigningSecret = "router-secret"
	testIssuer        = "read-auth"
	testCookieName    = "app_session"
	testRedditToken   = "reddit-access-token"
)

type stubSource struct {
	mu       sync.Mutex
	listings map[string][]reddit.Post
	posts    map[string]reddit.Post
}

func (s *stubSource) ListTopPosts(_ context.Context, _ string, subreddit string, limit int) ([]reddit.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := s.listings[subreddit]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *stubSource) GetByID(_ context.Context, _ string, postID string) (reddit.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	if !ok {
		return reddit.Post{}, reddit.ErrNotFound
	}
	return post, nil
}

func (s *stubSource) ListSavedPosts(context.Context, string, int) ([]reddit.Post, error) {
	return nil, nil
}

func (s *stubSource) MarkSaved(context.Context, string, string) error {
	return nil
}

func (s *stubSource) ListSubscriptions(context.Context, string) ([]string, error) {
	return nil, nil
}

type testServer struct {
	handler http.Handler
	source  *stubSource
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOrigins(t, nil)
}

func newTestServerWithOrigins(t *testing.T, allowedOrigins []string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	source := &stubSource{listings: map[string][]reddit.Post{}, posts: map[string]reddit.Post{}}
	cache, err := feedcache.NewDatabaseStore(db, nil)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	service, err := foryou.NewService(foryou.ServiceConfig{
		Database:   db,
		IDProvider: foryou.UUIDv7Provider{},
		Source:     source,
		Completer:  summarize.NewWithModel(nil, summarize.Config{}),
		Cache:      cache,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(service.Close)

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	token, _, err := issuer.Issue("reddit:t2_tester", "tester", "Tester")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:       validator,
		Users:          userService,
		ForYou:         service,
		AllowedOrigins: allowedOrigins,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{handler: handler, source: source, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.token)
	request.Header.Set(redditTokenHeader, testRedditToken)
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingSessionValidator {
		t.Fatalf("expected missing validator error, got %v", err)
	}
}

func TestPublicRoutesAndAuthorization(t *testing.T) {
	server := newTestServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		recorder := httptest.NewRecorder()
		server.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/foryou/feed", http.NoBody))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/foryou/starred", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: server.token})
	recorder = httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to be accepted, got %d", recorder.Code)
	}
}

func TestCORSPreflightAllowsRedditTokenHeader(t *testing.T) {
	server := newTestServer(t)

	request := httptest.NewRequest(http.MethodOptions, "/foryou/triage", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", redditTokenHeader)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), strings.ToLower(redditTokenHeader)) {
		t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", redditTokenHeader, allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("expected credentials to stay disabled while any origin is reflected")
	}
}

func TestCORSAllowsCredentialsOnlyForConfiguredOrigins(t *testing.T) {
	server := newTestServerWithOrigins(t, []string{"https://app.example.com"})

	preflight := func(origin string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodOptions, "/foryou/feed", http.NoBody)
		request.Header.Set("Origin", origin)
		request.Header.Set("Access-Control-Request-Method", http.MethodGet)
		recorder := httptest.NewRecorder()
		server.handler.ServeHTTP(recorder, request)
		return recorder
	}

	allowed := preflight("https://app.example.com")
	if allowed.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials for a configured origin, got headers %v", allowed.Header())
	}
	if got := allowed.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allowed origin %q", got)
	}

	denied := preflight("https://evil.example.com")
	if denied.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected unknown origin to be refused, got %v", denied.Header())
	}
}

func TestStarredRoutesNormalizeAndValidate(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPut, "/foryou/starred/GoLang", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var starred subredditsResponsePayload
	decodeBody(t, recorder, &starred)
	if len(starred.Subreddits) != 1 || starred.Subreddits[0] != "golang" {
		t.Fatalf("unexpected starred list %v", starred.Subreddits)
	}

	recorder = server.do(t, http.MethodPut, "/foryou/starred/x", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid name, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodDelete, "/foryou/starred/golang", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on unstar, got %d", recorder.Code)
	}
	decodeBody(t, recorder, &starred)
	if len(starred.Subreddits) != 0 {
		t.Fatalf("expected empty starred list, got %v", starred.Subreddits)
	}
}

func TestFeedAndTriageFlow(t *testing.T) {
	server := newTestServer(t)
	server.source.listings["golang"] = []reddit.Post{
		{ID: "g1", Subreddit: "golang", Title: "Generics", URL: "https://go.dev/blog", Score: 50},
		{ID: "g2", Subreddit: "golang", Title: "NSFW", Score: 40, Over18: true},
	}
	server.source.posts["g1"] = server.source.listings["golang"][0]

	if recorder := server.do(t, http.MethodPut, "/foryou/starred/golang", nil); recorder.Code != http.StatusOK {
		t.Fatalf("star failed: %d", recorder.Code)
	}

	recorder := server.do(t, http.MethodGet, "/foryou/feed", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 feed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var feed foryou.FeedResponse
	decodeBody(t, recorder, &feed)
	if len(feed.Posts) != 1 || feed.Posts[0].ID != "g1" || !feed.Posts[0].Starred {
		t.Fatalf("unexpected feed posts %+v", feed.Posts)
	}

	recorder = server.do(t, http.MethodPost, "/foryou/triage", map[string]string{"post_id": "t3_g1", "action": "SAVED"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 triage, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var triage triageResponsePayload
	decodeBody(t, recorder, &triage)
	if !triage.OK || triage.SavedCount != 1 || triage.PostID != "g1" {
		t.Fatalf("unexpected triage response %+v", triage)
	}

	recorder = server.do(t, http.MethodPost, "/foryou/triage", map[string]string{"post_id": "g2", "action": "archive"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/foryou/feed", nil)
	decodeBody(t, recorder, &feed)
	if len(feed.Posts) != 0 || feed.FromCache {
		t.Fatalf("expected reassembled feed without triaged post, got %+v", feed)
	}

	recorder = server.do(t, http.MethodGet, "/foryou/feed?refresh=yes", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed refresh flag, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/foryou/triage/counts", nil)
	var counts foryou.TriageCounts
	decodeBody(t, recorder, &counts)
	if counts.Saved != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	server := newTestServer(t)

	if recorder := server.do(t, http.MethodGet, "/foryou/persona", nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing persona, got %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodPost, "/reports", nil); recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 with nothing to report, got %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodGet, "/reports/latest", nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing report, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/foryou/persona/refresh", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+server.token)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without reddit token, got %d", recorder.Code)
	}
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["error"] == "" {
		t.Fatalf("expected an error code in the body")
	}

	if recorder := server.do(t, http.MethodPost, "/foryou/persona/refresh", nil); recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 with no saved posts, got %d", recorder.Code)
	}
}

func TestReportRoutes(t *testing.T) {
	server := newTestServer(t)
	server.source.posts["r1"] = reddit.Post{ID: "r1", Subreddit: "rust", Title: "Ownership", URL: "https://example.com/own"}

	if recorder := server.do(t, http.MethodPost, "/foryou/triage", map[string]string{"post_id": "r1", "action": "saved"}); recorder.Code != http.StatusOK {
		t.Fatalf("triage failed: %d", recorder.Code)
	}

	recorder := server.do(t, http.MethodPost, "/reports", map[string]string{"model": "gpt-4o"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 report, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var report foryou.ReportView
	decodeBody(t, recorder, &report)
	if !report.Fallback || report.PostCount != 1 || !strings.Contains(report.Content, "Ownership") {
		t.Fatalf("unexpected report %+v", report)
	}

	recorder = server.do(t, http.MethodGet, "/reports/latest", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected latest report, got %d", recorder.Code)
	}
}

func TestBlockAndDismissRoutes(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/foryou/subreddits/Politics/block", map[string]bool{"blocked": true})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 block, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var block foryou.BlockResult
	decodeBody(t, recorder, &block)
	if block.Subreddit != "politics" || !block.Blocked || block.BlockCount != 1 {
		t.Fatalf("unexpected block result %+v", block)
	}

	if recorder := server.do(t, http.MethodPost, "/foryou/subreddits/politics/block", map[string]string{}); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without blocked flag, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/foryou/subreddits/memes/dismiss", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 dismiss, got %d", recorder.Code)
	}
	var dismiss foryou.DismissResult
	decodeBody(t, recorder, &dismiss)
	if dismiss.Subreddit != "memes" || dismiss.NotInterestedCount != 1 || dismiss.HardBlocked {
		t.Fatalf("unexpected dismiss result %+v", dismiss)
	}

	recorder = server.do(t, http.MethodGet, "/foryou/subreddits/blocked", nil)
	var listing struct {
		Subreddits []foryou.BlockedSubreddit `json:"subreddits"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Subreddits) != 1 || listing.Subreddits[0].Subreddit != "politics" || !listing.Subreddits[0].HardBlocked {
		t.Fatalf("unexpected blocked listing %+v", listing.Subreddits)
	}
}

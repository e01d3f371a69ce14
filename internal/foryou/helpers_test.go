package foryou

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/alxvallejo/read-api/internal/summarize"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testUserID = "user-1"
const testToken = "reddit-token"

type fakeSource struct {
	mu sync.Mutex

	listings         map[string][]reddit.Post
	listingErrs      map[string]error
	stalled          map[string]bool
	posts            map[string]reddit.Post
	byIDErr          error
	saved            []reddit.Post
	savedErr         error
	savedLimit       int
	subscriptions    []string
	subscriptionsErr error
	markSavedErr     error

	listCalls         []string
	markSavedCalls    []string
	subscriptionCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings:    make(map[string][]reddit.Post),
		listingErrs: make(map[string]error),
		stalled:     make(map[string]bool),
		posts:       make(map[string]reddit.Post),
	}
}

func (f *fakeSource) ListTopPosts(ctx context.Context, _ string, subreddit string, limit int) ([]reddit.Post, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, subreddit)
	stalled := f.stalled[subreddit]
	f.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listingErrs[subreddit]; err != nil {
		return nil, err
	}
	posts := f.listings[subreddit]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]reddit.Post{}, posts...), nil
}

func (f *fakeSource) GetByID(_ context.Context, _ string, postID string) (reddit.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byIDErr != nil {
		return reddit.Post{}, f.byIDErr
	}
	post, ok := f.posts[reddit.NormalizePostID(postID)]
	if !ok {
		return reddit.Post{}, reddit.ErrNotFound
	}
	return post, nil
}

func (f *fakeSource) ListSavedPosts(_ context.Context, _ string, limit int) ([]reddit.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedLimit = limit
	if f.savedErr != nil {
		return nil, f.savedErr
	}
	return append([]reddit.Post{}, f.saved...), nil
}

func (f *fakeSource) MarkSaved(_ context.Context, _ string, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markSavedCalls = append(f.markSavedCalls, postID)
	return f.markSavedErr
}

func (f *fakeSource) ListSubscriptions(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptionCalls++
	if f.subscriptionsErr != nil {
		return nil, f.subscriptionsErr
	}
	return append([]string{}, f.subscriptions...), nil
}

func (f *fakeSource) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls)
}

type fakeCompleter struct {
	available bool
	response  string
	err       error
	allowed   []string
	requests  []summarize.CompletionRequest
}

func (f *fakeCompleter) Available() bool {
	return f.available
}

func (f *fakeCompleter) ResolveModel(requested string) string {
	for _, model := range f.allowed {
		if model == requested {
			return model
		}
	}
	return "gpt-4o-mini"
}

func (f *fakeCompleter) Complete(_ context.Context, request summarize.CompletionRequest) (string, error) {
	f.requests = append(f.requests, request)
	if !f.available {
		return "", summarize.ErrNotConfigured
	}
	return f.response, f.err
}

type memoryCache struct {
	mu            sync.Mutex
	entries       map[string][]byte
	saves         int
	invalidations int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Load(_ context.Context, userID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[userID]
	return payload, ok, nil
}

func (c *memoryCache) Save(_ context.Context, userID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.entries[userID] = payload
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	delete(c.entries, userID)
	return nil
}

// steppingClock advances by a millisecond on every read so created_at ordering is deterministic.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db        *gorm.DB
	source    *fakeSource
	completer *fakeCompleter
	cache     *memoryCache
	clock     *steppingClock
}

func newTestService(t *testing.T, options ...func(*ServiceConfig)) (*Service, *harness) {
	t.Helper()

	dsn := fmt.Sprintf("file:foryou_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))

	h := &harness{
		db:        db,
		source:    newFakeSource(),
		completer: &fakeCompleter{allowed: []string{"gpt-4o-mini", "gpt-4o"}},
		cache:     newMemoryCache(),
		clock:     &steppingClock{now: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)},
	}
	cfg := ServiceConfig{
		Database:   db,
		Clock:      h.clock.Now,
		IDProvider: UUIDv7Provider{},
		Source:     h.source,
		Completer:  h.completer,
		Cache:      h.cache,
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(service.Close)
	return service, h
}

func makePosts(subreddit string, count, baseScore int) []reddit.Post {
	posts := make([]reddit.Post, 0, count)
	for i := 0; i < count; i++ {
		posts = append(posts, reddit.Post{
			ID:        fmt.Sprintf("%s%d", strings.ToLower(subreddit), i),
			Subreddit: subreddit,
			Title:     fmt.Sprintf("%s post %d", subreddit, i),
			URL:       fmt.Sprintf("https://example.com/%s/%d", subreddit, i),
			Score:     baseScore - i,
		})
	}
	return posts
}

func storePersona(t *testing.T, db *gorm.DB, userID string, affinities ...Affinity) {
	t.Helper()
	persona := Persona{
		UserID:              userID,
		Keywords:            []string{"go"},
		Topics:              []string{"Programming"},
		SubredditAffinities: affinities,
		ContentPreferences:  []string{"discussion"},
		AnalyzedPostCount:   len(affinities),
		UpdatedAt:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&persona).Error)
}

func feedSubreddits(feed FeedResponse) map[string]int {
	counts := make(map[string]int)
	for _, post := range feed.Posts {
		counts[strings.ToLower(post.Subreddit)]++
	}
	return counts
}

package foryou

import (
	"context"
	"sort"
	"strings"

	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opGetFeed = "foryou.get_feed"

	starredBoost        = 2.0
	emptyCandidatesNote = "no candidate subreddits; star a subreddit, refresh your persona or sync subscriptions"
)

type candidate struct {
	name    string
	starred bool
}

// buildCandidates orders starred subreddits first, then persona affinities by penalized weight, then
// subscriptions. Hard-blocked and repeated names are skipped and the list is capped at fanout.
func buildCandidates(starred []string, affinities []Affinity, subscriptions []string, book reputationBook, fanout int) []candidate {
	included := make(map[string]struct{})
	candidates := make([]candidate, 0, fanout)
	add := func(name string, isStarred bool) {
		if name == "" || len(candidates) >= fanout {
			return
		}
		if _, dup := included[name]; dup {
			return
		}
		if book.standing(name).hardBlocked {
			return
		}
		included[name] = struct{}{}
		candidates = append(candidates, candidate{name: name, starred: isStarred})
	}

	for _, name := range starred {
		add(name, true)
	}

	ranked := append([]Affinity{}, affinities...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight*book.standing(ranked[i].Name).multiplier >
			ranked[j].Weight*book.standing(ranked[j].Name).multiplier
	})
	for _, affinity := range ranked {
		add(affinity.Name, false)
	}

	for _, name := range subscriptions {
		add(name, false)
	}
	return candidates
}

type fetchResult struct {
	posts  []reddit.Post
	failed bool
}

// GetFeed returns the cached feed snapshot when present, otherwise assembles, caches and returns a new one.
func (s *Service) GetFeed(ctx context.Context, userID, token string, forceRefresh bool) (FeedResponse, error) {
	if err := validateUserID(opGetFeed, userID); err != nil {
		return FeedResponse{}, err
	}

	if !forceRefresh {
		if cached, ok := s.loadCachedFeed(ctx, userID); ok {
			metrics.FeedRequests.WithLabelValues("hit").Inc()
			return cached, nil
		}
	}
	metrics.FeedRequests.WithLabelValues("miss").Inc()

	feed, err := s.assembleFeed(ctx, userID, token)
	if err != nil {
		return FeedResponse{}, err
	}

	payload, err := json.Marshal(feed)
	if err != nil {
		s.logError(opGetFeed, "snapshot_encode_failed", err, zap.String("user_id", userID))
		return feed, nil
	}
	if err := s.cache.Save(ctx, userID, payload); err != nil {
		s.logError(opGetFeed, "snapshot_save_failed", err, zap.String("user_id", userID))
	}
	return feed, nil
}

func (s *Service) loadCachedFeed(ctx context.Context, userID string) (FeedResponse, bool) {
	payload, found, err := s.cache.Load(ctx, userID)
	if err != nil {
		s.logWarn(opGetFeed, "snapshot_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, false
	}
	if !found {
		return FeedResponse{}, false
	}
	var feed FeedResponse
	if err := json.Unmarshal(payload, &feed); err != nil {
		s.logWarn(opGetFeed, "snapshot_decode_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, false
	}
	feed.FromCache = true
	return feed, true
}

func (s *Service) assembleFeed(ctx context.Context, userID, token string) (FeedResponse, error) {
	persona, hasPersona, err := loadPersona(ctx, s.db, userID)
	if err != nil {
		s.logError(opGetFeed, "persona_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, internalError(opGetFeed, "persona_load_failed", err)
	}
	var affinities []Affinity
	if hasPersona {
		affinities = persona.SubredditAffinities
	}

	starred, err := s.starredNames(ctx, userID)
	if err != nil {
		s.logError(opGetFeed, "starred_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, internalError(opGetFeed, "starred_load_failed", err)
	}

	triaged, err := s.triagedPostIDs(ctx, userID)
	if err != nil {
		s.logError(opGetFeed, "triage_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, internalError(opGetFeed, "triage_load_failed", err)
	}

	subscriptions, err := s.subscriptionNames(ctx, userID)
	if err != nil {
		s.logError(opGetFeed, "subscriptions_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, internalError(opGetFeed, "subscriptions_load_failed", err)
	}
	if len(subscriptions) == 0 && strings.TrimSpace(token) != "" {
		if synced, syncErr := s.SyncSubscriptions(ctx, userID, token); syncErr != nil {
			s.logWarn(opGetFeed, "lazy_subscription_sync_failed", syncErr, zap.String("user_id", userID))
		} else {
			subscriptions = synced
		}
	}

	book, err := loadReputation(ctx, s.db, userID)
	if err != nil {
		s.logError(opGetFeed, "reputation_load_failed", err, zap.String("user_id", userID))
		return FeedResponse{}, internalError(opGetFeed, "reputation_load_failed", err)
	}

	candidates := buildCandidates(starred, affinities, subscriptions, book, s.limits.SubredditFanout)
	feed := FeedResponse{
		Posts:                 []FeedPost{},
		RecommendedSubreddits: []string{},
		Diagnostics: FeedDiagnostics{
			CandidateSubreddits: make([]string, 0, len(candidates)),
			FailedSubreddits:    []string{},
			HardBlocked:         book.hardBlocked(),
		},
		GeneratedAt: s.now(),
	}
	for _, c := range candidates {
		feed.Diagnostics.CandidateSubreddits = append(feed.Diagnostics.CandidateSubreddits, c.name)
	}
	if len(candidates) == 0 {
		feed.Diagnostics.Message = emptyCandidatesNote
		feed.RecommendedSubreddits = recommendSubreddits(affinities, starred, nil, book, s.limits.RecommendationLimit)
		return feed, nil
	}

	results := s.fetchCandidates(ctx, userID, token, candidates)

	ranked := make([]FeedPost, 0)
	seen := make(map[string]struct{})
	for index, result := range results {
		source := candidates[index]
		if result.failed {
			feed.Diagnostics.FailedSubreddits = append(feed.Diagnostics.FailedSubreddits, source.name)
			continue
		}
		feed.Diagnostics.FetchedPosts += len(result.posts)
		for _, post := range result.posts {
			if post.Over18 {
				feed.Diagnostics.ExcludedNSFW++
				continue
			}
			postID := reddit.NormalizePostID(post.ID)
			if _, done := triaged[postID]; done {
				feed.Diagnostics.ExcludedTriaged++
				continue
			}
			if _, dup := seen[postID]; dup || postID == "" {
				continue
			}
			seen[postID] = struct{}{}
			ranked = append(ranked, newFeedPost(post, postID, source))
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RankScore > ranked[j].RankScore
	})
	if len(ranked) > s.limits.PostLimit {
		ranked = ranked[:s.limits.PostLimit]
	}
	feed.Posts = ranked

	represented := make(map[string]struct{}, len(ranked))
	for _, post := range ranked {
		represented[strings.ToLower(post.Subreddit)] = struct{}{}
		represented[post.SourceSubreddit] = struct{}{}
	}
	feed.RecommendedSubreddits = recommendSubreddits(affinities, starred, represented, book, s.limits.RecommendationLimit)
	return feed, nil
}

// fetchCandidates fans out one listing request per candidate and waits for all of them. A failed or
// timed-out fetch contributes no posts and never cancels its siblings.
func (s *Service) fetchCandidates(ctx context.Context, userID, token string, candidates []candidate) []fetchResult {
	results := make([]fetchResult, len(candidates))
	var group errgroup.Group
	for index, c := range candidates {
		group.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.limits.FetchTimeout)
			defer cancel()
			posts, err := s.source.ListTopPosts(fetchCtx, token, c.name, s.limits.PerSubredditLimit)
			if err != nil {
				metrics.UpstreamFailures.WithLabelValues("list_top_posts").Inc()
				s.logWarn(opGetFeed, "subreddit_fetch_failed", err,
					zap.String("user_id", userID), zap.String("subreddit", c.name))
				results[index] = fetchResult{failed: true}
				return nil
			}
			results[index] = fetchResult{posts: posts}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func newFeedPost(post reddit.Post, postID string, source candidate) FeedPost {
	boost := 1.0
	if source.starred {
		boost = starredBoost
	}
	return FeedPost{
		ID:              postID,
		Subreddit:       post.Subreddit,
		Title:           post.Title,
		URL:             post.URL,
		Permalink:       post.Permalink,
		Thumbnail:       post.Thumbnail,
		Score:           post.Score,
		NumComments:     post.NumComments,
		Author:          post.Author,
		CreatedUTC:      post.CreatedUTCSeconds(),
		IsSelf:          post.IsSelf,
		Selftext:        post.Selftext,
		SourceSubreddit: source.name,
		Starred:         source.starred,
		RankScore:       float64(post.Score) * boost,
	}
}

// recommendSubreddits suggests persona affinities that are neither starred, hard-blocked nor already
// represented in the feed, strongest first.
func recommendSubreddits(affinities []Affinity, starred []string, represented map[string]struct{}, book reputationBook, limit int) []string {
	excluded := make(map[string]struct{}, len(starred))
	for _, name := range starred {
		excluded[name] = struct{}{}
	}
	ranked := append([]Affinity{}, affinities...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight > ranked[j].Weight
	})
	recommended := make([]string, 0, limit)
	for _, affinity := range ranked {
		if len(recommended) == limit {
			break
		}
		if _, skip := excluded[affinity.Name]; skip {
			continue
		}
		if _, skip := represented[affinity.Name]; skip {
			continue
		}
		if book.standing(affinity.Name).hardBlocked {
			continue
		}
		excluded[affinity.Name] = struct{}{}
		recommended = append(recommended, affinity.Name)
	}
	return recommended
}

package foryou

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateStandingRules(t *testing.T) {
	tests := []struct {
		name          string
		block         *SubredditBlock
		notInterested int64
		hardBlocked   bool
		multiplier    float64
	}{
		{name: "clean", multiplier: 1.0},
		{name: "active block", block: &SubredditBlock{IsActivelyBlocked: true, BlockCount: 1}, hardBlocked: true},
		{name: "five dismissals", notInterested: 5, hardBlocked: true},
		{name: "active block wins over history", block: &SubredditBlock{IsActivelyBlocked: true, BlockCount: 4}, notInterested: 1, hardBlocked: true},
		{name: "one past block", block: &SubredditBlock{BlockCount: 1}, multiplier: 0.7},
		{name: "two past blocks", block: &SubredditBlock{BlockCount: 2}, multiplier: 0.5},
		{name: "three past blocks", block: &SubredditBlock{BlockCount: 3}, multiplier: 0.3},
		{name: "block history beats dismissals", block: &SubredditBlock{BlockCount: 1}, notInterested: 4, multiplier: 0.7},
		{name: "three dismissals", notInterested: 3, multiplier: 0.5},
		{name: "four dismissals", notInterested: 4, multiplier: 0.5},
		{name: "two dismissals", notInterested: 2, multiplier: 1.0},
		{name: "record without history", block: &SubredditBlock{}, multiplier: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateStanding(tt.block, tt.notInterested)
			assert.Equal(t, tt.hardBlocked, got.hardBlocked)
			if !tt.hardBlocked {
				assert.InDelta(t, tt.multiplier, got.multiplier, 1e-9)
			}
		})
	}
}

func TestBlockHistoryNeverRanksHigher(t *testing.T) {
	affinities := []Affinity{{Name: "golang", Weight: 0.8}, {Name: "rust", Weight: 0.6}}

	clean := reputationBook{blocks: map[string]SubredditBlock{}, dismissals: map[string]int64{}}
	penalized := reputationBook{
		blocks:     map[string]SubredditBlock{"golang": {Subreddit: "golang", BlockCount: 3}},
		dismissals: map[string]int64{},
	}

	cleanOrder := buildCandidates(nil, affinities, nil, clean, 10)
	penalizedOrder := buildCandidates(nil, affinities, nil, penalized, 10)

	require.Len(t, cleanOrder, 2)
	require.Len(t, penalizedOrder, 2)
	assert.Equal(t, "golang", cleanOrder[0].name)
	assert.Equal(t, "rust", penalizedOrder[0].name)
	assert.Equal(t, "golang", penalizedOrder[1].name)
}

func TestSetSubredditBlockToggle(t *testing.T) {
	service, h := newTestService(t)
	ctx := context.Background()

	result, err := service.SetSubredditBlock(ctx, testUserID, "r/Politics", true)
	require.NoError(t, err)
	assert.Equal(t, BlockResult{Subreddit: "politics", Blocked: true, BlockCount: 1}, result)

	result, err = service.SetSubredditBlock(ctx, testUserID, "politics", false)
	require.NoError(t, err)
	assert.Equal(t, BlockResult{Subreddit: "politics", Blocked: false, BlockCount: 1}, result)

	result, err = service.SetSubredditBlock(ctx, testUserID, "POLITICS", true)
	require.NoError(t, err)
	assert.Equal(t, BlockResult{Subreddit: "politics", Blocked: true, BlockCount: 2}, result)

	var stored SubredditBlock
	require.NoError(t, h.db.Where("user_id = ? AND subreddit = ?", testUserID, "politics").Take(&stored).Error)
	assert.True(t, stored.IsActivelyBlocked)
	assert.Equal(t, 2, stored.BlockCount)
	assert.Equal(t, 3, h.cache.invalidations)
}

func TestUnblockNeverBlockedSubredditIsNoop(t *testing.T) {
	service, h := newTestService(t)

	result, err := service.SetSubredditBlock(context.Background(), testUserID, "golang", false)
	require.NoError(t, err)
	assert.Equal(t, BlockResult{Subreddit: "golang"}, result)

	var count int64
	require.NoError(t, h.db.Model(&SubredditBlock{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSetSubredditBlockRejectsInvalidName(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.SetSubredditBlock(context.Background(), testUserID, "not a subreddit!", true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDismissSubredditReachesHardBlockAtFive(t *testing.T) {
	service, h := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		result, err := service.DismissSubreddit(ctx, testUserID, "r/politics")
		require.NoError(t, err)
		assert.Equal(t, int64(i), result.NotInterestedCount)
		assert.Equal(t, i >= 5, result.HardBlocked, "dismissal %d", i)
	}

	var records []TriageRecord
	require.NoError(t, h.db.Where("user_id = ?", testUserID).Find(&records).Error)
	require.Len(t, records, 5)
	for _, record := range records {
		assert.Equal(t, ActionNotInterested, record.Action)
		assert.Equal(t, "politics", record.Subreddit)
		assert.Contains(t, record.RedditPostID, "subreddit_dismiss_politics_")
	}
}

func TestDismissSubredditUniqueUnderFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func(cfg *ServiceConfig) {
		cfg.Clock = func() time.Time { return frozen }
	})
	ctx := context.Background()

	_, err := service.DismissSubreddit(ctx, testUserID, "memes")
	require.NoError(t, err)
	result, err := service.DismissSubreddit(ctx, testUserID, "memes")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.NotInterestedCount)
}

func TestListBlockedSubredditsReportsDerivedStanding(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.SetSubredditBlock(ctx, testUserID, "politics", true)
	require.NoError(t, err)
	_, err = service.SetSubredditBlock(ctx, testUserID, "news", true)
	require.NoError(t, err)
	_, err = service.SetSubredditBlock(ctx, testUserID, "news", false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = service.DismissSubreddit(ctx, testUserID, "memes")
		require.NoError(t, err)
	}
	_, err = service.DismissSubreddit(ctx, testUserID, "golang")
	require.NoError(t, err)

	entries, err := service.ListBlockedSubreddits(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "memes", entries[0].Subreddit)
	assert.False(t, entries[0].HardBlocked)
	assert.InDelta(t, 0.5, entries[0].Multiplier, 1e-9)
	assert.Equal(t, int64(3), entries[0].NotInterestedCount)

	assert.Equal(t, "news", entries[1].Subreddit)
	assert.False(t, entries[1].IsActivelyBlocked)
	assert.InDelta(t, 0.7, entries[1].Multiplier, 1e-9)

	assert.Equal(t, "politics", entries[2].Subreddit)
	assert.True(t, entries[2].HardBlocked)
}

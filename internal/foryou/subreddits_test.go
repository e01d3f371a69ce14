package foryou

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarSubredditNormalizesAndDeduplicates(t *testing.T) {
	service, h := newTestService(t)
	ctx := context.Background()

	_, err := service.StarSubreddit(ctx, testUserID, "r/GoLang")
	require.NoError(t, err)
	_, err = service.StarSubreddit(ctx, testUserID, "rust")
	require.NoError(t, err)
	starred, err := service.StarSubreddit(ctx, testUserID, "golang")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "rust"}, starred)
	assert.Equal(t, 3, h.cache.invalidations)

	starred, err = service.UnstarSubreddit(ctx, testUserID, "R/GOLANG")
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, starred)

	other, err := service.ListStarred(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStarSubredditRejectsInvalidNames(t *testing.T) {
	service, _ := newTestService(t)

	for _, name := range []string{"", "r/", "a", "has space", "this_name_is_far_too_long_for_reddit"} {
		_, err := service.StarSubreddit(context.Background(), testUserID, name)
		assert.ErrorIs(t, err, ErrInvalidArgument, "name %q", name)
	}
}

func TestSyncSubscriptionsReplacesStoredList(t *testing.T) {
	service, h := newTestService(t)
	ctx := context.Background()

	h.source.subscriptions = []string{"r/Golang", "golang", "programming", "bad name"}
	names, err := service.SyncSubscriptions(ctx, testUserID, testToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "programming"}, names)

	h.source.subscriptions = []string{"rust"}
	_, err = service.SyncSubscriptions(ctx, testUserID, testToken)
	require.NoError(t, err)

	stored, err := service.subscriptionNames(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, stored)
}

func TestSyncSubscriptionsFailures(t *testing.T) {
	service, h := newTestService(t)
	ctx := context.Background()

	_, err := service.SyncSubscriptions(ctx, testUserID, " ")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, h.source.subscriptionCalls)

	h.source.subscriptionsErr = errors.New("reddit down")
	_, err = service.SyncSubscriptions(ctx, testUserID, testToken)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

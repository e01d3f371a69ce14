package foryou

import (
	"context"
	"strings"

	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/alxvallejo/read-api/internal/reddit"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opListStarred       = "foryou.list_starred"
	opStarSubreddit     = "foryou.star_subreddit"
	opUnstarSubreddit   = "foryou.unstar_subreddit"
	opSyncSubscriptions = "foryou.sync_subscriptions"
)

// ListStarred returns the user's starred subreddits in the order they were starred.
func (s *Service) ListStarred(ctx context.Context, userID string) ([]string, error) {
	if err := validateUserID(opListStarred, userID); err != nil {
		return nil, err
	}
	names, err := s.starredNames(ctx, userID)
	if err != nil {
		s.logError(opListStarred, "query_failed", err, zap.String("user_id", userID))
		return nil, internalError(opListStarred, "query_failed", err)
	}
	return names, nil
}

// StarSubreddit adds a subreddit to the starred set. Starring twice is a no-op.
func (s *Service) StarSubreddit(ctx context.Context, userID, subreddit string) ([]string, error) {
	if err := validateUserID(opStarSubreddit, userID); err != nil {
		return nil, err
	}
	name, err := NormalizeSubreddit(subreddit)
	if err != nil {
		return nil, newServiceError(opStarSubreddit, "invalid_subreddit", KindInvalidArgument, err)
	}

	record := StarredSubreddit{UserID: userID, Subreddit: name, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		s.logError(opStarSubreddit, "insert_failed", err,
			zap.String("user_id", userID), zap.String("subreddit", name))
		return nil, internalError(opStarSubreddit, "insert_failed", err)
	}
	if err := s.invalidateFeed(ctx, opStarSubreddit, userID); err != nil {
		return nil, err
	}
	return s.ListStarred(ctx, userID)
}

// UnstarSubreddit removes a subreddit from the starred set.
func (s *Service) UnstarSubreddit(ctx context.Context, userID, subreddit string) ([]string, error) {
	if err := validateUserID(opUnstarSubreddit, userID); err != nil {
		return nil, err
	}
	name, err := NormalizeSubreddit(subreddit)
	if err != nil {
		return nil, newServiceError(opUnstarSubreddit, "invalid_subreddit", KindInvalidArgument, err)
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND subreddit = ?", userID, name).
		Delete(&StarredSubreddit{}).Error; err != nil {
		s.logError(opUnstarSubreddit, "delete_failed", err,
			zap.String("user_id", userID), zap.String("subreddit", name))
		return nil, internalError(opUnstarSubreddit, "delete_failed", err)
	}
	if err := s.invalidateFeed(ctx, opUnstarSubreddit, userID); err != nil {
		return nil, err
	}
	return s.ListStarred(ctx, userID)
}

// SyncSubscriptions replaces the stored subscription list with the user's current Reddit subscriptions.
func (s *Service) SyncSubscriptions(ctx context.Context, userID, token string) ([]string, error) {
	if err := validateUserID(opSyncSubscriptions, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, newServiceError(opSyncSubscriptions, "missing_token", KindUnauthenticated, errMissingToken)
	}

	remote, err := s.source.ListSubscriptions(ctx, token)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("list_subscriptions").Inc()
		s.logError(opSyncSubscriptions, "fetch_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opSyncSubscriptions, "fetch_failed", KindUpstreamUnavailable, err)
	}

	now := s.now()
	seen := make(map[string]struct{}, len(remote))
	rows := make([]Subscription, 0, len(remote))
	names := make([]string, 0, len(remote))
	for _, raw := range remote {
		name, err := NormalizeSubreddit(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		rows = append(rows, Subscription{UserID: userID, Subreddit: name, Position: len(rows), SyncedAt: now})
		names = append(names, name)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Subscription{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if txErr != nil {
		s.logError(opSyncSubscriptions, "replace_failed", txErr, zap.String("user_id", userID))
		return nil, internalError(opSyncSubscriptions, "replace_failed", txErr)
	}
	return names, nil
}

func (s *Service) starredNames(ctx context.Context, userID string) ([]string, error) {
	names := make([]string, 0)
	err := s.db.WithContext(ctx).Model(&StarredSubreddit{}).
		Where("user_id = ?", userID).
		Order("created_at ASC, subreddit ASC").
		Pluck("subreddit", &names).Error
	return names, err
}

func (s *Service) subscriptionNames(ctx context.Context, userID string) ([]string, error) {
	names := make([]string, 0)
	err := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Order("position ASC").
		Pluck("subreddit", &names).Error
	return names, err
}

// triagedPostIDs returns every post id the user has acted on, normalized without the fullname prefix.
func (s *Service) triagedPostIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&TriageRecord{}).
		Where("user_id = ?", userID).
		Pluck("reddit_post_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[reddit.NormalizePostID(id)] = struct{}{}
	}
	return set, nil
}

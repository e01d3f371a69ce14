package foryou

import (
	"context"
	"errors"
	"strings"

	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opRecordTriage = "foryou.record_triage"
	opTriageCounts = "foryou.triage_counts"
	opMarkSaved    = "foryou.mark_saved"
)

// RecordTriage stores the user's decision on a post. Re-triaging a post replaces only its action.
// Saving a post also saves it on Reddit in the background.
func (s *Service) RecordTriage(ctx context.Context, userID, token, postID string, action Action) (TriageResult, error) {
	if err := validateUserID(opRecordTriage, userID); err != nil {
		return TriageResult{}, err
	}
	if !action.Valid() {
		return TriageResult{}, newServiceError(opRecordTriage, "invalid_action", KindInvalidArgument, errInvalidAction)
	}
	id := reddit.NormalizePostID(postID)
	if id == "" {
		return TriageResult{}, newServiceError(opRecordTriage, "invalid_post_id", KindInvalidArgument, errInvalidPostID)
	}

	now := s.now()
	var existing TriageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND reddit_post_id = ?", userID, id).
		Take(&existing).Error
	switch {
	case err == nil:
		if err := s.db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"action": action, "updated_at": now}).Error; err != nil {
			s.logError(opRecordTriage, "action_update_failed", err,
				zap.String("user_id", userID), zap.String("post_id", id))
			return TriageResult{}, internalError(opRecordTriage, "action_update_failed", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		record, buildErr := s.newTriageRecord(ctx, userID, token, id, action)
		if buildErr != nil {
			return TriageResult{}, buildErr
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "reddit_post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"action", "updated_at"}),
		}).Create(&record).Error; err != nil {
			s.logError(opRecordTriage, "record_insert_failed", err,
				zap.String("user_id", userID), zap.String("post_id", id))
			return TriageResult{}, internalError(opRecordTriage, "record_insert_failed", err)
		}
	default:
		s.logError(opRecordTriage, "record_select_failed", err,
			zap.String("user_id", userID), zap.String("post_id", id))
		return TriageResult{}, internalError(opRecordTriage, "record_select_failed", err)
	}
	metrics.TriageActions.WithLabelValues(action.String()).Inc()

	if action == ActionSaved && strings.TrimSpace(token) != "" {
		s.runDetached(ctx, opMarkSaved, func(detached context.Context) error {
			return s.source.MarkSaved(detached, token, id)
		}, zap.String("user_id", userID), zap.String("post_id", id))
	}

	if err := s.invalidateFeed(ctx, opRecordTriage, userID); err != nil {
		return TriageResult{}, err
	}

	savedCount, err := s.countAction(ctx, userID, ActionSaved)
	if err != nil {
		s.logError(opRecordTriage, "count_failed", err, zap.String("user_id", userID))
		return TriageResult{}, internalError(opRecordTriage, "count_failed", err)
	}
	return TriageResult{Action: action, PostID: id, SavedCount: savedCount}, nil
}

// newTriageRecord denormalizes the post's current metadata into a new record. A failed lookup still
// yields a record, without metadata.
func (s *Service) newTriageRecord(ctx context.Context, userID, token, postID string, action Action) (TriageRecord, error) {
	var record TriageRecord
	if strings.TrimSpace(token) != "" {
		post, err := s.source.GetByID(ctx, token, postID)
		if err != nil {
			metrics.UpstreamFailures.WithLabelValues("get_by_id").Inc()
			s.logWarn(opRecordTriage, "metadata_fetch_failed", err,
				zap.String("user_id", userID), zap.String("post_id", postID))
		} else if err := copier.Copy(&record, &post); err != nil {
			s.logWarn(opRecordTriage, "metadata_copy_failed", err,
				zap.String("user_id", userID), zap.String("post_id", postID))
			record = TriageRecord{}
		} else {
			record.HasMetadata = true
		}
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordTriage, "id_generation_failed", err, zap.String("user_id", userID))
		return TriageRecord{}, internalError(opRecordTriage, "id_generation_failed", err)
	}
	now := s.now()
	record.ID = recordID
	record.UserID = userID
	record.RedditPostID = postID
	record.Subreddit = strings.ToLower(stripSubredditPrefix(record.Subreddit))
	record.Action = action
	record.CreatedAt = now
	record.UpdatedAt = now
	return record, nil
}

// TriageCounts returns per-action totals for the user.
func (s *Service) TriageCounts(ctx context.Context, userID string) (TriageCounts, error) {
	if err := validateUserID(opTriageCounts, userID); err != nil {
		return TriageCounts{}, err
	}
	var rows []actionCount
	if err := s.db.WithContext(ctx).Model(&TriageRecord{}).
		Select("action, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("action").
		Scan(&rows).Error; err != nil {
		s.logError(opTriageCounts, "query_failed", err, zap.String("user_id", userID))
		return TriageCounts{}, internalError(opTriageCounts, "query_failed", err)
	}
	var counts TriageCounts
	for _, row := range rows {
		switch row.Action {
		case ActionSaved:
			counts.Saved = row.Total
		case ActionAlreadyRead:
			counts.AlreadyRead = row.Total
		case ActionNotInterested:
			counts.NotInterested = row.Total
		}
	}
	return counts, nil
}

type actionCount struct {
	Action Action
	Total  int64
}

func (s *Service) countAction(ctx context.Context, userID string, action Action) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&TriageRecord{}).
		Where("user_id = ? AND action = ?", userID, action).
		Count(&count).Error
	return count, err
}

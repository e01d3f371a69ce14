package foryou

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alxvallejo/read-api/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opSetBlock    = "foryou.set_block"
	opDismiss     = "foryou.dismiss_subreddit"
	opListBlocked = "foryou.list_blocked"

	dismissPostIDPrefix = "subreddit_dismiss_"
)

// standing is the derived reputation of one subreddit for one user.
type standing struct {
	hardBlocked bool
	multiplier  float64
}

// evaluateStanding applies the block rules in priority order; the first match wins.
func evaluateStanding(block *SubredditBlock, notInterested int64) standing {
	if block != nil && block.IsActivelyBlocked {
		return standing{hardBlocked: true}
	}
	if notInterested >= hardBlockThreshold {
		return standing{hardBlocked: true}
	}
	if block != nil && block.BlockCount >= 1 {
		switch {
		case block.BlockCount >= 3:
			return standing{multiplier: 0.3}
		case block.BlockCount >= 2:
			return standing{multiplier: 0.5}
		default:
			return standing{multiplier: 0.7}
		}
	}
	if notInterested >= softPenaltyThreshold {
		return standing{multiplier: 0.5}
	}
	return standing{multiplier: 1.0}
}

// reputationBook is a per-user snapshot of block records and dismissal counts.
type reputationBook struct {
	blocks     map[string]SubredditBlock
	dismissals map[string]int64
}

func (b reputationBook) standing(subreddit string) standing {
	var block *SubredditBlock
	if record, ok := b.blocks[subreddit]; ok {
		block = &record
	}
	return evaluateStanding(block, b.dismissals[subreddit])
}

func (b reputationBook) hardBlocked() []string {
	seen := make(map[string]struct{})
	for name := range b.blocks {
		seen[name] = struct{}{}
	}
	for name := range b.dismissals {
		seen[name] = struct{}{}
	}
	names := make([]string, 0)
	for name := range seen {
		if b.standing(name).hardBlocked {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type subredditCount struct {
	Subreddit string
	Total     int64
}

func loadReputation(ctx context.Context, db *gorm.DB, userID string) (reputationBook, error) {
	book := reputationBook{
		blocks:     make(map[string]SubredditBlock),
		dismissals: make(map[string]int64),
	}

	var blocks []SubredditBlock
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Find(&blocks).Error; err != nil {
		return book, fmt.Errorf("load blocks: %w", err)
	}
	for _, block := range blocks {
		book.blocks[block.Subreddit] = block
	}

	var counts []subredditCount
	if err := db.WithContext(ctx).Model(&TriageRecord{}).
		Select("subreddit, COUNT(*) AS total").
		Where("user_id = ? AND action = ?", userID, ActionNotInterested).
		Group("subreddit").
		Scan(&counts).Error; err != nil {
		return book, fmt.Errorf("count dismissals: %w", err)
	}
	for _, count := range counts {
		if count.Subreddit == "" {
			continue
		}
		book.dismissals[count.Subreddit] = count.Total
	}
	return book, nil
}

// SetSubredditBlock toggles the explicit block for a subreddit. Unblocking a subreddit that was never
// blocked is a no-op reporting a zero block count.
func (s *Service) SetSubredditBlock(ctx context.Context, userID, subreddit string, blocked bool) (BlockResult, error) {
	if err := validateUserID(opSetBlock, userID); err != nil {
		return BlockResult{}, err
	}
	name, err := NormalizeSubreddit(subreddit)
	if err != nil {
		return BlockResult{}, newServiceError(opSetBlock, "invalid_subreddit", KindInvalidArgument, err)
	}

	now := s.now()
	result := BlockResult{Subreddit: name}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SubredditBlock
		err := tx.Where("user_id = ? AND subreddit = ?", userID, name).Take(&existing).Error
		found := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		switch {
		case !blocked && !found:
			return nil
		case !blocked:
			existing.IsActivelyBlocked = false
		case !found:
			existing = SubredditBlock{
				UserID:            userID,
				Subreddit:         name,
				IsActivelyBlocked: true,
				BlockCount:        1,
				CreatedAt:         now,
			}
		default:
			existing.IsActivelyBlocked = true
			existing.BlockCount++
		}
		existing.UpdatedAt = now
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		result.Blocked = existing.IsActivelyBlocked
		result.BlockCount = existing.BlockCount
		return nil
	})
	if txErr != nil {
		s.logError(opSetBlock, "block_update_failed", txErr,
			zap.String("user_id", userID), zap.String("subreddit", name))
		return BlockResult{}, internalError(opSetBlock, "block_update_failed", txErr)
	}

	if err := s.invalidateFeed(ctx, opSetBlock, userID); err != nil {
		return BlockResult{}, err
	}
	return result, nil
}

// DismissSubreddit records a subreddit-level "not interested" as a synthetic triage record and reports
// whether the subreddit has reached the hard-block threshold.
func (s *Service) DismissSubreddit(ctx context.Context, userID, subreddit string) (DismissResult, error) {
	if err := validateUserID(opDismiss, userID); err != nil {
		return DismissResult{}, err
	}
	name, err := NormalizeSubreddit(subreddit)
	if err != nil {
		return DismissResult{}, newServiceError(opDismiss, "invalid_subreddit", KindInvalidArgument, err)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opDismiss, "id_generation_failed", err, zap.String("user_id", userID))
		return DismissResult{}, internalError(opDismiss, "id_generation_failed", err)
	}

	now := s.now()
	record := TriageRecord{
		ID:           recordID,
		UserID:       userID,
		RedditPostID: fmt.Sprintf("%s%s_%d_%s", dismissPostIDPrefix, name, now.UnixNano(), recordID),
		Subreddit:    name,
		Action:       ActionNotInterested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opDismiss, "record_insert_failed", err,
			zap.String("user_id", userID), zap.String("subreddit", name))
		return DismissResult{}, internalError(opDismiss, "record_insert_failed", err)
	}
	metrics.TriageActions.WithLabelValues("subreddit_dismiss").Inc()

	var count int64
	if err := s.db.WithContext(ctx).Model(&TriageRecord{}).
		Where("user_id = ? AND subreddit = ? AND action = ?", userID, name, ActionNotInterested).
		Count(&count).Error; err != nil {
		s.logError(opDismiss, "count_failed", err,
			zap.String("user_id", userID), zap.String("subreddit", name))
		return DismissResult{}, internalError(opDismiss, "count_failed", err)
	}

	if err := s.invalidateFeed(ctx, opDismiss, userID); err != nil {
		return DismissResult{}, err
	}
	return DismissResult{
		Subreddit:          name,
		NotInterestedCount: count,
		HardBlocked:        count >= hardBlockThreshold,
	}, nil
}

// ListBlockedSubreddits returns explicit block records plus subreddits penalized by dismissals alone.
func (s *Service) ListBlockedSubreddits(ctx context.Context, userID string) ([]BlockedSubreddit, error) {
	if err := validateUserID(opListBlocked, userID); err != nil {
		return nil, err
	}
	book, err := loadReputation(ctx, s.db, userID)
	if err != nil {
		s.logError(opListBlocked, "load_failed", err, zap.String("user_id", userID))
		return nil, internalError(opListBlocked, "load_failed", err)
	}

	names := make([]string, 0, len(book.blocks))
	for name := range book.blocks {
		names = append(names, name)
	}
	for name, count := range book.dismissals {
		if _, explicit := book.blocks[name]; !explicit && count >= softPenaltyThreshold {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	entries := make([]BlockedSubreddit, 0, len(names))
	for _, name := range names {
		derived := book.standing(name)
		block := book.blocks[name]
		entries = append(entries, BlockedSubreddit{
			Subreddit:          name,
			IsActivelyBlocked:  block.IsActivelyBlocked,
			BlockCount:         block.BlockCount,
			NotInterestedCount: book.dismissals[name],
			HardBlocked:        derived.hardBlocked,
			Multiplier:         derived.multiplier,
		})
	}
	return entries, nil
}

// resetCycle clears seen and dismissed state and lifts active blocks. Block history is preserved.
func resetCycle(tx *gorm.DB, userID string, now time.Time) error {
	if err := tx.Where("user_id = ? AND action IN ?", userID,
		[]string{ActionAlreadyRead.String(), ActionNotInterested.String()}).
		Delete(&TriageRecord{}).Error; err != nil {
		return fmt.Errorf("clear triage: %w", err)
	}
	if err := tx.Model(&SubredditBlock{}).
		Where("user_id = ? AND is_actively_blocked = ?", userID, true).
		Updates(map[string]interface{}{"is_actively_blocked": false, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("lift blocks: %w", err)
	}
	return nil
}

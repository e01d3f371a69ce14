package database

import (
	"errors"
	"time"

	"github.com/alxvallejo/read-api/internal/foryou"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeSubredditNames = "2026-03-01_normalize_subreddit_names"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeSubredditNames, apply: normalizeSubredditNames},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeSubredditNames strips "r/" prefixes and lowercases stored names. Rows that collide after
// normalization are merged into the canonical row. Names that fail validation are left untouched.
func normalizeSubredditNames(db *gorm.DB) error {
	if err := normalizeTriageSubreddits(db); err != nil {
		return err
	}
	if err := normalizeBlocks(db); err != nil {
		return err
	}
	return normalizeStarred(db)
}

func canonicalName(raw string) (string, bool) {
	name, err := foryou.NormalizeSubreddit(raw)
	if err != nil || name == raw {
		return "", false
	}
	return name, true
}

func normalizeTriageSubreddits(db *gorm.DB) error {
	var names []string
	if err := db.Model(&foryou.TriageRecord{}).Distinct("subreddit").Pluck("subreddit", &names).Error; err != nil {
		return err
	}
	for _, raw := range names {
		name, ok := canonicalName(raw)
		if !ok {
			continue
		}
		if err := db.Model(&foryou.TriageRecord{}).Where("subreddit = ?", raw).Update("subreddit", name).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeBlocks(db *gorm.DB) error {
	var blocks []foryou.SubredditBlock
	if err := db.Find(&blocks).Error; err != nil {
		return err
	}
	for _, block := range blocks {
		name, ok := canonicalName(block.Subreddit)
		if !ok {
			continue
		}
		var canonical foryou.SubredditBlock
		err := db.Where("user_id = ? AND subreddit = ?", block.UserID, name).Take(&canonical).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Model(&foryou.SubredditBlock{}).
				Where("user_id = ? AND subreddit = ?", block.UserID, block.Subreddit).
				Update("subreddit", name).Error; err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		if block.BlockCount > canonical.BlockCount {
			canonical.BlockCount = block.BlockCount
		}
		canonical.IsActivelyBlocked = canonical.IsActivelyBlocked || block.IsActivelyBlocked
		if block.UpdatedAt.After(canonical.UpdatedAt) {
			canonical.UpdatedAt = block.UpdatedAt
		}
		if err := db.Save(&canonical).Error; err != nil {
			return err
		}
		if err := db.Where("user_id = ? AND subreddit = ?", block.UserID, block.Subreddit).
			Delete(&foryou.SubredditBlock{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeStarred(db *gorm.DB) error {
	var starred []foryou.StarredSubreddit
	if err := db.Find(&starred).Error; err != nil {
		return err
	}
	for _, star := range starred {
		name, ok := canonicalName(star.Subreddit)
		if !ok {
			continue
		}
		var existing int64
		if err := db.Model(&foryou.StarredSubreddit{}).
			Where("user_id = ? AND subreddit = ?", star.UserID, name).
			Count(&existing).Error; err != nil {
			return err
		}
		scope := db.Where("user_id = ? AND subreddit = ?", star.UserID, star.Subreddit)
		if existing > 0 {
			err := scope.Delete(&foryou.StarredSubreddit{}).Error
			if err != nil {
				return err
			}
			continue
		}
		if err := scope.Model(&foryou.StarredSubreddit{}).Update("subreddit", name).Error; err != nil {
			return err
		}
	}
	return nil
}

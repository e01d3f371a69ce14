package users

import (
	"strings"
	"time"
)

// User maps an external account (the session subject) to the internal user id every domain table keys on.
type User struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	ExternalID     string    `gorm:"column:external_id;size:190;not null;uniqueIndex"`
	RedditUsername string    `gorm:"column:reddit_username;size:64"`
	DisplayName    string    `gorm:"column:display_name;size:320"`
	LastSeenAt     time.Time `gorm:"column:last_seen_at;autoUpdateTime:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

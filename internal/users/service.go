package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alxvallejo/read-api/internal/auth"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
}

// Service resolves session claims to internal user ids.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() (string, error)
	cache sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUIDv7
	}
	return &Service{db: cfg.Database, now: clock, newID: newID}, nil
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ResolveUserID returns the internal id for the session subject, creating the user on first sight.
// Resolved ids are cached for the life of the process.
func (s *Service) ResolveUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	externalID := normalize(claims.Subject)
	if externalID == "" {
		return "", ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(externalID); ok {
		if userID, ok := cached.(string); ok {
			return userID, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, err = s.create(ctx, externalID, claims)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if name := normalize(claims.RedditUsername); name != "" && name != user.RedditUsername {
			updates["reddit_username"] = name
		}
		if display := normalize(claims.DisplayName); display != "" && display != user.DisplayName {
			updates["display_name"] = display
		}
		updates["updated_at"] = s.now().UTC()
		_ = s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error
	}

	s.cache.Store(externalID, user.ID)
	return user.ID, nil
}

func (s *Service) create(ctx context.Context, externalID string, claims auth.SessionClaims) (User, error) {
	id, err := s.newID()
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:             id,
		ExternalID:     externalID,
		RedditUsername: normalize(claims.RedditUsername),
		DisplayName:    normalize(claims.DisplayName),
		LastSeenAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// A concurrent first request may have inserted the same subject.
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return User{}, err
	}
	var stored User
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&stored).Error; err != nil {
		return User{}, err
	}
	return stored, nil
}

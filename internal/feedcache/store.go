package feedcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const redisKeyPrefix = "foryou:feed:"

var errMissingUserID = errors.New("feedcache: user id required")

// Entry is the single cached feed snapshot for a user. An empty payload means invalidated.
type Entry struct {
	UserID    string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "feed_caches"
}

// DatabaseStore keeps feed snapshots in the relational store.
type DatabaseStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewDatabaseStore constructs a gorm-backed snapshot store.
func NewDatabaseStore(db *gorm.DB, clock func() time.Time) (*DatabaseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("feedcache: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseStore{db: db, clock: clock}, nil
}

// Load returns the stored snapshot, reporting false when none is present.
func (s *DatabaseStore) Load(ctx context.Context, userID string) ([]byte, bool, error) {
	if userID == "" {
		return nil, false, errMissingUserID
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("feedcache: load: %w", err)
	}
	if isEmptyPayload(entry.Payload) {
		return nil, false, nil
	}
	return []byte(entry.Payload), true, nil
}

// Save replaces the user's snapshot.
func (s *DatabaseStore) Save(ctx context.Context, userID string, payload []byte) error {
	if userID == "" {
		return errMissingUserID
	}
	entry := Entry{
		UserID:    userID,
		Payload:   datatypes.JSON(payload),
		UpdatedAt: s.clock().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("feedcache: save: %w", err)
	}
	return nil
}

// Invalidate empties the user's snapshot so the next read reassembles.
func (s *DatabaseStore) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return errMissingUserID
	}
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"payload": nil, "updated_at": s.clock().UTC()}).Error
	if err != nil {
		return fmt.Errorf("feedcache: invalidate: %w", err)
	}
	return nil
}

// A NULL column scans back as the literal "null".
func isEmptyPayload(payload datatypes.JSON) bool {
	return len(payload) == 0 || string(payload) == "null"
}

// RedisStore keeps feed snapshots in Redis without expiry; entries live until invalidated.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("feedcache: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// Load returns the stored snapshot, reporting false when none is present.
func (s *RedisStore) Load(ctx context.Context, userID string) ([]byte, bool, error) {
	if userID == "" {
		return nil, false, errMissingUserID
	}
	value, err := s.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("feedcache: redis get: %w", err)
	}
	if len(value) == 0 {
		return nil, false, nil
	}
	return value, true, nil
}

// Save replaces the user's snapshot.
func (s *RedisStore) Save(ctx context.Context, userID string, payload []byte) error {
	if userID == "" {
		return errMissingUserID
	}
	if err := s.client.Set(ctx, redisKeyPrefix+userID, payload, 0).Err(); err != nil {
		return fmt.Errorf("feedcache: redis set: %w", err)
	}
	return nil
}

// Invalidate removes the user's snapshot.
func (s *RedisStore) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return errMissingUserID
	}
	if err := s.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("feedcache: redis del: %w", err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("feedcache: redis ping: %w", err)
	}
	return client, nil
}

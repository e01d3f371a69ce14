package foryou

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/alxvallejo/read-api/internal/summarize"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPostLimit           = 25
	defaultSubredditFanout     = 10
	defaultPerSubredditLimit   = 15
	defaultRecommendationLimit = 5
	defaultFetchTimeout        = 8 * time.Second
	defaultReportStaleAfter    = 18 * time.Hour
	defaultSideEffectTimeout   = 15 * time.Second

	savedPostFetchLimit  = 50
	personaSampleSize    = 30
	hardBlockThreshold   = 5
	softPenaltyThreshold = 3
)

const (
	opServiceNew = "foryou.service.new"
)

var noOpLogger = zap.NewNop()

// PostSource is the Reddit surface the feed pipeline reads from.
type PostSource interface {
	ListTopPosts(ctx context.Context, token, subreddit string, limit int) ([]reddit.Post, error)
	GetByID(ctx context.Context, token, postID string) (reddit.Post, error)
	ListSavedPosts(ctx context.Context, token string, limit int) ([]reddit.Post, error)
	MarkSaved(ctx context.Context, token, postID string) error
	ListSubscriptions(ctx context.Context, token string) ([]string, error)
}

// Completer is the summarization surface. When Available reports false every caller falls back.
type Completer interface {
	Available() bool
	ResolveModel(requested string) string
	Complete(ctx context.Context, request summarize.CompletionRequest) (string, error)
}

// FeedCache stores one assembled feed snapshot per user.
type FeedCache interface {
	Load(ctx context.Context, userID string) ([]byte, bool, error)
	Save(ctx context.Context, userID string, payload []byte) error
	Invalidate(ctx context.Context, userID string) error
}

// IDProvider issues primary keys for new triage records.
type IDProvider interface {
	NewID() (string, error)
}

// Limits tunes feed assembly and report cadence. Zero values take defaults.
type Limits struct {
	PostLimit           int
	SubredditFanout     int
	PerSubredditLimit   int
	RecommendationLimit int
	FetchTimeout        time.Duration
	ReportStaleAfter    time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.PostLimit <= 0 {
		l.PostLimit = defaultPostLimit
	}
	if l.SubredditFanout <= 0 {
		l.SubredditFanout = defaultSubredditFanout
	}
	if l.PerSubredditLimit <= 0 {
		l.PerSubredditLimit = defaultPerSubredditLimit
	}
	if l.RecommendationLimit <= 0 {
		l.RecommendationLimit = defaultRecommendationLimit
	}
	if l.FetchTimeout <= 0 {
		l.FetchTimeout = defaultFetchTimeout
	}
	if l.ReportStaleAfter <= 0 {
		l.ReportStaleAfter = defaultReportStaleAfter
	}
	return l
}

// ServiceConfig wires the For-You service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Source     PostSource
	Completer  Completer
	Cache      FeedCache
	Limits     Limits
}

// Service implements persona building, reputation tracking, feed assembly, triage and reports.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	source     PostSource
	completer  Completer
	cache      FeedCache
	limits     Limits

	sideEffects sync.WaitGroup
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, internalError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, internalError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Source == nil {
		return nil, internalError(opServiceNew, "missing_source", errMissingSource)
	}
	if cfg.Completer == nil {
		return nil, internalError(opServiceNew, "missing_completer", errMissingCompleter)
	}
	if cfg.Cache == nil {
		return nil, internalError(opServiceNew, "missing_cache", errMissingCache)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		source:     cfg.Source,
		completer:  cfg.Completer,
		cache:      cfg.Cache,
		limits:     cfg.Limits.withDefaults(),
	}, nil
}

// Close waits for in-flight best-effort side effects to finish.
func (s *Service) Close() {
	s.sideEffects.Wait()
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func validateUserID(operation, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(operation, "missing_user_id", KindInvalidArgument, errMissingUserID)
	}
	return nil
}

func (s *Service) invalidateFeed(ctx context.Context, operation, userID string) error {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logError(operation, "cache_invalidate_failed", err, zap.String("user_id", userID))
		return internalError(operation, "cache_invalidate_failed", err)
	}
	return nil
}

// runDetached runs fn on a context that outlives the request. Failures are logged, never returned.
func (s *Service) runDetached(ctx context.Context, operation string, fn func(context.Context) error, fields ...zap.Field) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSideEffectTimeout)
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		defer cancel()
		if err := fn(detached); err != nil {
			s.logWarn(operation, "side_effect_failed", err, fields...)
		}
	}()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	s.loggerOrDefault().Error("foryou service error", logFields(operation, reason, err, fields)...)
}

func (s *Service) logWarn(operation, reason string, err error, fields ...zap.Field) {
	s.loggerOrDefault().Warn("foryou degraded", logFields(operation, reason, err, fields)...)
}

func logFields(operation, reason string, err error, fields []zap.Field) []zap.Field {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	return append(attrs, fields...)
}

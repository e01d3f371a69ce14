package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alxvallejo/read-api/internal/auth"
	"github.com/alxvallejo/read-api/internal/foryou"
	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "readapi_user_id"
	redditTokenHeader = "X-Reddit-Token"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingForYouService    = errors.New("for-you service dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type UserResolver interface {
	ResolveUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// ForYouService is the domain surface the HTTP layer exposes.
type ForYouService interface {
	GetFeed(ctx context.Context, userID, token string, forceRefresh bool) (foryou.FeedResponse, error)
	RecordTriage(ctx context.Context, userID, token, postID string, action foryou.Action) (foryou.TriageResult, error)
	TriageCounts(ctx context.Context, userID string) (foryou.TriageCounts, error)
	GetPersona(ctx context.Context, userID string) (foryou.Profile, error)
	RefreshPersona(ctx context.Context, userID, token string) (foryou.Profile, error)
	ListStarred(ctx context.Context, userID string) ([]string, error)
	StarSubreddit(ctx context.Context, userID, subreddit string) ([]string, error)
	UnstarSubreddit(ctx context.Context, userID, subreddit string) ([]string, error)
	ListBlockedSubreddits(ctx context.Context, userID string) ([]foryou.BlockedSubreddit, error)
	SetSubredditBlock(ctx context.Context, userID, subreddit string, blocked bool) (foryou.BlockResult, error)
	DismissSubreddit(ctx context.Context, userID, subreddit string) (foryou.DismissResult, error)
	SyncSubscriptions(ctx context.Context, userID, token string) ([]string, error)
	GenerateReport(ctx context.Context, userID, requestedModel string) (foryou.ReportView, error)
	GetLatestReport(ctx context.Context, userID string) (foryou.ReportView, error)
}

type Dependencies struct {
	Sessions       SessionValidator
	Users          UserResolver
	ForYou         ForYouService
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.ForYou == nil {
		return nil, errMissingForYouService
	}
	if err := registerValidations(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())
	if len(deps.AllowedOrigins) == 0 {
		logger.Warn("no allowed origins configured; reflecting any origin without credentials")
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions: deps.Sessions,
		users:    deps.Users,
		forYou:   deps.ForYou,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	feed := protected.Group("/foryou")
	feed.GET("/feed", handler.handleGetFeed)
	feed.POST("/triage", handler.handleTriage)
	feed.GET("/triage/counts", handler.handleTriageCounts)
	feed.GET("/persona", handler.handleGetPersona)
	feed.POST("/persona/refresh", handler.handleRefreshPersona)
	feed.GET("/starred", handler.handleListStarred)
	feed.PUT("/starred/:subreddit", handler.handleStar)
	feed.DELETE("/starred/:subreddit", handler.handleUnstar)
	feed.GET("/subreddits/blocked", handler.handleListBlocked)
	feed.POST("/subreddits/:subreddit/block", handler.handleBlock)
	feed.POST("/subreddits/:subreddit/dismiss", handler.handleDismiss)
	feed.POST("/subscriptions/sync", handler.handleSyncSubscriptions)

	protected.POST("/reports", handler.handleGenerateReport)
	protected.GET("/reports/latest", handler.handleLatestReport)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", redditTokenHeader},
		MaxAge:       12 * time.Hour,
	}
	// Cookies are only sent cross-origin to explicitly configured origins.
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

var (
	validationsOnce sync.Once
	validationsErr  error
)

// registerValidations installs the "subreddit" rule on gin's validator engine.
func registerValidations() error {
	validationsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			validationsErr = errors.New("unexpected binding validator engine")
			return
		}
		validationsErr = engine.RegisterValidation("subreddit", func(fl validator.FieldLevel) bool {
			_, err := foryou.NormalizeSubreddit(fl.Field().String())
			return err == nil
		})
	})
	return validationsErr
}

type httpHandler struct {
	sessions SessionValidator
	users    UserResolver
	forYou   ForYouService
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func redditToken(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(redditTokenHeader))
}

// respondError maps service error kinds onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var serviceErr *foryou.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified handler error", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(statusForKind(serviceErr.Kind()), gin.H{"error": serviceErr.Code()})
}

func statusForKind(kind foryou.ErrorKind) int {
	switch kind {
	case foryou.KindInvalidArgument:
		return http.StatusBadRequest
	case foryou.KindUnauthenticated:
		return http.StatusUnauthorized
	case foryou.KindNotFound:
		return http.StatusNotFound
	case foryou.KindNoContent, foryou.KindNothingToReport:
		return http.StatusUnprocessableEntity
	case foryou.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

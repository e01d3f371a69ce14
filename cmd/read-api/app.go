package main

import (
	"context"
	"time"

	"github.com/alxvallejo/read-api/internal/config"
	"github.com/alxvallejo/read-api/internal/database"
	"github.com/alxvallejo/read-api/internal/feedcache"
	"github.com/alxvallejo/read-api/internal/foryou"
	"github.com/alxvallejo/read-api/internal/reddit"
	"github.com/alxvallejo/read-api/internal/summarize"
	"github.com/alxvallejo/read-api/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds every long-lived handle the process owns.
type application struct {
	db      *gorm.DB
	forYou  *foryou.Service
	users   *users.Service
	closers []func() error
	logger  *zap.Logger
}

func buildApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{logger: logger}

	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return nil, err
	}
	app.db = db
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	cache, err := buildFeedCache(ctx, appConfig, db, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	redditClient, err := reddit.NewClient(reddit.ClientConfig{
		BaseURL:   appConfig.Reddit.APIURL,
		UserAgent: appConfig.Reddit.UserAgent,
		Timeout:   appConfig.Reddit.Timeout,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	summarizer, err := summarize.New(summarize.Config{
		APIKey:         appConfig.LLM.APIKey,
		BaseURL:        appConfig.LLM.BaseURL,
		DefaultModel:   appConfig.LLM.DefaultModel,
		AllowedModels:  appConfig.LLM.AllowedModels,
		Timeout:        appConfig.LLM.Timeout,
		MaxConcurrency: appConfig.LLM.MaxConcurrency,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	if !summarizer.Available() {
		logger.Info("summarization disabled; persona and report fallbacks in use")
	}

	forYouService, err := foryou.NewService(foryou.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: foryou.UUIDv7Provider{},
		Logger:     logger,
		Source:     redditClient,
		Completer:  summarizer,
		Cache:      cache,
		Limits: foryou.Limits{
			PostLimit:           appConfig.Feed.PostLimit,
			SubredditFanout:     appConfig.Feed.SubredditFanout,
			PerSubredditLimit:   appConfig.Feed.PerSubredditLimit,
			RecommendationLimit: appConfig.Feed.RecommendationLimit,
			FetchTimeout:        appConfig.Feed.FetchTimeout,
			ReportStaleAfter:    appConfig.Reports.StaleAfter,
		},
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.forYou = forYouService

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.users = userService

	return app, nil
}

func buildFeedCache(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, app *application) (foryou.FeedCache, error) {
	if appConfig.Cache.Backend != config.CacheRedis {
		return feedcache.NewDatabaseStore(db, time.Now)
	}
	client, err := feedcache.NewRedisClient(ctx, appConfig.Cache.RedisAddr, appConfig.Cache.RedisPassword, appConfig.Cache.RedisDB)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, client.Close)
	app.logger.Info("feed cache backed by redis", zap.String("addr", appConfig.Cache.RedisAddr))
	return feedcache.NewRedisStore(client)
}

// Close waits for in-flight side effects before releasing store handles.
func (a *application) Close() {
	if a.forYou != nil {
		a.forYou.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the cron engine for background jobs. Specs use the six-field form with seconds.
type Scheduler struct {
	engine *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine: cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger: logger}))),
		logger: logger,
	}
}

// Register adds a job under the given spec. An empty spec leaves the job disabled.
func (s *Scheduler) Register(name, spec string, job cron.Job) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.logger.Info("cron job disabled", zap.String("job", name))
		return nil
	}
	if _, err := s.engine.AddJob(spec, job); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.logger.Info("cron job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return len(s.engine.Entries())
}

func (s *Scheduler) Start() {
	s.logger.Info("cron scheduler starting")
	s.engine.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("cron scheduler stopping")
	done := s.engine.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("cron jobs still running at shutdown")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

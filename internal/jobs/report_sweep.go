package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/alxvallejo/read-api/internal/foryou"
	"go.uber.org/zap"
)

const defaultSweepTimeout = 10 * time.Minute

// ReportGenerator is the slice of the For-You service the sweep drives.
type ReportGenerator interface {
	StaleReportUsers(ctx context.Context) ([]string, error)
	GenerateReport(ctx context.Context, userID, requestedModel string) (foryou.ReportView, error)
}

// SweepSummary counts the outcome of one sweep.
type SweepSummary struct {
	Due       int
	Generated int
	Skipped   int
	Failed    int
}

// ReportSweepJob regenerates reports for every user whose standing report is missing or stale.
type ReportSweepJob struct {
	generator ReportGenerator
	logger    *zap.Logger
	timeout   time.Duration
}

func NewReportSweepJob(generator ReportGenerator, logger *zap.Logger) *ReportSweepJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportSweepJob{generator: generator, logger: logger, timeout: defaultSweepTimeout}
}

// Run satisfies cron.Job.
func (j *ReportSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("report sweep failed", zap.Error(err))
	}
}

// Sweep generates reports one user at a time. Per-user failures are logged and skipped.
func (j *ReportSweepJob) Sweep(ctx context.Context) (SweepSummary, error) {
	userIDs, err := j.generator.StaleReportUsers(ctx)
	if err != nil {
		return SweepSummary{}, err
	}
	summary := SweepSummary{Due: len(userIDs)}
	j.logger.Info("report sweep started", zap.Int("due", len(userIDs)))

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := j.generator.GenerateReport(ctx, userID, "")
		switch {
		case err == nil:
			summary.Generated++
			j.logger.Info("report generated",
				zap.String("user_id", userID),
				zap.Int("post_count", report.PostCount),
				zap.Bool("fallback", report.Fallback))
		case errors.Is(err, foryou.ErrNothingToReport):
			summary.Skipped++
		default:
			summary.Failed++
			j.logger.Warn("report generation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	j.logger.Info("report sweep finished",
		zap.Int("generated", summary.Generated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

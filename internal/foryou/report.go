package foryou

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alxvallejo/read-api/internal/metrics"
	"github.com/alxvallejo/read-api/internal/summarize"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opGenerateReport   = "foryou.generate_report"
	opGetLatestReport  = "foryou.get_latest_report"
	opStaleReportUsers = "foryou.stale_report_users"
)

const reportSystemPrompt = `You write a reading digest for one person from the Reddit posts they saved.
Group the posts by theme rather than by subreddit. For each group write a short heading and a two or
three sentence summary of what the posts cover. Then call out the standout items worth reading first,
and finish with a suggested reading order. Use markdown and link each post by its url.`

func (s *Service) isStale(report Report) bool {
	return s.now().Sub(report.GeneratedAt) > s.limits.ReportStaleAfter
}

// GenerateReport digests every saved post into the user's standing report and marks them read. When the
// previous report is stale the seen and dismissed state is reset first.
func (s *Service) GenerateReport(ctx context.Context, userID, requestedModel string) (ReportView, error) {
	if err := validateUserID(opGenerateReport, userID); err != nil {
		return ReportView{}, err
	}

	standing, found, err := loadReport(ctx, s.db, userID)
	if err != nil {
		s.logError(opGenerateReport, "report_load_failed", err, zap.String("user_id", userID))
		return ReportView{}, internalError(opGenerateReport, "report_load_failed", err)
	}
	if found && s.isStale(standing) {
		now := s.now()
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return resetCycle(tx, userID, now)
		}); err != nil {
			s.logError(opGenerateReport, "cycle_reset_failed", err, zap.String("user_id", userID))
			return ReportView{}, internalError(opGenerateReport, "cycle_reset_failed", err)
		}
		s.loggerOrDefault().Info("foryou cycle reset",
			zap.String("user_id", userID), zap.Time("previous_report_at", standing.GeneratedAt))
		if err := s.invalidateFeed(ctx, opGenerateReport, userID); err != nil {
			return ReportView{}, err
		}
	}

	var saved []TriageRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND action = ?", userID, ActionSaved).
		Order("created_at ASC, id ASC").
		Find(&saved).Error; err != nil {
		s.logError(opGenerateReport, "saved_load_failed", err, zap.String("user_id", userID))
		return ReportView{}, internalError(opGenerateReport, "saved_load_failed", err)
	}
	if len(saved) == 0 {
		return ReportView{}, newServiceError(opGenerateReport, "no_saved_posts", KindNothingToReport, nil)
	}

	model := s.completer.ResolveModel(requestedModel)
	content, fallback := s.composeReport(ctx, userID, model, saved)

	report := Report{
		UserID:      userID,
		Model:       model,
		PostCount:   len(saved),
		Content:     content,
		Fallback:    fallback,
		GeneratedAt: s.now(),
	}
	recordIDs := make([]string, 0, len(saved))
	for _, record := range saved {
		recordIDs = append(recordIDs, record.ID)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(&report).Error; err != nil {
			return fmt.Errorf("upsert report: %w", err)
		}
		if err := tx.Model(&TriageRecord{}).
			Where("user_id = ? AND id IN ?", userID, recordIDs).
			Updates(map[string]interface{}{"action": ActionAlreadyRead.String(), "updated_at": report.GeneratedAt}).Error; err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opGenerateReport, "report_store_failed", txErr, zap.String("user_id", userID))
		return ReportView{}, internalError(opGenerateReport, "report_store_failed", txErr)
	}

	if err := s.invalidateFeed(ctx, opGenerateReport, userID); err != nil {
		return ReportView{}, err
	}
	return report.View(), nil
}

// composeReport asks the summarizer for a digest and falls back to a plain list. The bool reports the fallback.
func (s *Service) composeReport(ctx context.Context, userID, model string, saved []TriageRecord) (string, bool) {
	if !s.completer.Available() {
		metrics.SummarizeFallbacks.WithLabelValues("report").Inc()
		return plainReport(saved), true
	}
	content, err := s.completer.Complete(ctx, summarize.CompletionRequest{
		System: reportSystemPrompt,
		User:   buildReportPrompt(saved),
		Model:  model,
	})
	if err == nil && strings.TrimSpace(content) == "" {
		err = summarize.ErrEmptyResponse
	}
	if err != nil {
		metrics.SummarizeFallbacks.WithLabelValues("report").Inc()
		s.logWarn(opGenerateReport, "completion_failed", err, zap.String("user_id", userID))
		return plainReport(saved), true
	}
	return strings.TrimSpace(content), false
}

func buildReportPrompt(saved []TriageRecord) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Saved posts (%d):\n", len(saved))
	for index, record := range saved {
		fmt.Fprintf(&builder, "%d. r/%s | %s | %s\n", index+1, record.Subreddit, reportTitle(record), reportLink(record))
	}
	return builder.String()
}

func plainReport(saved []TriageRecord) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Saved posts (%d)\n\n", len(saved))
	for index, record := range saved {
		fmt.Fprintf(&builder, "%d. [r/%s] %s - %s\n", index+1, record.Subreddit, reportTitle(record), reportLink(record))
	}
	return strings.TrimRight(builder.String(), "\n")
}

func reportTitle(record TriageRecord) string {
	if title := strings.TrimSpace(record.Title); title != "" {
		return title
	}
	return "post " + record.RedditPostID
}

func reportLink(record TriageRecord) string {
	if record.URL != "" {
		return record.URL
	}
	if record.Permalink != "" {
		return "https://www.reddit.com" + record.Permalink
	}
	return "https://www.reddit.com/comments/" + record.RedditPostID
}

// GetLatestReport returns the standing report unless it is missing or stale.
func (s *Service) GetLatestReport(ctx context.Context, userID string) (ReportView, error) {
	if err := validateUserID(opGetLatestReport, userID); err != nil {
		return ReportView{}, err
	}
	report, found, err := loadReport(ctx, s.db, userID)
	if err != nil {
		s.logError(opGetLatestReport, "query_failed", err, zap.String("user_id", userID))
		return ReportView{}, internalError(opGetLatestReport, "query_failed", err)
	}
	if !found || s.isStale(report) {
		return ReportView{}, newServiceError(opGetLatestReport, "report_missing", KindNotFound, nil)
	}
	return report.View(), nil
}

// StaleReportUsers lists users holding saved posts whose standing report is missing or stale.
func (s *Service) StaleReportUsers(ctx context.Context) ([]string, error) {
	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&TriageRecord{}).
		Where("action = ?", ActionSaved).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error; err != nil {
		s.logError(opStaleReportUsers, "saved_users_failed", err)
		return nil, internalError(opStaleReportUsers, "saved_users_failed", err)
	}
	if len(userIDs) == 0 {
		return []string{}, nil
	}

	var reports []Report
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&reports).Error; err != nil {
		s.logError(opStaleReportUsers, "reports_load_failed", err)
		return nil, internalError(opStaleReportUsers, "reports_load_failed", err)
	}
	fresh := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		if !s.isStale(report) {
			fresh[report.UserID] = struct{}{}
		}
	}

	due := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := fresh[userID]; !ok {
			due = append(due, userID)
		}
	}
	return due, nil
}

func loadReport(ctx context.Context, db *gorm.DB, userID string) (Report, bool, error) {
	var report Report
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	return report, true, nil
}

// View converts the stored row into its read model.
func (r Report) View() ReportView {
	return ReportView{
		Model:       r.Model,
		PostCount:   r.PostCount,
		Content:     r.Content,
		GeneratedAt: r.GeneratedAt,
		Fallback:    r.Fallback,
	}
}

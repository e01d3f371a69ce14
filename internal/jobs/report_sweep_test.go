package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alxvallejo/read-api/internal/foryou"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubGenerator struct {
	due      []string
	dueErr   error
	failures map[string]error
	calls    []string
	models   []string
}

func (s *stubGenerator) StaleReportUsers(context.Context) ([]string, error) {
	return s.due, s.dueErr
}

func (s *stubGenerator) GenerateReport(_ context.Context, userID, requestedModel string) (foryou.ReportView, error) {
	s.calls = append(s.calls, userID)
	s.models = append(s.models, requestedModel)
	if err := s.failures[userID]; err != nil {
		return foryou.ReportView{}, err
	}
	return foryou.ReportView{Model: "gpt-4o-mini", PostCount: 2, Content: "digest"}, nil
}

func TestReportSweepSkipsFailuresAndEmptyUsers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	generator := &stubGenerator{
		due: []string{"alice", "bob", "carol"},
		failures: map[string]error{
			"bob":   fmt.Errorf("wrapped: %w", foryou.ErrNothingToReport),
			"carol": errors.New("database closed"),
		},
	}
	job := NewReportSweepJob(generator, zap.New(core))

	summary, err := job.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepSummary{Due: 3, Generated: 1, Skipped: 1, Failed: 1}, summary)
	assert.Equal(t, []string{"alice", "bob", "carol"}, generator.calls)
	assert.Equal(t, []string{"", "", ""}, generator.models)
	assert.Equal(t, 1, logs.FilterMessage("report generation failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("report generated").Len())
}

func TestReportSweepStopsWhenListingFails(t *testing.T) {
	generator := &stubGenerator{dueErr: errors.New("query failed")}
	job := NewReportSweepJob(generator, nil)

	_, err := job.Sweep(context.Background())
	require.Error(t, err)
	assert.Empty(t, generator.calls)
}

func TestReportSweepHonorsCancellation(t *testing.T) {
	generator := &stubGenerator{due: []string{"alice", "bob"}}
	job := NewReportSweepJob(generator, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := job.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Due)
	assert.Empty(t, generator.calls)
}

func TestReportSweepRunLogsListingFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	job := NewReportSweepJob(&stubGenerator{dueErr: errors.New("query failed")}, zap.New(core))

	job.Run()

	assert.Equal(t, 1, logs.FilterMessage("report sweep failed").Len())
}

func TestSchedulerRegister(t *testing.T) {
	scheduler := NewScheduler(nil)
	job := NewReportSweepJob(&stubGenerator{}, nil)

	require.NoError(t, scheduler.Register("report_sweep", "0 0 6 * * *", job))
	require.NoError(t, scheduler.Register("disabled", "  ", job))
	assert.Error(t, scheduler.Register("broken", "every morning", job))
	assert.Equal(t, 1, scheduler.Jobs())

	scheduler.Start()
	scheduler.Stop(context.Background())
}

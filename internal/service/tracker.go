package service

import (
	"context"
	"fmt"
	"time"

	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// Counts are the per-outcome event totals of one run.
type Counts struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SyncTracker audits ingestion runs in blockchain_pool_sync_runs.
type SyncTracker struct {
	repo *repository.SyncRunRepository
	now  func() time.Time
}

func NewSyncTracker(repo *repository.SyncRunRepository) *SyncTracker {
	return &SyncTracker{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a running run and returns its id.
func (t *SyncTracker) Start(ctx context.Context, jobName, source, network string, fromBlock, toBlock int64) (uint64, error) {
	run := &models.SyncRun{
		JobName:   jobName,
		Source:    source,
		Network:   network,
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		StartTime: t.now(),
		Status:    models.SyncRunRunning,
	}
	if err := t.repo.Create(ctx, run); err != nil {
		return 0, errors.New(errors.ErrSyncRun, "start sync run", err)
	}
	return run.ID, nil
}

// Complete finalizes run id. The duration is measured from the stored start time.
// A run with failed events still completes; only runErr marks it failed.
func (t *SyncTracker) Complete(ctx context.Context, id uint64, counts Counts, runErr error) error {
	run, err := t.repo.Get(ctx, id)
	if err != nil {
		return errors.New(errors.ErrSyncRun, "load sync run", err)
	}
	if run == nil {
		return errors.New(errors.ErrSyncRun, fmt.Sprintf("sync run %d not found", id), nil)
	}

	end := t.now()
	duration := end.Sub(run.StartTime).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	status := models.SyncRunCompleted
	message := ""
	if runErr != nil {
		status = models.SyncRunFailed
		message = runErr.Error()
	}

	updated, err := t.repo.Finalize(ctx, id, map[string]interface{}{
		"status":           status,
		"end_time":         end,
		"events_found":     counts.Found,
		"events_processed": counts.Processed,
		"events_skipped":   counts.Skipped,
		"events_failed":    counts.Failed,
		"duration_ms":      duration,
		"error_message":    message,
	})
	if err != nil {
		return errors.New(errors.ErrSyncRun, "finalize sync run", err)
	}
	if !updated {
		return errors.New(errors.ErrSyncRun, fmt.Sprintf("sync run %d already finalized", id), nil)
	}

	logger.WithFields(map[string]interface{}{
		"run_id":      id,
		"job":         run.JobName,
		"source":      run.Source,
		"status":      status,
		"found":       counts.Found,
		"processed":   counts.Processed,
		"skipped":     counts.Skipped,
		"failed":      counts.Failed,
		"duration_ms": duration,
	}).Info("sync run finished")
	return nil
}

func (t *SyncTracker) Recent(ctx context.Context, jobName string, limit int) ([]models.SyncRun, error) {
	return t.repo.ListRecent(ctx, jobName, limit)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/guardpost/guardpost/internal/audit"
	jobmetrics "github.com/guardpost/guardpost/internal/jobs"
)

// AuditPruneJob trims the audit trail to the retention window.
type AuditPruneJob struct {
	Audit     *audit.Service
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAuditPruneJob wires dependencies for the prune handler.
func NewAuditPruneJob(auditSvc *audit.Service, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{Audit: auditSvc, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes audit prune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := j.Retention
	if payload.RetentionDays > 0 {
		retention = time.Duration(payload.RetentionDays) * 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	deleted, err := j.Audit.Prune(ctx, retention)
	if err != nil {
		resultErr = err
		j.logger().Error("prune audit entries", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("pruned audit entries", slog.Int64("deleted", deleted), slog.Duration("retention", retention))
	return resultErr
}

func (j *AuditPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditPrune))
	}
	return slog.Default().With(slog.String("job", TaskAuditPrune))
}

func (j *AuditPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

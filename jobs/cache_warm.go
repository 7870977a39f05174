package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/guardpost/guardpost/internal/jobs"
	"github.com/guardpost/guardpost/internal/resolver"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionCache is the slice of the cache API the warm job needs.
type PermissionCache interface {
	Get(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error)
}

// CacheWarmJob pre-resolves permission sets so the first authorization check
// after a deploy or flush does not pay the resolver cost.
type CacheWarmJob struct {
	Cache   PermissionCache
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmJob wires dependencies for the warm handler.
func NewCacheWarmJob(cache PermissionCache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmJob {
	return &CacheWarmJob{Cache: cache, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes cache warm tasks.
func (j *CacheWarmJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cache == nil {
		return errors.New("cache warm: handler not configured")
	}
	var payload CacheWarmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCacheWarm)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	ids := payload.PrincipalIDs
	if len(ids) == 0 {
		var err error
		ids, err = j.grantedPrincipals(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load principals for warmup", slog.Any("error", err))
			return resultErr
		}
	}
	if len(ids) == 0 {
		logger.Info("no principals to warm")
		return resultErr
	}

	warmed := 0
	for _, id := range ids {
		// Bound each resolution so one slow principal cannot stall the run.
		warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := j.Cache.Get(warmCtx, id)
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("warm principal", slog.Int64("principal_id", id), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	j.metrics().AddWarmed(warmed)

	logger.Info("completed cache warmup", slog.Int("principals", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmJob) grantedPrincipals(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warm: pool not configured")
	}
	rows, err := j.Pool.Query(ctx,
		`SELECT principal_id FROM principal_roles
		 UNION
		 SELECT principal_id FROM principal_permissions
		 ORDER BY principal_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *CacheWarmJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarm))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarm))
}

func (j *CacheWarmJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/aman-churiwal/velero-api/internal/models"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

// RequestLogRepository stores the rows written by the request logger and
// answers the analytics queries over them.
type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func between(from, to time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp BETWEEN ? AND ?", from, to)
	}
}

func (r *RequestLogRepository) logs(ctx context.Context, from, to time.Time) *gorm.DB {
	return r.db.DB.WithContext(ctx).Model(&models.RequestLog{}).Scopes(between(from, to))
}

func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}
	return errors.Wrap(r.db.DB.WithContext(ctx).CreateInBatches(&logs, len(logs)).Error, "error inserting request logs")
}

// DeleteOldLogs removes rows older than before and reports how many went.
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).Where("timestamp < ?", before).Delete(&models.RequestLog{})
	return result.RowsAffected, errors.Wrap(result.Error, "error deleting old request logs")
}

func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.logs(ctx, from, to).Count(&count).Error
	return count, errors.Wrap(err, "error counting request logs")
}

func (r *RequestLogRepository) CountRateLimited(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.logs(ctx, from, to).Where("rate_limited = ?", true).Count(&count).Error
	return count, errors.Wrap(err, "error counting rate limited requests")
}

// CountByStatusCodeRange counts rows with minStatusCode <= status <= maxStatusCode, e.g. 500..599.
func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error) {
	var count int64
	err := r.logs(ctx, from, to).Where("status_code BETWEEN ? AND ?", minStatusCode, maxStatusCode).Count(&count).Error
	return count, errors.Wrapf(err, "error counting %d-%d responses", minStatusCode, maxStatusCode)
}

func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64
	err := r.logs(ctx, from, to).Select("COALESCE(AVG(response_time_ms), 0)").Scan(&avg).Error
	return avg, errors.Wrap(err, "error averaging response time")
}

func (r *RequestLogRepository) GetTopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]models.EndpointCount, error) {
	var results []models.EndpointCount
	err := r.logs(ctx, from, to).
		Select("path, COUNT(*) AS count").
		Group("path").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error
	return results, errors.Wrap(err, "error listing top endpoints")
}

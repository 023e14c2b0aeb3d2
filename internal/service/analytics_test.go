package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/velero-api/internal/models"
)

type fakeLogReader struct {
	total, rateLimited, clientErrors, serverErrors int64
	avg                                            float64
	top                                            []models.EndpointCount
	err                                            error
}

func (f *fakeLogReader) CountByTimeRange(context.Context, time.Time, time.Time) (int64, error) {
	return f.total, f.err
}

func (f *fakeLogReader) CountRateLimited(context.Context, time.Time, time.Time) (int64, error) {
	return f.rateLimited, nil
}

func (f *fakeLogReader) CountByStatusCodeRange(_ context.Context, minStatus, _ int, _, _ time.Time) (int64, error) {
	if minStatus >= 500 {
		return f.serverErrors, nil
	}
	return f.clientErrors, nil
}

func (f *fakeLogReader) GetAverageResponseTime(context.Context, time.Time, time.Time) (float64, error) {
	return f.avg, nil
}

func (f *fakeLogReader) GetTopEndpoints(context.Context, time.Time, time.Time, int) ([]models.EndpointCount, error) {
	return f.top, nil
}

func TestGetSummary(t *testing.T) {
	repo := &fakeLogReader{
		total:        200,
		rateLimited:  20,
		clientErrors: 30,
		serverErrors: 10,
		avg:          42.5,
		top:          []models.EndpointCount{{Path: "/api/v1/backups", Count: 150}},
	}
	to := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	summary, err := NewAnalyticsService(repo).GetSummary(context.Background(), to.Add(-24*time.Hour), to)
	require.NoError(t, err)
	assert.Equal(t, int64(200), summary.TotalRequests)
	assert.Equal(t, int64(20), summary.RateLimited)
	assert.InDelta(t, 20.0, summary.ErrorRate, 0.001)
	assert.InDelta(t, 80.0, summary.SuccessRate, 0.001)
	assert.InDelta(t, 15.0, summary.ClientErrorRate, 0.001)
	assert.InDelta(t, 5.0, summary.ServerErrorRate, 0.001)
	assert.Equal(t, 42.5, summary.AvgResponseTime)
	assert.Equal(t, repo.top, summary.TopEndpoints)
}

func TestGetSummaryEmptyRange(t *testing.T) {
	summary, err := NewAnalyticsService(&fakeLogReader{}).GetSummary(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalRequests)
	assert.Empty(t, summary.TopEndpoints)
	assert.NotNil(t, summary.TopEndpoints)
}

func TestGetSummaryError(t *testing.T) {
	_, err := NewAnalyticsService(&fakeLogReader{err: errors.New("db down")}).GetSummary(context.Background(), time.Time{}, time.Now())
	assert.Error(t, err)
}

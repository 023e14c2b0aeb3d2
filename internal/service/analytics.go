package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/velero-api/internal/models"
)

// RequestLogReader is the query side of the request log repository.
type RequestLogReader interface {
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	CountRateLimited(ctx context.Context, from, to time.Time) (int64, error)
	CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error)
	GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error)
	GetTopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]models.EndpointCount, error)
}

type AnalyticsService struct {
	repository RequestLogReader
}

func NewAnalyticsService(repo RequestLogReader) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	From            time.Time              `json:"from"`
	To              time.Time              `json:"to"`
	TotalRequests   int64                  `json:"total_requests"`
	RateLimited     int64                  `json:"rate_limited"`
	AvgResponseTime float64                `json:"avg_response_time_ms"`
	ErrorRate       float64                `json:"error_rate"`
	SuccessRate     float64                `json:"success_rate"`
	ClientErrorRate float64                `json:"client_error_rate"`
	ServerErrorRate float64                `json:"server_error_rate"`
	TopEndpoints    []models.EndpointCount `json:"top_endpoints"`
}

// Retrieves analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{From: from, To: to, TopEndpoints: []models.EndpointCount{}}

	totalRequests, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		return summary, nil
	}

	if summary.RateLimited, err = s.repository.CountRateLimited(ctx, from, to); err != nil {
		return nil, err
	}

	if summary.AvgResponseTime, err = s.repository.GetAverageResponseTime(ctx, from, to); err != nil {
		return nil, err
	}

	clientErrors, err := s.repository.CountByStatusCodeRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}

	serverErrors, err := s.repository.CountByStatusCodeRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	totalErrors := clientErrors + serverErrors
	summary.ErrorRate = (float64(totalErrors) / float64(totalRequests)) * 100
	summary.SuccessRate = 100 - summary.ErrorRate
	summary.ClientErrorRate = (float64(clientErrors) / float64(totalRequests)) * 100
	summary.ServerErrorRate = (float64(serverErrors) / float64(totalRequests)) * 100

	topEndpoints, err := s.repository.GetTopEndpoints(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	if topEndpoints != nil {
		summary.TopEndpoints = topEndpoints
	}

	return summary, nil
}

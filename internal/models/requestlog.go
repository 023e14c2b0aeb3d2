package models

import "time"

// Represents a logged API request
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	RequestID      string    `json:"request_id"`
	Principal      string    `gorm:"index" json:"principal,omitempty"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RateLimited    bool      `json:"rate_limited"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}

// EndpointCount is one row of the top endpoints query
type EndpointCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

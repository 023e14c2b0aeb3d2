package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/models"
)

// LogSink stores request logs. *repository.RequestLogRepository satisfies it.
type LogSink interface {
	CreateBatch(ctx context.Context, logs []models.RequestLog) error
}

type RequestLoggerOptions struct {
	BufferSize    int           // Default: 1000
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 5 seconds
	Logger        logrus.FieldLogger
}

// RequestLogger queues one entry per request and writes them to the sink in
// batches from a background worker.
type RequestLogger struct {
	sink          LogSink
	entries       chan models.RequestLog
	batchSize     int
	flushInterval time.Duration
	logger        logrus.FieldLogger
	done          chan struct{}
}

func NewRequestLogger(sink LogSink, opts RequestLoggerOptions) *RequestLogger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &RequestLogger{
		sink:          sink,
		entries:       make(chan models.RequestLog, opts.BufferSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		logger:        opts.Logger.WithField("component", "request-logger"),
		done:          make(chan struct{}),
	}
}

// Start runs the batching worker until ctx is done, then flushes what is queued.
func (r *RequestLogger) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		batch := make([]models.RequestLog, 0, r.batchSize)
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			// the worker may be flushing after ctx ended
			if err := r.sink.CreateBatch(context.WithoutCancel(ctx), batch); err != nil {
				r.logger.WithError(err).WithField("entries", len(batch)).Error("Failed to insert request logs")
			}
			batch = make([]models.RequestLog, 0, r.batchSize)
		}

		for {
			select {
			case entry := <-r.entries:
				batch = append(batch, entry)
				if len(batch) >= r.batchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			case <-ctx.Done():
				for {
					select {
					case entry := <-r.entries:
						batch = append(batch, entry)
					default:
						flush()
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (r *RequestLogger) Wait() {
	<-r.done
}

func (r *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.RequestLog{
			Timestamp:      start,
			RequestID:      c.GetString(requestIDKey),
			Principal:      auth.FromContext(c.Request.Context()).Identity(),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			RateLimited:    c.GetBool(rateLimitedKey),
		}

		select {
		case r.entries <- entry:
		default:
			r.logger.Warn("Request log buffer full, dropping entry")
		}
	}
}

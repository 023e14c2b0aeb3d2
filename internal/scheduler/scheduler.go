package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/metrics"
	"github.com/aman-churiwal/velero-api/internal/operation"
)

const (
	TickSpec       = "@every 1s"
	DefaultTimeout = 30 * time.Second
)

// Dispatcher invokes an operation in-process. *operation.Table satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, method, path string, params map[string]string, principal auth.Principal) (operation.Response, error)
}

// Publisher receives every refresh event.
type Publisher interface {
	Publish(ctx context.Context, msg []byte) error
}

type PublisherFunc func(ctx context.Context, msg []byte) error

func (f PublisherFunc) Publish(ctx context.Context, msg []byte) error {
	return f(ctx, msg)
}

// Event is the envelope pushed to publishers after a job fires.
type Event struct {
	Type      string          `json:"type"`
	Endpoint  string          `json:"endpoint"`
	Status    int             `json:"status"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type Options struct {
	Timeout time.Duration
	Clock   clock.PassiveClock
	Metrics *metrics.ServerMetrics
	Logger  logrus.FieldLogger
}

// Scheduler advances every registered job once per tick and fires the due
// ones concurrently. A job already running is skipped until it finishes.
type Scheduler struct {
	registry   *Registry
	dispatcher Dispatcher
	publishers []Publisher
	timeout    time.Duration
	clock      clock.PassiveClock
	metrics    *metrics.ServerMetrics
	logger     logrus.FieldLogger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

func New(registry *Registry, dispatcher Dispatcher, publishers []Publisher, opts Options) *Scheduler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		registry:   registry,
		dispatcher: dispatcher,
		publishers: publishers,
		timeout:    opts.Timeout,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		logger:     opts.Logger.WithField("component", "scheduler"),
		inFlight:   make(map[string]bool),
	}
}

// Tick advances every job by one second and starts the due ones. It does
// not wait for them and returns how many were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	started := 0
	for _, job := range s.registry.advance(1) {
		if !s.claim(job.Endpoint) {
			s.logger.WithField("endpoint", job.Endpoint).Debug("Cron job still running, skipping")
			continue
		}
		started++
		s.wg.Add(1)
		go s.run(ctx, job)
	}
	return started
}

// Wait blocks until every started job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Schedule adds the tick driver to c.
func (s *Scheduler) Schedule(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	id, err := c.AddFunc(TickSpec, func() { s.Tick(ctx) })
	return id, errors.Wrap(err, "error scheduling tick")
}

func (s *Scheduler) claim(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[endpoint] {
		return false
	}
	s.inFlight[endpoint] = true
	return true
}

func (s *Scheduler) release(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, endpoint)
}

type result struct {
	resp operation.Response
	err  error
}

func (s *Scheduler) run(ctx context.Context, job CronJob) {
	defer s.wg.Done()

	resp, ok := s.fire(ctx, job)
	if !ok {
		return
	}

	// The endpoint is released before fan-out, so a slow publisher never
	// holds up the next run of the job.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.publish(ctx, job.Endpoint, resp)
}

// fire dispatches job and reports whether it completed.
func (s *Scheduler) fire(ctx context.Context, job CronJob) (operation.Response, bool) {
	defer s.release(job.Endpoint)

	log := s.logger.WithField("endpoint", job.Endpoint)
	start := s.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.Errorf("panic: %v", r)}
			}
		}()
		resp, err := s.dispatcher.Dispatch(ctx, http.MethodGet, job.Endpoint, nil, auth.Scheduler)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		s.metrics.RegisterJobRun(job.Endpoint, metrics.ResultTimeout, s.clock.Since(start))
		log.WithError(ctx.Err()).Warn("Cron job timed out")
		return operation.Response{}, false
	}

	took := s.clock.Since(start)
	if res.err != nil {
		s.metrics.RegisterJobRun(job.Endpoint, metrics.ResultFailure, took)
		log.WithError(res.err).Error("Cron job failed")
		return operation.Response{}, false
	}

	s.registry.markFired(job.Endpoint)
	s.metrics.RegisterJobRun(job.Endpoint, metrics.ResultSuccess, took)
	log.WithFields(logrus.Fields{"status": res.resp.Status, "took": took}).Debug("Cron job fired")
	return res.resp, true
}

func (s *Scheduler) publish(ctx context.Context, endpoint string, resp operation.Response) {
	data := json.RawMessage(resp.Body)
	if !json.Valid(data) {
		data, _ = json.Marshal(string(resp.Body))
	}

	msg, err := json.Marshal(Event{
		Type:      "refresh",
		Endpoint:  endpoint,
		Status:    resp.Status,
		Data:      data,
		Timestamp: s.clock.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("endpoint", endpoint).Error("Error encoding refresh event")
		return
	}

	for i, p := range s.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"endpoint":  endpoint,
				"publisher": i,
			}).Warn("Error publishing refresh event")
		}
	}
}

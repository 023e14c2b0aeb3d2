package scheduler

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CronJob is a periodic refresh of one endpoint. ElapsedSeconds starts past
// the interval so a new job fires on the first tick.
type CronJob struct {
	Endpoint           string
	CredentialRequired bool
	IntervalSeconds    int
	ElapsedSeconds     int
}

func (j CronJob) Due() bool {
	return j.ElapsedSeconds > j.IntervalSeconds
}

// Registry holds cron jobs keyed by endpoint. Jobs are never removed.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*CronJob
	order  []string
	logger logrus.FieldLogger
}

func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		jobs:   make(map[string]*CronJob),
		logger: logger,
	}
}

// Register adds a job or updates the flag and interval of an existing one,
// keeping its elapsed counter. It returns false for an empty endpoint or a
// non-positive interval.
func (r *Registry) Register(endpoint string, credentialRequired bool, intervalSeconds int) bool {
	log := r.logger.WithFields(logrus.Fields{"endpoint": endpoint, "interval": intervalSeconds})
	if endpoint == "" || intervalSeconds <= 0 {
		log.Warn("Refusing to register cron job")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[endpoint]; ok {
		job.CredentialRequired = credentialRequired
		job.IntervalSeconds = intervalSeconds
		log.Debug("Updated cron job")
		return true
	}

	r.jobs[endpoint] = &CronJob{
		Endpoint:           endpoint,
		CredentialRequired: credentialRequired,
		IntervalSeconds:    intervalSeconds,
		ElapsedSeconds:     intervalSeconds + 1,
	}
	r.order = append(r.order, endpoint)
	log.Info("Registered cron job")
	return true
}

// Jobs returns a copy of every job in registration order.
func (r *Registry) Jobs() []CronJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CronJob, 0, len(r.order))
	for _, endpoint := range r.order {
		out = append(out, *r.jobs[endpoint])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// advance adds delta to every job and returns the ones now due. Due means
// elapsed exceeds the interval and a fired job restarts from zero, so with
// one-second ticks a job runs every interval+1 seconds.
func (r *Registry) advance(delta int) []CronJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []CronJob
	for _, endpoint := range r.order {
		job := r.jobs[endpoint]
		job.ElapsedSeconds += delta
		if job.Due() {
			due = append(due, *job)
		}
	}
	return due
}

func (r *Registry) markFired(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[endpoint]; ok {
		job.ElapsedSeconds = 0
	}
}

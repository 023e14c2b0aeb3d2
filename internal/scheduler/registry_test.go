package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/velero-api/internal/logging"
)

func TestRegisterNewJobIsDueImmediately(t *testing.T) {
	r := NewRegistry(logging.Discard())
	require.True(t, r.Register("/api/v1/stats", true, 300))

	jobs := r.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 301, jobs[0].ElapsedSeconds)
	assert.True(t, jobs[0].Due())
}

func TestRegisterRejectsInvalidJobs(t *testing.T) {
	r := NewRegistry(logging.Discard())

	assert.False(t, r.Register("", true, 10))
	assert.False(t, r.Register("/api/v1/stats", true, 0))
	assert.False(t, r.Register("/api/v1/stats", true, -5))
	assert.Zero(t, r.Len())
}

func TestRegisterUpsertKeepsElapsed(t *testing.T) {
	r := NewRegistry(logging.Discard())
	require.True(t, r.Register("/api/v1/backups", true, 10))
	r.markFired("/api/v1/backups")
	r.advance(4)

	require.True(t, r.Register("/api/v1/backups", false, 20))

	jobs := r.Jobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].CredentialRequired)
	assert.Equal(t, 20, jobs[0].IntervalSeconds)
	assert.Equal(t, 4, jobs[0].ElapsedSeconds)
}

func TestJobsKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry(logging.Discard())
	for _, endpoint := range []string{"/c", "/a", "/b"} {
		require.True(t, r.Register(endpoint, false, 5))
	}
	r.Register("/a", true, 7)

	var endpoints []string
	for _, j := range r.Jobs() {
		endpoints = append(endpoints, j.Endpoint)
	}
	assert.Equal(t, []string{"/c", "/a", "/b"}, endpoints)
}

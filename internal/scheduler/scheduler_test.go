package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/logging"
	"github.com/aman-churiwal/velero-api/internal/operation"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	calls      map[string]int
	principals []auth.Principal
	respond    func(ctx context.Context, path string) (operation.Response, error)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(map[string]int)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, _ string, path string, _ map[string]string, principal auth.Principal) (operation.Response, error) {
	f.mu.Lock()
	f.calls[path]++
	f.principals = append(f.principals, principal)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, path)
	}
	return operation.Response{Status: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
}

func (f *fakeDispatcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func newTestScheduler(d Dispatcher, publishers ...Publisher) (*Scheduler, *Registry) {
	registry := NewRegistry(logging.Discard())
	s := New(registry, d, publishers, Options{Timeout: time.Second, Logger: logging.Discard()})
	return s, registry
}

func tickAndWait(s *Scheduler) int {
	n := s.Tick(context.Background())
	s.Wait()
	return n
}

func TestTickFiresByInterval(t *testing.T) {
	d := newFakeDispatcher()
	s, r := newTestScheduler(d)
	r.Register("/a", true, 2)
	r.Register("/b", true, 5)

	fired := map[int][]string{}
	for tick := 1; tick <= 5; tick++ {
		beforeA, beforeB := d.count("/a"), d.count("/b")
		tickAndWait(s)
		if d.count("/a") > beforeA {
			fired[tick] = append(fired[tick], "/a")
		}
		if d.count("/b") > beforeB {
			fired[tick] = append(fired[tick], "/b")
		}
	}

	assert.Equal(t, 2, d.count("/a"))
	assert.Equal(t, 1, d.count("/b"))
	assert.Equal(t, map[int][]string{1: {"/a", "/b"}, 4: {"/a"}}, fired)
}

func TestFiredJobWaitsFullInterval(t *testing.T) {
	d := newFakeDispatcher()
	s, r := newTestScheduler(d)
	r.Register("/api/v1/stats", true, 300)

	tickAndWait(s)
	require.Equal(t, 1, d.count("/api/v1/stats"))

	for i := 0; i < 300; i++ {
		tickAndWait(s)
	}
	assert.Equal(t, 1, d.count("/api/v1/stats"))
	assert.Equal(t, 300, r.Jobs()[0].ElapsedSeconds)
	assert.False(t, r.Jobs()[0].Due())

	tickAndWait(s)
	assert.Equal(t, 2, d.count("/api/v1/stats"))
	assert.Zero(t, r.Jobs()[0].ElapsedSeconds)
}

func TestJobsRunAsScheduler(t *testing.T) {
	d := newFakeDispatcher()
	s, r := newTestScheduler(d)
	r.Register("/api/v1/backups", true, 10)

	tickAndWait(s)
	require.Len(t, d.principals, 1)
	assert.Equal(t, auth.Scheduler, d.principals[0])
}

func TestFailedJobIsRetriedNextTick(t *testing.T) {
	tests := []struct {
		name    string
		respond func(ctx context.Context, path string) (operation.Response, error)
	}{
		{
			name: "dispatch error",
			respond: func(context.Context, string) (operation.Response, error) {
				return operation.Response{}, errors.Wrap(operation.ErrNotFound, "GET /gone")
			},
		},
		{
			name: "panic",
			respond: func(context.Context, string) (operation.Response, error) {
				panic("handler exploded")
			},
		},
		{
			name: "timeout",
			respond: func(ctx context.Context, _ string) (operation.Response, error) {
				<-ctx.Done()
				return operation.Response{}, ctx.Err()
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDispatcher()
			d.respond = tc.respond
			registry := NewRegistry(logging.Discard())
			publisher := &recordingPublisher{}
			s := New(registry, d, []Publisher{publisher}, Options{Timeout: 20 * time.Millisecond, Logger: logging.Discard()})
			registry.Register("/gone", true, 100)

			tickAndWait(s)
			assert.True(t, registry.Jobs()[0].Due())

			tickAndWait(s)
			assert.Equal(t, 2, d.count("/gone"))
			assert.Empty(t, publisher.messages)
		})
	}
}

func TestHTTPErrorPayloadCountsAsFired(t *testing.T) {
	d := newFakeDispatcher()
	d.respond = func(context.Context, string) (operation.Response, error) {
		return operation.Response{Status: http.StatusServiceUnavailable, Body: []byte(`{"error":"circuit breaker is open"}`)}, nil
	}
	publisher := &recordingPublisher{}
	s, r := newTestScheduler(d, publisher)
	r.Register("/api/v1/backups", true, 10)

	tickAndWait(s)
	assert.Zero(t, r.Jobs()[0].ElapsedSeconds)
	require.Len(t, publisher.messages, 1)

	var event Event
	require.NoError(t, json.Unmarshal(publisher.messages[0], &event))
	assert.Equal(t, http.StatusServiceUnavailable, event.Status)
	assert.JSONEq(t, `{"error":"circuit breaker is open"}`, string(event.Data))
}

func TestEventFansOutToEveryPublisher(t *testing.T) {
	d := newFakeDispatcher()
	first, second := &recordingPublisher{}, &recordingPublisher{}
	failing := PublisherFunc(func(context.Context, []byte) error { return errors.New("bus down") })
	s, r := newTestScheduler(d, first, failing, second)
	r.Register("/api/v1/stats", true, 60)

	tickAndWait(s)

	require.Len(t, first.messages, 1)
	require.Len(t, second.messages, 1)

	var event Event
	require.NoError(t, json.Unmarshal(first.messages[0], &event))
	assert.Equal(t, "refresh", event.Type)
	assert.Equal(t, "/api/v1/stats", event.Endpoint)
	assert.Equal(t, http.StatusOK, event.Status)
	assert.JSONEq(t, `{"ok":true}`, string(event.Data))
	assert.False(t, event.Timestamp.IsZero())
}

func TestRunningJobIsNotStartedTwice(t *testing.T) {
	release := make(chan struct{})
	d := newFakeDispatcher()
	d.respond = func(_ context.Context, path string) (operation.Response, error) {
		if path == "/slow" {
			<-release
		}
		return operation.Response{Status: http.StatusOK, Body: []byte(`[]`)}, nil
	}
	s, r := newTestScheduler(d)
	r.Register("/slow", true, 1)
	r.Register("/fast", true, 1)

	assert.Equal(t, 2, s.Tick(context.Background()))
	assert.Eventually(t, func() bool { return d.count("/fast") == 1 }, time.Second, 5*time.Millisecond)

	// /fast was reset to 0 and is not due; /slow is still running
	assert.Zero(t, s.Tick(context.Background()))
	assert.Equal(t, 1, d.count("/slow"))

	close(release)
	s.Wait()
}

func TestSlowPublisherDoesNotHoldUpLaterRuns(t *testing.T) {
	release := make(chan struct{})
	blocking := PublisherFunc(func(ctx context.Context, _ []byte) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	d := newFakeDispatcher()
	s, r := newTestScheduler(d, blocking)
	r.Register("/a", true, 1)
	ctx := context.Background()

	idle := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.inFlight["/a"]
	}

	assert.Equal(t, 1, s.Tick(ctx))
	require.Eventually(t, func() bool { return d.count("/a") == 1 && idle() }, time.Second, 5*time.Millisecond)

	// the first event is still being published
	s.Tick(ctx)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Eventually(t, func() bool { return d.count("/a") == 2 }, time.Second, 5*time.Millisecond)

	close(release)
	s.Wait()
}

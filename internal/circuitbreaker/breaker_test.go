package circuitbreaker

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(now *time.Time, isFailure func(error) bool) *CircuitBreaker {
	logger := logrus.New()
	logger.Out = io.Discard
	return New(Config{
		Name:        "test",
		MaxFailures: 2,
		Timeout:     10 * time.Second,
		IsFailure:   isFailure,
		Now:         func() time.Time { return *now },
		Logger:      logger,
	})
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now, nil)
	fail := func() error { return errUpstream }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Call(fail), errUpstream)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(10 * time.Second)
	assert.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Metrics().FailureCount)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now, nil)
	fail := func() error { return errUpstream }

	cb.Call(fail)
	cb.Call(fail)
	now = now.Add(11 * time.Second)

	assert.ErrorIs(t, cb.Call(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(fail), ErrCircuitOpen)
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notFound := errors.New("not found")
	cb := newTestBreaker(&now, func(err error) bool { return !errors.Is(err, notFound) })

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now, nil)

	cb.Call(func() error { return errUpstream })
	cb.Call(func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

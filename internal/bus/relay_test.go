package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/logging"
	"github.com/aman-churiwal/velero-api/internal/operation"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

func newTestTable(t *testing.T) *operation.Table {
	t.Helper()
	table := operation.NewTable()
	require.NoError(t, table.Add(operation.Operation{
		Path:               "/api/v1/backups",
		Tag:                "Backup",
		Name:               "get_backups",
		CredentialRequired: true,
		Handler: func(_ context.Context, req operation.Request) (interface{}, error) {
			return map[string]string{
				"caller":    req.Principal.Name,
				"on_behalf": req.Principal.OnBehalfOf,
				"namespace": req.Param("namespace"),
			}, nil
		},
	}))
	return table
}

func newTestRelay(t *testing.T) (*Relay, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	dial := func(context.Context) (*storage.RedisClient, error) {
		return storage.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), nil
	}
	relay := NewRelay(dial, newTestTable(t), auth.NewTokenService("bus-test-secret", 1), Options{Logger: logging.Discard()})
	t.Cleanup(func() { relay.Close() })
	return relay, mr
}

func TestHandleRequestRegisteredPath(t *testing.T) {
	relay, _ := newTestRelay(t)

	body := relay.HandleRequest(context.Background(), []byte(`{"method":"GET","path":"/api/v1/backups","params":{"namespace":"velero"},"user":"alice"}`))

	var got map[string]string
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, map[string]string{"caller": "bus", "on_behalf": "alice", "namespace": "velero"}, got)
}

func TestHandleRequestUnknownPath(t *testing.T) {
	relay, _ := newTestRelay(t)

	body := relay.HandleRequest(context.Background(), []byte(`{"method":"get","path":"/api/v1/unknown"}`))
	assert.Contains(t, string(body), "No endpoint found")
	assert.JSONEq(t, `{"error":"No endpoint found for GET /api/v1/unknown"}`, string(body))
}

func TestHandleRequestInvalidPayload(t *testing.T) {
	relay, _ := newTestRelay(t)

	for _, payload := range []string{`not json`, `{"method":"GET"}`} {
		body := relay.HandleRequest(context.Background(), []byte(payload))
		assert.JSONEq(t, `{"error":"invalid request"}`, string(body), payload)
	}
}

func TestSubjects(t *testing.T) {
	relay := NewRelay(nil, nil, nil, Options{Subject: "velero-api.requests"})
	assert.Equal(t, "velero-api.events", relay.EventSubject())
	assert.Equal(t, "velero-api.events.alice", relay.UserEventSubject("alice"))

	bare := NewRelay(nil, nil, nil, Options{Subject: "requests"})
	assert.Equal(t, "requests.events", bare.EventSubject())
}

func TestRelayRoundTrip(t *testing.T) {
	relay, mr := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		relay.Wait()
	}()
	require.NoError(t, relay.Start(ctx))

	client := storage.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer client.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()

	reply, err := Request(reqCtx, client, relay.Subject(), Message{Path: "/api/v1/backups", User: "bob"})
	require.NoError(t, err)
	assert.Contains(t, string(reply), `"on_behalf":"bob"`)

	reply, err = Request(reqCtx, client, relay.Subject(), Message{Method: "DELETE", Path: "/api/v1/backups"})
	require.NoError(t, err)
	assert.Contains(t, string(reply), "No endpoint found for DELETE /api/v1/backups")
}

func TestPublishEvents(t *testing.T) {
	relay, mr := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, relay.EventSubject(), relay.UserEventSubject("alice"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, relay.PublishGlobalEvent(ctx, []byte(`{"type":"refresh"}`)))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "velero-api.events", msg.Channel)
	assert.Equal(t, `{"type":"refresh"}`, msg.Payload)

	require.NoError(t, relay.PublishUserEvent(ctx, "alice", []byte(`{"type":"personal"}`)))
	msg, err = sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "velero-api.events.alice", msg.Channel)
}

func TestLazyConnectRetriesAfterFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	attempts := 0
	dial := func(context.Context) (*storage.RedisClient, error) {
		attempts++
		if attempts == 1 {
			return nil, assert.AnError
		}
		return storage.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), nil
	}
	relay := NewRelay(dial, nil, nil, Options{Logger: logging.Discard()})
	defer relay.Close()

	assert.Error(t, relay.PublishGlobalEvent(context.Background(), []byte("x")))
	assert.NoError(t, relay.PublishGlobalEvent(context.Background(), []byte("x")))
	assert.NoError(t, relay.PublishGlobalEvent(context.Background(), []byte("y")))
	assert.Equal(t, 2, attempts)
}

func TestPanickingOperationRepliesWithError(t *testing.T) {
	relay, mr := newTestRelay(t)
	require.NoError(t, relay.dispatcher.(*operation.Table).Add(operation.Operation{
		Path: "/api/v1/broken",
		Handler: func(context.Context, operation.Request) (interface{}, error) {
			var counts map[string]int
			counts["backups"]++
			return counts, nil
		},
	}))

	body := relay.HandleRequest(context.Background(), []byte(`{"path":"/api/v1/broken"}`))
	assert.JSONEq(t, `{"error":"internal server error"}`, string(body))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		relay.Wait()
	}()
	require.NoError(t, relay.Start(ctx))

	client := storage.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer client.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()

	reply, err := Request(reqCtx, client, relay.Subject(), Message{Path: "/api/v1/broken"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"internal server error"}`, string(reply))

	// the relay keeps serving after the panic
	reply, err = Request(reqCtx, client, relay.Subject(), Message{Path: "/api/v1/backups", User: "bob"})
	require.NoError(t, err)
	assert.Contains(t, string(reply), `"on_behalf":"bob"`)
}

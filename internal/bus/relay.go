package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/metrics"
	"github.com/aman-churiwal/velero-api/internal/operation"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

const DefaultSubject = "velero-api.requests"

// Message is a request received on the bus subject.
type Message struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	User   string            `json:"user,omitempty"`
	Reply  string            `json:"reply,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, method, path string, params map[string]string, principal auth.Principal) (operation.Response, error)
}

// Dialer opens the Redis connection used by the relay.
type Dialer func(ctx context.Context) (*storage.RedisClient, error)

// RedisDialer dials addr and pings it.
func RedisDialer(addr, password string, db int) Dialer {
	return func(context.Context) (*storage.RedisClient, error) {
		return storage.NewRedis(addr, password, db)
	}
}

type Options struct {
	Subject string
	Metrics *metrics.ServerMetrics
	Logger  logrus.FieldLogger
}

// Relay answers operation requests arriving on a Redis pub/sub subject and
// publishes events for subscribers.
type Relay struct {
	dial       Dialer
	dispatcher Dispatcher
	tokens     *auth.TokenService
	subject    string
	metrics    *metrics.ServerMetrics
	logger     logrus.FieldLogger

	mu     sync.Mutex
	client *storage.RedisClient
	wg     sync.WaitGroup
}

func NewRelay(dial Dialer, dispatcher Dispatcher, tokens *auth.TokenService, opts Options) *Relay {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Relay{
		dial:       dial,
		dispatcher: dispatcher,
		tokens:     tokens,
		subject:    opts.Subject,
		metrics:    opts.Metrics,
		logger:     opts.Logger.WithFields(logrus.Fields{"component": "bus", "subject": opts.Subject}),
	}
}

func (r *Relay) Subject() string { return r.subject }

// EventSubject is the global event channel, <prefix>.events.
func (r *Relay) EventSubject() string {
	return subjectPrefix(r.subject) + ".events"
}

func (r *Relay) UserEventSubject(user string) string {
	return r.EventSubject() + "." + user
}

func subjectPrefix(subject string) string {
	if i := strings.LastIndex(subject, "."); i > 0 {
		return subject[:i]
	}
	return subject
}

// conn returns the shared client, dialing it on first use. A failed dial is
// retried on the next call.
func (r *Relay) conn(ctx context.Context) (*storage.RedisClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := r.dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to message bus")
	}
	r.client = client
	r.logger.Info("Connected to message bus")
	return client, nil
}

// Start subscribes to the request subject and serves requests until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	client, err := r.conn(ctx)
	if err != nil {
		return err
	}

	sub := client.Subscribe(ctx, r.subject)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return errors.Wrapf(err, "error subscribing to %s", r.subject)
	}
	r.logger.Info("Listening for bus requests")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.wg.Add(1)
				go func(payload string) {
					defer r.wg.Done()
					r.serve(ctx, client, []byte(payload))
				}(msg.Payload)
			}
		}
	}()
	return nil
}

// Wait blocks until the subscription loop and in-flight requests are done.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *Relay) serve(ctx context.Context, client *storage.RedisClient, data []byte) {
	reply, body := r.handle(ctx, data)
	if reply == "" {
		return
	}
	if err := client.Publish(ctx, reply, body); err != nil {
		r.logger.WithError(err).WithField("reply", reply).Warn("Error sending bus reply")
	}
}

// HandleRequest resolves and runs one request, returning the reply payload.
func (r *Relay) HandleRequest(ctx context.Context, data []byte) []byte {
	_, body := r.handle(ctx, data)
	return body
}

func (r *Relay) handle(ctx context.Context, data []byte) (reply string, body []byte) {
	var msg Message
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RegisterBusRequest(metrics.ResultFailure)
			r.logger.WithFields(logrus.Fields{"method": msg.Method, "path": msg.Path}).Errorf("Panic handling bus request: %v", p)
			reply, body = msg.Reply, operation.ErrorBody("internal server error")
		}
	}()

	if err := json.Unmarshal(data, &msg); err != nil || msg.Path == "" {
		r.metrics.RegisterBusRequest(metrics.ResultInvalid)
		r.logger.WithError(err).Warn("Invalid bus request")
		return msg.Reply, operation.ErrorBody("invalid request")
	}
	if msg.Method == "" {
		msg.Method = http.MethodGet
	}
	method := strings.ToUpper(msg.Method)
	log := r.logger.WithFields(logrus.Fields{"method": method, "path": msg.Path, "user": msg.User})

	principal, err := r.credentials(msg.User)
	if err != nil {
		r.metrics.RegisterBusRequest(metrics.ResultFailure)
		log.WithError(err).Error("Error issuing bus credentials")
		return msg.Reply, operation.ErrorBody("unable to authenticate bus request")
	}

	resp, err := r.dispatcher.Dispatch(ctx, method, msg.Path, msg.Params, principal)
	if errors.Is(err, operation.ErrNotFound) {
		r.metrics.RegisterBusRequest(metrics.ResultNotFound)
		log.Debug("No endpoint for bus request")
		return msg.Reply, operation.ErrorBody(fmt.Sprintf("No endpoint found for %s %s", method, msg.Path))
	}
	if err != nil {
		r.metrics.RegisterBusRequest(metrics.ResultFailure)
		log.WithError(err).Error("Bus request failed")
		return msg.Reply, operation.ErrorBody(err.Error())
	}

	r.metrics.RegisterBusRequest(metrics.ResultSuccess)
	log.WithField("status", resp.Status).Debug("Handled bus request")
	return msg.Reply, resp.Body
}

// credentials mints a short-lived token for the bus principal and validates
// it, so bus requests carry the same kind of identity as HTTP ones.
func (r *Relay) credentials(user string) (auth.Principal, error) {
	token, err := r.tokens.Issue(auth.Bus(user), auth.BusTokenTTL)
	if err != nil {
		return auth.Principal{}, err
	}
	return r.tokens.Validate(token)
}

// PublishGlobalEvent sends msg to every event subscriber.
func (r *Relay) PublishGlobalEvent(ctx context.Context, msg []byte) error {
	return r.publish(ctx, r.EventSubject(), msg)
}

func (r *Relay) PublishUserEvent(ctx context.Context, user string, msg []byte) error {
	return r.publish(ctx, r.UserEventSubject(user), msg)
}

func (r *Relay) publish(ctx context.Context, channel string, msg []byte) error {
	client, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(client.Publish(ctx, channel, msg), "error publishing to %s", channel)
}

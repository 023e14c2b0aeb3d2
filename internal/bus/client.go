package bus

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

// Request publishes msg on subject and waits for the single reply, or for
// ctx to end. The reply channel is generated when msg.Reply is empty.
func Request(ctx context.Context, client *storage.RedisClient, subject string, msg Message) ([]byte, error) {
	if msg.Reply == "" {
		msg.Reply = subject + ".reply." + uuid.NewString()
	}

	sub := client.Subscribe(ctx, msg.Reply)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, errors.Wrapf(err, "error subscribing to %s", msg.Reply)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := client.Publish(ctx, subject, data); err != nil {
		return nil, errors.Wrapf(err, "error publishing to %s", subject)
	}

	reply, err := sub.ReceiveMessage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error waiting for reply")
	}
	return []byte(reply.Payload), nil
}

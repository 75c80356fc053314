package syncer

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

// Publisher announces task writes.
type Publisher interface {
	Publish(ctx context.Context, ch domain.Change) error
}

// Notifier publishes change notifications and lets subscriptions follow them.
// The channel returned by Listen closes when the underlying connection is lost
// or ctx ends.
type Notifier interface {
	Publisher
	Listen(ctx context.Context) (<-chan domain.Change, error)
}

// RedisNotifier carries change notifications over a Redis pub/sub channel.
type RedisNotifier struct {
	rc      *redis.Client
	channel string
	logger  log.FieldLogger
}

func NewRedisNotifier(rc *redis.Client, channel string, logger log.FieldLogger) *RedisNotifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisNotifier{rc: rc, channel: channel, logger: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, ch domain.Change) error {
	payload, err := sonic.Marshal(ch)
	if err != nil {
		return err
	}
	return n.rc.Publish(ctx, n.channel, payload).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context) (<-chan domain.Change, error) {
	sub := n.rc.Subscribe(ctx, n.channel)
	// Wait for the subscription confirmation so a dead connection surfaces here.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	msgs := sub.Channel()
	out := make(chan domain.Change)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ch domain.Change
				if err := sonic.UnmarshalString(msg.Payload, &ch); err != nil {
					n.logger.WithError(err).WithField("channel", n.channel).Error("unable to parse change notification")
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmoralesc/vigia/internal/model"
)

// DefaultChannelPrefix is the redis pub/sub channel prefix for analysis
// snapshots: one channel per job, "<prefix><job id>".
const DefaultChannelPrefix = "vigia:analyses:"

// RedisSource pumps analysis snapshots published on redis pub/sub channels
// into a broker. The analyzer backend publishes a full snapshot document on
// every change to an analysis it owns.
type RedisSource struct {
	client *redis.Client
	broker *Broker[model.Snapshot]
	prefix string
	logger *slog.Logger
}

// NewRedisSource creates a source reading from the given redis URL.
func NewRedisSource(redisURL string, broker *Broker[model.Snapshot], logger *slog.Logger) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSource{
		client: redis.NewClient(opts),
		broker: broker,
		prefix: DefaultChannelPrefix,
		logger: logger,
	}, nil
}

// Run subscribes to the snapshot channel pattern and forwards deliveries
// until ctx is cancelled. If the subscription dies, every open topic on the
// broker is failed so trackers can surface a channel error instead of
// waiting on deliveries that will never arrive.
func (s *RedisSource) Run(ctx context.Context) error {
	pubsub := s.client.PSubscribe(ctx, s.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe snapshot channels: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				s.broker.FailAll(ErrFeedClosed)
				return ErrFeedClosed
			}
			s.deliver(msg)
		}
	}
}

func (s *RedisSource) deliver(msg *redis.Message) {
	jobID := strings.TrimPrefix(msg.Channel, s.prefix)

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
		s.logger.Warn("dropping malformed snapshot", "job_id", jobID, "error", err)
		return
	}

	s.broker.Publish(jobID, snap)
}

// Close releases the redis client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

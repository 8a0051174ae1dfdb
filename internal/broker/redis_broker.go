package broker

import (
	"context"
	"encoding/json"

	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const predictionChannel = "predictions:events"

// RedisEventBroker implements EventBroker with Redis pub/sub.
type RedisEventBroker struct {
	client *redis.Client
}

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisEventBroker(client *redis.Client) *RedisEventBroker {
	return &RedisEventBroker{client: client}
}

func (r *RedisEventBroker) Publish(ctx context.Context, event PredictionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, predictionChannel, data).Err()
}

func (r *RedisEventBroker) Subscribe(ctx context.Context) (<-chan PredictionEvent, error) {
	pubsub := r.client.Subscribe(ctx, predictionChannel)

	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	events := make(chan PredictionEvent, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var event PredictionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Log.Warn("Dropping malformed prediction event",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					continue
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (r *RedisEventBroker) Close() error {
	return r.client.Close()
}

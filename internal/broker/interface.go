package broker

import (
	"context"
	"time"
)

const EventPredictionCreated = "prediction.created"

// PredictionEvent announces a newly stored prediction.
type PredictionEvent struct {
	Type         string    `json:"type"`
	PredictionID string    `json:"prediction_id"`
	UserID       string    `json:"user_id"`
	Result       string    `json:"result"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventBroker fans prediction events out to every subscriber, across nodes.
type EventBroker interface {
	Publish(ctx context.Context, event PredictionEvent) error
	// Subscribe delivers events until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context) (<-chan PredictionEvent, error)
	Close() error
}

// NopBroker drops every event. It is used when Redis is not configured.
type NopBroker struct{}

func (NopBroker) Publish(context.Context, PredictionEvent) error { return nil }

func (NopBroker) Subscribe(ctx context.Context) (<-chan PredictionEvent, error) {
	ch := make(chan PredictionEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (NopBroker) Close() error { return nil }

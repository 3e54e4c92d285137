// Package pubsub implements a Google Cloud Pub/Sub notification sink, used
// when notifications fan out to a topic instead of a webhook.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/notify"
)

// Sink publishes notification payloads to a Pub/Sub topic.
type Sink struct {
	publisher *pubsub.Publisher
}

// New creates a Sink for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Sink {
	return &Sink{publisher: publisher}
}

// Deliver marshals the payload to JSON and publishes it. Pub/Sub applies its
// own flow control, so no quota is reported back to the dispatcher.
func (s *Sink) Deliver(ctx context.Context, payload monitor.NotificationPayload) (notify.DeliveryInfo, error) {
	info := notify.DeliveryInfo{Remaining: -1}
	if s.publisher == nil {
		return info, fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return info, fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"retailer": payload.Retailer,
		},
	}
	result := s.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return info, fmt.Errorf("publish notification: %w", err)
	}
	info.StatusCode = 200
	return info, nil
}

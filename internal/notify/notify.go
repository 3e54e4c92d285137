// Package notify defines the notification sink abstraction used by the
// dispatcher, together with the rate-limit state sinks report back.
package notify

import (
	"context"
	"time"

	"github.com/restockd/restockd/internal/monitor"
)

// DeliveryInfo carries the sink's rate-limit protocol back to the dispatcher.
// Remaining < 0 means the sink did not report quota.
type DeliveryInfo struct {
	StatusCode  int
	Remaining   int
	ResetAfter  time.Duration
	RateLimited bool
}

// Sink delivers one notification payload to the external messaging endpoint.
type Sink interface {
	Deliver(ctx context.Context, payload monitor.NotificationPayload) (DeliveryInfo, error)
}

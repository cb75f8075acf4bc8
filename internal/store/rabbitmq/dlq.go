package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxDeliveryAttempts is the retry budget for item failures: a message
// rejected this many times is treated as poison and parked on the dead
// letter queue instead of cycling through the retry queue again. Capacity
// backpressure rejections are exempt and retry indefinitely.
const MaxDeliveryAttempts = 5

// DeathCount reports how many times a delivery has been rejected off the
// named queue, read from the x-death header the broker maintains across the
// main/retry round trips. Zero for first deliveries or unrecognized headers.
func DeathCount(headers amqp.Table, queue string) int64 {
	deaths, _ := headers["x-death"].([]interface{})
	for _, entry := range deaths {
		t, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		q, _ := t["queue"].(string)
		reason, _ := t["reason"].(string)
		if q != queue || reason != "rejected" {
			continue
		}
		if n, ok := t["count"].(int64); ok {
			return n
		}
	}
	return 0
}

// PublishToDLQ parks one poison delivery on the dead letter queue, headers
// intact so the rejection history stays inspectable.
func PublishToDLQ(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx,
		"",
		queue+".dlq",
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			Body:         d.Body,
			MessageId:    d.MessageId,
			Headers:      d.Headers,
			Timestamp:    time.Now(),
		},
	)
}

package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func deathHeaders(queue string, rejected int64) amqp.Table {
	return amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": queue + ".retry", "reason": "expired", "count": rejected},
			amqp.Table{"queue": queue, "reason": "rejected", "count": rejected},
		},
	}
}

func TestDeathCount(t *testing.T) {
	const q = "ingestion_requests"

	if got := DeathCount(nil, q); got != 0 {
		t.Fatalf("no headers: count = %d, want 0", got)
	}
	if got := DeathCount(amqp.Table{}, q); got != 0 {
		t.Fatalf("first delivery: count = %d, want 0", got)
	}
	if got := DeathCount(deathHeaders(q, 3), q); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	// expiry deaths on the retry queue do not count as rejections
	onlyExpired := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": q + ".retry", "reason": "expired", "count": int64(4)},
		},
	}
	if got := DeathCount(onlyExpired, q); got != 0 {
		t.Fatalf("expired-only: count = %d, want 0", got)
	}

	// deaths from another queue are ignored
	if got := DeathCount(deathHeaders("other_queue", 9), q); got != 0 {
		t.Fatalf("foreign queue: count = %d, want 0", got)
	}

	malformed := amqp.Table{"x-death": "not-a-list"}
	if got := DeathCount(malformed, q); got != 0 {
		t.Fatalf("malformed header: count = %d, want 0", got)
	}
}

func TestDeathCountReachesBudget(t *testing.T) {
	const q = "ingestion_requests"

	if DeathCount(deathHeaders(q, MaxDeliveryAttempts-1), q) >= MaxDeliveryAttempts {
		t.Fatalf("one attempt short of the budget must still be retried")
	}
	if DeathCount(deathHeaders(q, MaxDeliveryAttempts), q) < MaxDeliveryAttempts {
		t.Fatalf("exhausted budget must be detected")
	}
}

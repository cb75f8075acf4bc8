package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/admission"
	"github.com/studyowl/textbook-ai/internal/config"
	"github.com/studyowl/textbook-ai/internal/db"
	"github.com/studyowl/textbook-ai/internal/ingest"
	"github.com/studyowl/textbook-ai/internal/jobs"
	"github.com/studyowl/textbook-ai/internal/runner"
	"github.com/studyowl/textbook-ai/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	log := logrus.WithField("service", "jobprocessor")

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logrus.Fatalf("db connect: %v", err)
	}
	// CreateOrReset's insert-race resolution needs the jobs unique index, so
	// the processor cannot rely on the api having migrated first.
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		logrus.Fatalf("db migrate: %v", err)
	}

	awsSess, err := awssession.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
	if err != nil {
		logrus.Fatalf("aws session: %v", err)
	}

	glueRunner := runner.NewGlueRunner(awsSess, log)
	jobStore := jobs.NewStore(gdb, log)
	gate := admission.NewGate(glueRunner, log)
	processor := ingest.NewProcessor(gate, jobStore, glueRunner, cfg.GlueJobName, cfg.MaxConcurrentJobs, log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logrus.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logrus.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logrus.Fatalf("declare topology: %v", err)
	}

	if err := ch.Qos(cfg.IngestBatchSize, 0, false); err != nil {
		logrus.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logrus.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"queue":      cfg.RabbitQueue,
		"batch_size": cfg.IngestBatchSize,
		"ceiling":    cfg.MaxConcurrentJobs,
	}).Info("jobprocessor started")

	linger := time.Duration(cfg.IngestLingerMillis) * time.Millisecond

	for {
		batch, ok := collectBatch(ctx, msgs, cfg.IngestBatchSize, linger)
		if !ok {
			log.Info("jobprocessor shutting down")
			return
		}
		if len(batch) == 0 {
			continue
		}
		handleBatch(ctx, processor, ch, cfg.RabbitQueue, batch, log)
	}
}

// collectBatch blocks for the first delivery, then drains up to max-1 more,
// waiting at most linger for stragglers. Returns ok=false on shutdown or a
// closed delivery channel.
func collectBatch(ctx context.Context, msgs <-chan amqp.Delivery, max int, linger time.Duration) ([]amqp.Delivery, bool) {
	var batch []amqp.Delivery

	select {
	case <-ctx.Done():
		return nil, false
	case d, ok := <-msgs:
		if !ok {
			return nil, false
		}
		batch = append(batch, d)
	}

	timer := time.NewTimer(linger)
	defer timer.Stop()

	for len(batch) < max {
		select {
		case <-ctx.Done():
			return batch, true
		case <-timer.C:
			return batch, true
		case d, ok := <-msgs:
			if !ok {
				return batch, true
			}
			batch = append(batch, d)
		}
	}
	return batch, true
}

// handleBatch runs one collected batch through the processor, then settles
// every delivery together: ack on success, nack(requeue=false) on requeue so
// the whole batch dead-letters into the retry queue and reappears after its
// TTL. Item-failure requeues burn the retry budget; a message rejected
// MaxDeliveryAttempts times is parked on the dead letter queue instead of
// cycling forever. Backpressure rejections retry indefinitely.
func handleBatch(ctx context.Context, p *ingest.Processor, ch *amqp.Channel, queue string, batch []amqp.Delivery, log *logrus.Entry) {
	items := make([]ingest.Message, 0, len(batch))
	for _, d := range batch {
		items = append(items, ingest.Message{MessageID: d.MessageId, Body: d.Body})
	}

	start := time.Now()
	outcome := p.ProcessBatch(ctx, items)

	if outcome.Requeue {
		log.WithFields(logrus.Fields{
			"size":   len(batch),
			"reason": outcome.Reason,
			"cost":   time.Since(start),
		}).Warn("batch requeued")
		for _, d := range batch {
			if !outcome.Backpressure && rabbitmq.DeathCount(d.Headers, queue) >= rabbitmq.MaxDeliveryAttempts {
				if err := rabbitmq.PublishToDLQ(ctx, ch, queue, d); err != nil {
					log.WithError(err).WithField("message_id", d.MessageId).Error("dlq publish failed")
					if err := d.Nack(false, false); err != nil {
						log.WithError(err).Error("nack failed")
					}
					continue
				}
				log.WithField("message_id", d.MessageId).Error("retry budget exhausted, message moved to dlq")
				if err := d.Ack(false); err != nil {
					log.WithError(err).Error("ack failed")
				}
				continue
			}
			if err := d.Nack(false, false); err != nil {
				log.WithError(err).Error("nack failed")
			}
		}
		return
	}

	for _, d := range batch {
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
	}
	log.WithFields(logrus.Fields{
		"size":       len(batch),
		"dispatched": len(outcome.Items),
		"cost":       time.Since(start),
	}).Info("batch processed")
}

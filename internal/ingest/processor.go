package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/admission"
)

// Message is one inbound ingestion request as handed over by the delivery
// layer (queue consumer).
type Message struct {
	MessageID string
	Body      []byte
}

type ingestRequest struct {
	// present for re-ingestion of an existing textbook, absent for new
	// ingestions (the runner creates the textbook and assigns the id)
	TextbookID *string `json:"textbook_id"`
}

// ItemResult describes one successfully dispatched batch item.
type ItemResult struct {
	MessageID string `json:"message_id"`
	JobID     string `json:"job_id"`
	GlueRunID string `json:"glue_run_id"`
	BatchID   string `json:"batch_id"`
}

// BatchOutcome tells the delivery adapter what to do with the batch.
// Requeue means "redeliver all items together later, unchanged". Backpressure
// marks capacity rejections, which may retry indefinitely; other requeues are
// item failures and should count against the adapter's retry budget. It is
// the adapter's job to translate this into its transport's retry mechanism.
type BatchOutcome struct {
	Requeue      bool
	Backpressure bool
	Reason       string
	Items        []ItemResult
}

// Lifecycle is the slice of the job store the processor needs.
type Lifecycle interface {
	CreateOrReset(ctx context.Context, textbookID *string) (string, error)
	AttachRunHandle(ctx context.Context, jobID, runID string) error
}

// Starter dispatches one run to the external batch runner.
type Starter interface {
	StartJob(ctx context.Context, jobName string, args map[string]string) (string, error)
}

// Processor drives one inbound batch through admission, job record
// creation and dispatch. Items are processed sequentially so the admission
// gate's overshoot stays bounded by the batch size.
type Processor struct {
	gate    *admission.Gate
	jobs    Lifecycle
	runner  Starter
	jobName string
	ceiling int
	log     *logrus.Entry
}

func NewProcessor(gate *admission.Gate, jobs Lifecycle, runner Starter, jobName string, ceiling int, log *logrus.Entry) *Processor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{gate: gate, jobs: jobs, runner: runner, jobName: jobName, ceiling: ceiling, log: log}
}

// ProcessBatch evaluates capacity once for the whole batch, then handles each
// item in order: create-or-reset the job record, start the runner job with
// the record id in its arguments, attach the returned run handle.
//
// Any hard item failure requeues the whole batch, including items already
// dispatched — redelivery is safe because CreateOrReset resets the existing
// record instead of duplicating it.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []Message) BatchOutcome {
	if len(msgs) == 0 {
		return BatchOutcome{}
	}

	decision := p.gate.AdmitBatch(ctx, p.jobName, len(msgs), p.ceiling)
	if !decision.Admitted {
		return BatchOutcome{Requeue: true, Backpressure: true, Reason: decision.Reason}
	}

	batchID := fmt.Sprintf("batch-%d", time.Now().Unix())
	items := make([]ItemResult, 0, len(msgs))

	for _, msg := range msgs {
		log := p.log.WithField("message_id", msg.MessageID)

		var req ingestRequest
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			log.WithError(err).Error("unparseable ingestion request")
			return BatchOutcome{Requeue: true, Reason: "unparseable message body", Items: items}
		}
		if req.TextbookID != nil && *req.TextbookID == "" {
			req.TextbookID = nil
		}

		jobID, err := p.jobs.CreateOrReset(ctx, req.TextbookID)
		if err != nil {
			// no confirmed job id means no safe dispatch
			log.WithError(err).Error("job record creation failed")
			return BatchOutcome{Requeue: true, Reason: "job record creation failed", Items: items}
		}

		runID, err := p.runner.StartJob(ctx, p.jobName, map[string]string{
			"batch_id":     batchID,
			"message_id":   msg.MessageID,
			"message_body": string(msg.Body),
			"job_id":       jobID,
		})
		if err != nil {
			log.WithError(err).WithField("job_id", jobID).Error("runner dispatch failed")
			return BatchOutcome{Requeue: true, Reason: "runner dispatch failed", Items: items}
		}
		decision.NoteDispatch()

		// the run is already live at this point; a failed attach costs
		// observability, not correctness
		if err := p.jobs.AttachRunHandle(ctx, jobID, runID); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"job_id": jobID,
				"run_id": runID,
			}).Warn("failed to attach run handle, job continues")
		}

		items = append(items, ItemResult{
			MessageID: msg.MessageID,
			JobID:     jobID,
			GlueRunID: runID,
			BatchID:   batchID,
		})
		log.WithFields(logrus.Fields{"job_id": jobID, "run_id": runID}).
			Info("ingestion item dispatched")
	}

	return BatchOutcome{Items: items}
}

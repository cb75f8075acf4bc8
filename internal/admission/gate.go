package admission

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// JobCounter reports how many runs of a job are currently in an explicit
// running state. Queued and transitional runs are not counted.
type JobCounter interface {
	CountRunningJobs(ctx context.Context, jobName string) (int, error)
}

// Gate bounds the number of concurrently running batch jobs using only the
// externally polled count — no lock, no shared memory. Capacity is evaluated
// once per inbound batch; on breach the whole batch is rejected so the
// delivery layer redelivers every item together later.
//
// If the capacity query itself fails the gate admits optimistically (assume
// zero running jobs): blocking all ingestion on a transient monitoring
// failure is worse than a brief ceiling overshoot. This is the opposite of
// the session guard, which fails closed.
type Gate struct {
	counter JobCounter
	log     *logrus.Entry
}

func NewGate(counter JobCounter, log *logrus.Entry) *Gate {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gate{counter: counter, log: log}
}

// Decision is the outcome of one batch admission check. An admitted decision
// carries a local running counter that the caller advances per dispatch via
// NoteDispatch; capacity is never re-queried mid-batch, so one batch can
// overshoot the ceiling by at most its own size.
type Decision struct {
	Admitted bool
	Reason   string

	running int
	ceiling int
}

// NoteDispatch records one successful dispatch within the admitted batch.
func (d *Decision) NoteDispatch() {
	d.running++
}

// AvailableSlots is informational only; the gate does not enforce it
// per item within a batch.
func (d *Decision) AvailableSlots() int {
	n := d.ceiling - d.running
	if n < 0 {
		return 0
	}
	return n
}

// AdmitBatch checks current capacity for jobName once, for a whole batch.
// No partial admission: either every item may be dispatched or none.
func (g *Gate) AdmitBatch(ctx context.Context, jobName string, batchSize, ceiling int) Decision {
	running, err := g.counter.CountRunningJobs(ctx, jobName)
	if err != nil {
		// fail open: assume no jobs running rather than stall ingestion
		g.log.WithError(err).WithField("job_name", jobName).
			Warn("running-job count unavailable, admitting optimistically")
		running = 0
	}

	if running >= ceiling {
		g.log.WithFields(logrus.Fields{
			"job_name":   jobName,
			"running":    running,
			"ceiling":    ceiling,
			"batch_size": batchSize,
		}).Warn("concurrency ceiling reached, rejecting batch for redelivery")
		return Decision{
			Admitted: false,
			Reason:   fmt.Sprintf("maximum concurrent jobs (%d) reached, currently running: %d", ceiling, running),
			running:  running,
			ceiling:  ceiling,
		}
	}

	g.log.WithFields(logrus.Fields{
		"job_name":   jobName,
		"running":    running,
		"ceiling":    ceiling,
		"batch_size": batchSize,
	}).Info("batch admitted")
	return Decision{Admitted: true, running: running, ceiling: ceiling}
}

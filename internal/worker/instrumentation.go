package worker

import (
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

// JobRecorder receives job outcomes. *metrics.Metrics satisfies it.
type JobRecorder interface {
	JobOutcome(jobType, outcome string)
	SetQueueDepth(n int)
}

// RecorderInstrumentation reports job lifecycle events to r.
func RecorderInstrumentation(r JobRecorder) *Instrumentation {
	return &Instrumentation{
		OnEnqueue: func(job *models.Job) { r.JobOutcome(job.JobType, "enqueued") },
		OnComplete: func(job *models.Job, _ time.Duration) {
			r.JobOutcome(job.JobType, "completed")
		},
		OnFail: func(job *models.Job, _ error, _ time.Duration) {
			r.JobOutcome(job.JobType, "failed")
		},
		OnRetry: func(job *models.Job, _ time.Duration) {
			r.JobOutcome(job.JobType, "retried")
		},
		OnHeartbeat: func(_ string, stats Stats) {
			r.SetQueueDepth(stats.QueueDepth)
		},
	}
}

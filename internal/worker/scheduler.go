package worker

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

// Schedule enqueues one job of JobType every Every.
type Schedule struct {
	JobType  string
	Every    time.Duration
	Payload  models.JSONB
	Priority models.JobPriority
}

// OpenJobChecker reports whether a job type is already queued or running.
type OpenJobChecker interface {
	HasOpenJob(ctx context.Context, jobType string) (bool, error)
}

// Enqueuer accepts new jobs. *Worker satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Scheduler enqueues periodic jobs, skipping a tick while an earlier job of
// the same type is still open.
type Scheduler struct {
	enqueuer  Enqueuer
	checker   OpenJobChecker
	schedules []Schedule
}

// NewScheduler creates a scheduler. Schedules with a non-positive interval
// are ignored.
func NewScheduler(enqueuer Enqueuer, checker OpenJobChecker, schedules ...Schedule) *Scheduler {
	kept := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		if s.Every > 0 && s.JobType != "" {
			kept = append(kept, s)
		}
	}
	return &Scheduler{enqueuer: enqueuer, checker: checker, schedules: kept}
}

// Run fires every schedule once immediately and then on its interval until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.schedules) == 0 {
		return
	}
	done := make(chan struct{}, len(s.schedules))
	for _, sc := range s.schedules {
		go func(sc Schedule) {
			defer func() { done <- struct{}{} }()
			s.loop(ctx, sc)
		}(sc)
	}
	for range s.schedules {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context, sc Schedule) {
	ticker := time.NewTicker(sc.Every)
	defer ticker.Stop()

	s.Tick(ctx, sc)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, sc)
		}
	}
}

// Tick enqueues one job for sc unless one is already open. It reports
// whether a job was enqueued.
func (s *Scheduler) Tick(ctx context.Context, sc Schedule) bool {
	open, err := s.checker.HasOpenJob(ctx, sc.JobType)
	if err != nil {
		log.Printf("[scheduler] check open %s: %v", sc.JobType, err)
		return false
	}
	if open {
		return false
	}

	priority := sc.Priority
	if priority == "" {
		priority = models.JobPriorityNormal
	}
	payload := models.JSONB{}
	for k, v := range sc.Payload {
		payload[k] = v
	}

	job := &models.Job{
		JobType:     sc.JobType,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: 3,
		Metadata:    models.JSONB{"scheduled": true},
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		log.Printf("[scheduler] enqueue %s: %v", sc.JobType, err)
		return false
	}
	return true
}

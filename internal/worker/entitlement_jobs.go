package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

// Job types handled by this service.
const (
	JobExpirySweep = "entitlement_expiry_sweep"
	JobCleanup     = "job_cleanup"
)

const (
	defaultSweepBatch    = 100
	maxSweepBatches      = 20
	defaultRetentionDays = 7
)

// ExpiredLister finds users whose entitlement has lapsed.
type ExpiredLister interface {
	ListExpiredEntitlements(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Revoker clears a user's entitlement if it still ended before expiredBefore.
type Revoker interface {
	Revoke(ctx context.Context, userID string, expiredBefore time.Time) (bool, error)
}

// JobCleaner purges finished jobs.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RegisterEntitlementJobs registers the expiry sweep and queue cleanup handlers.
func RegisterEntitlementJobs(w *Worker, lister ExpiredLister, revoker Revoker, cleaner JobCleaner, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	w.RegisterHandler(JobExpirySweep, expirySweepHandler(lister, revoker, now))
	w.RegisterHandler(JobCleanup, cleanupHandler(cleaner))

	log.Printf("[worker] Registered job handlers: %s, %s", JobExpirySweep, JobCleanup)
}

// expirySweepHandler revokes every lapsed entitlement, a batch at a time. A
// batch with failures ends the run so the same users are not retried in a
// tight loop; the job is then retried with backoff.
func expirySweepHandler(lister ExpiredLister, revoker Revoker, now func() time.Time) Handler {
	return func(ctx context.Context, job *models.Job) error {
		batch := job.IntPayload("batch_size", defaultSweepBatch)
		if batch <= 0 {
			batch = defaultSweepBatch
		}
		cutoff := now()

		var revoked, skipped, failed int
		for i := 0; i < maxSweepBatches; i++ {
			ids, err := lister.ListExpiredEntitlements(ctx, cutoff, batch)
			if err != nil {
				return fmt.Errorf("list expired entitlements: %w", err)
			}

			for _, id := range ids {
				if err := ctx.Err(); err != nil {
					return err
				}
				ok, err := revoker.Revoke(ctx, id, cutoff)
				if err != nil {
					log.Printf("[sweep] revoke user %s: %v", id, err)
					failed++
					continue
				}
				if !ok {
					skipped++
					continue
				}
				revoked++
			}

			if failed > 0 || len(ids) < batch {
				break
			}
		}

		log.Printf("[sweep] Revoked %d expired entitlements (%d renewed, %d failed)", revoked, skipped, failed)
		if failed > 0 {
			return fmt.Errorf("expiry sweep: %d revocations failed", failed)
		}
		return nil
	}
}

func cleanupHandler(cleaner JobCleaner) Handler {
	return func(ctx context.Context, job *models.Job) error {
		days := job.IntPayload("retention_days", defaultRetentionDays)
		if days <= 0 {
			days = defaultRetentionDays
		}
		n, err := cleaner.CleanupOldJobs(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return fmt.Errorf("cleanup old jobs: %w", err)
		}
		log.Printf("[cleanup] Removed %d finished jobs older than %d days", n, days)
		return nil
	}
}

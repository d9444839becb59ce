package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

// JobReader reads queue state.
type JobReader interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// JobEnqueuer accepts new jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// CreateJobRequest represents a request to create a new job
type CreateJobRequest struct {
	JobType      string         `json:"job_type" validate:"required"`
	Payload      map[string]any `json:"payload"`
	Priority     string         `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	MaxAttempts  int            `json:"max_attempts,omitempty" validate:"gte=0,lte=10"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
}

// JobHandler exposes the maintenance job queue to the administrator.
type JobHandler struct {
	Store    JobReader
	Enqueuer JobEnqueuer
	// JobTypes lists the types that may be enqueued by hand.
	JobTypes []string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(reader JobReader, enqueuer JobEnqueuer, jobTypes []string) *JobHandler {
	return &JobHandler{Store: reader, Enqueuer: enqueuer, JobTypes: jobTypes}
}

// RegisterRoutes registers job handlers. Callers wrap router with the
// authentication and admin checks.
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/admin/jobs", h.CreateJob())
	router.Get("/api/admin/jobs/stats", h.GetJobStats())
	router.Get("/api/admin/jobs/{id}", h.GetJob())
}

// CreateJob enqueues a maintenance job, e.g. an immediate expiry sweep.
func (h *JobHandler) CreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, payments.CodeInvalidArgument, err.Error())
			return
		}
		if !slices.Contains(h.JobTypes, req.JobType) {
			writeError(w, payments.CodeInvalidArgument, "unknown job_type")
			return
		}

		priority := models.JobPriorityNormal
		if req.Priority != "" {
			priority = models.JobPriority(req.Priority)
		}
		maxAttempts := 3
		if req.MaxAttempts > 0 {
			maxAttempts = req.MaxAttempts
		}

		job := &models.Job{
			JobType:      req.JobType,
			Payload:      req.Payload,
			Priority:     priority,
			MaxAttempts:  maxAttempts,
			ScheduledFor: req.ScheduledFor,
			Metadata:     models.JSONB{"source": "admin"},
		}

		if err := h.Enqueuer.Enqueue(r.Context(), job); err != nil {
			log.Printf("CreateJob: failed to enqueue job: %v", err)
			writeError(w, payments.CodeInternal, "failed to create job")
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      job.ID,
			"status":  job.Status,
			"message": "Job created successfully",
		})
	}
}

// GetJob retrieves a job by ID
func (h *JobHandler) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, payments.CodeInvalidArgument, "invalid job ID")
			return
		}

		job, err := h.Store.GetByID(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				writeError(w, payments.CodeNotFound, "job not found")
				return
			}
			log.Printf("GetJob: failed to get job %d: %v", jobID, err)
			writeError(w, payments.CodeInternal, "failed to retrieve job")
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

// GetJobStats returns statistics about the job queue
func (h *JobHandler) GetJobStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.Store.GetStats(r.Context())
		if err != nil {
			log.Printf("GetJobStats: failed to get stats: %v", err)
			writeError(w, payments.CodeInternal, "failed to retrieve job statistics")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

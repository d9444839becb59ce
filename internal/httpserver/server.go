package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PortNumber53/lexgo-payments/backend/internal/claims"
	"github.com/PortNumber53/lexgo-payments/backend/internal/config"
	"github.com/PortNumber53/lexgo-payments/backend/internal/handlers"
	requesttracking "github.com/PortNumber53/lexgo-payments/backend/internal/middleware"
	"github.com/PortNumber53/lexgo-payments/backend/internal/worker"
)

// Deps are the collaborators the router exposes. Optional parts left nil
// drop their routes.
type Deps struct {
	Payments handlers.PaymentService
	Issuer   *claims.Issuer
	Claims   handlers.ClaimStore
	Admin    handlers.ClaimAdmin
	Jobs     handlers.JobReader
	Worker   *worker.Worker
	// Scheduler runs with the worker when both are set.
	Scheduler *worker.Scheduler
	Observer  requesttracking.RequestObserver
	Gatherer  prometheus.Gatherer
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	scheduler  *worker.Scheduler
	bgCtx      context.Context
	cancelBg   context.CancelFunc
}

// New constructs an HTTP server using the provided configuration and collaborators.
func New(cfg config.Config, d Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requesttracking.TraceID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(requesttracking.NewRequestTracker(d.Observer).Middleware())

	router.Get("/healthz", handlers.Health)
	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	if d.Payments != nil {
		handlers.NewPaymentHandler(d.Payments).RegisterRoutes(router)
	}

	if d.Issuer != nil && d.Claims != nil && d.Admin != nil {
		handlers.NewClaimsHandler(d.Issuer, d.Claims, d.Admin, cfg.AdminEmail).RegisterRoutes(router)

		router.Group(func(r chi.Router) {
			r.Use(d.Issuer.Authenticate)
			r.Get("/api/me/entitlement", handlers.CurrentEntitlement(d.Claims))
		})

		if d.Jobs != nil && d.Worker != nil {
			router.Group(func(r chi.Router) {
				r.Use(d.Issuer.Authenticate, handlers.RequireAdmin(cfg.AdminEmail))
				handlers.NewJobHandler(d.Jobs, d.Worker, d.Worker.JobTypes()).RegisterRoutes(r)
			})
		}
	} else {
		log.Printf("[server] JWT_SECRET not set; authenticated routes disabled")
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	return &Server{httpServer: srv, worker: d.Worker, scheduler: d.Scheduler, bgCtx: bgCtx, cancelBg: cancel}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start() error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(s.bgCtx)
		if s.scheduler != nil {
			go s.scheduler.Run(s.bgCtx)
		}
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if err := s.worker.Stop(ctx); err != nil {
			log.Printf("[server] Worker shutdown error: %v", err)
		}
	}
	s.cancelBg()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

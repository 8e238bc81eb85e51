package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/shiftkpi/internal/logging"
	"github.com/savegress/shiftkpi/internal/metrics"
	"github.com/savegress/shiftkpi/internal/service"
)

// Options configures the API server
type Options struct {
	AllowedOrigins []string
	JWTSecret      string
	JWTIssuer      string
	// Clock supplies the evaluation instant when a request omits now.
	Clock func() time.Time
}

// Server represents the API server
type Server struct {
	router  chi.Router
	service *service.Service
	metrics *metrics.Metrics
	logger  logging.Logger
	opts    Options
}

// NewServer creates a new API server
func NewServer(svc *service.Service, m *metrics.Metrics, logger logging.Logger, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		router:  chi.NewRouter(),
		service: svc,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(Instrument(s.metrics))
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: allowCredentials(s.opts.AllowedOrigins),
		MaxAge:           300,
	}))

	s.router.Get("/health", s.healthCheck)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// API v1
	s.router.Route("/api/v1", func(r chi.Router) {
		if s.opts.JWTSecret != "" {
			r.Use(AuthMiddleware(s.opts.JWTSecret, s.opts.JWTIssuer))
		}

		// Stateless computations
		r.Route("/compute", func(r chi.Router) {
			r.Post("/shift", s.computeShift)
			r.Post("/window", s.computeWindow)
		})

		// Store-backed reports
		r.Get("/shifts/{id}/report", s.shiftReport)
		r.Get("/reports/window", s.windowReport)

		// Inputs
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.listAssets)
			r.Post("/", s.saveAssets)
		})
		r.Post("/shifts", s.saveShifts)
		r.Post("/events", s.saveEvents)

		// Repairs
		r.Route("/repairs", func(r chi.Router) {
			r.Get("/", s.listCorrections)
			r.Post("/proposals", s.proposeRepairs)
			r.Post("/apply", s.applyRepairs)
		})
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// allowCredentials is false when any origin is allowed
func allowCredentials(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, o := range origins {
		if o == "*" {
			return false
		}
	}
	return true
}

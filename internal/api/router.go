package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"leakwatch/internal/config"
	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

// Store is the part of the event store the API reads, plus acknowledgement.
type Store interface {
	GetEvent(id int64) (*model.FileEvent, error)
	GetAllEvents() ([]*model.FileEvent, error)
	GetEventsByDateRange(start, end time.Time) ([]*model.FileEvent, error)
	GetSuspiciousEvents() ([]*model.FileEvent, error)
	GetAlert(id int64) (*model.Alert, error)
	GetAllAlerts() ([]*model.Alert, error)
	AcknowledgeAlert(id int64) error
	FindFingerprintsByHash(hash string) ([]*model.Fingerprint, error)
}

// Server serves the query API over a Store.
type Server struct {
	store      Store
	logger     monitor.Logger
	clock      monitor.Clock
	trustProxy bool
}

func NewServer(store Store, logger monitor.Logger, clock monitor.Clock) *Server {
	if logger == nil {
		logger = monitor.NewNopLogger()
	}
	if clock == nil {
		clock = monitor.RealClock{}
	}
	return &Server{store: store, logger: logger, clock: clock}
}

// Router builds the route table, rate limited per client as cfg describes.
func (s *Server) Router(cfg config.APIConfig) *mux.Router {
	s.trustProxy = cfg.TrustProxy

	router := mux.NewRouter()
	router.Use(securityHeaders)
	router.Use(s.logRequests)
	if cfg.RateLimit > 0 {
		router.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1)), cfg.TrustProxy))
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods("GET")

	api.HandleFunc("/events", s.listEvents).Methods("GET")
	api.HandleFunc("/events/{id:[0-9]+}", s.getEvent).Methods("GET")

	api.HandleFunc("/alerts", s.listAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id:[0-9]+}", s.getAlert).Methods("GET")
	api.HandleFunc("/alerts/{id:[0-9]+}/ack", s.ackAlert).Methods("POST")

	api.HandleFunc("/fingerprints", s.findFingerprints).Methods("GET")
	api.HandleFunc("/stats", s.stats).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SendErrorResponse(w, NewAPIError("no such endpoint", http.StatusNotFound))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SendErrorResponse(w, NewAPIError("method not allowed", http.StatusMethodNotAllowed))
	})
	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request", "method", r.Method, "path", r.URL.Path, "client", clientIP(r, s.trustProxy), "took", s.clock.Now().Sub(start))
	})
}

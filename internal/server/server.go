package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/analytics"
	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/middleware"
)

// Config holds the HTTP surface settings.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// RequestsPerMinute throttles the REST API per client IP. Zero applies
	// the default of 300.
	RequestsPerMinute int
}

const defaultRequestsPerMinute = 300

// Server exposes run results and live classifications over HTTP: a REST API
// backed by the result store, Prometheus metrics, and a websocket feed of
// records as the engine emits them. It never touches the engine itself.
type Server struct {
	config    Config
	store     db.Store
	log       *zap.Logger
	hub       *Hub
	summaries *analytics.Engine

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewServer(cfg Config, store db.Store, log *zap.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server requires a result store")
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		store:     store,
		log:       log,
		summaries: analytics.NewEngine(store),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.hub = newHub(ctx, cfg.AllowedOrigins, log)
	return s, nil
}

// Hub returns the live-record feed so the engine's sink can push into it.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins serving. It returns once the listener goroutine is running.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run()
	}()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// handler builds the full route tree.
func (s *Server) handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.handleWebSocket)

	perMin := s.config.RequestsPerMinute
	if perMin <= 0 {
		perMin = defaultRequestsPerMinute
	}
	limiter := middleware.NewRateLimiter(perMin)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(limiter.Middleware)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/classifications", s.handleListClassifications).Methods(http.MethodGet)
	api.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	s.log.Info("http server stopped")
	return nil
}

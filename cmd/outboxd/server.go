package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"outbox/internal/constants"
	"outbox/internal/errors"
	"outbox/internal/metrics"
	"outbox/internal/middleware"
	"outbox/internal/models"
	"outbox/internal/network"
	"outbox/internal/queue"
	"outbox/internal/tracing"
	"outbox/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxRequestBodyBytes = 1 << 20 // enqueue payloads carry metadata, not file content
	rateLimitPerMinute  = 300
)

// processorAPI is the slice of the processor the HTTP layer needs.
type processorAPI interface {
	Wake()
	SyncStatus() models.SyncStatus
}

// Server exposes the queue to the local client over HTTP.
type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	cfg       *models.Config
	store     *queue.Store
	processor processorAPI
	monitor   *network.Monitor
	server    *http.Server
	limiter   *RateLimiter
}

func NewServer(cfg *models.Config, store *queue.Store, processor processorAPI, monitor *network.Monitor, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		cfg:       cfg,
		store:     store,
		processor: processor,
		monitor:   monitor,
		limiter:   NewRateLimiter(rateLimitPerMinute, time.Minute),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Observability(s.logger))
	api.Use(s.limiter.middleware)

	api.HandleFunc("/queue/messages", s.handleEnqueue()).Methods(http.MethodPost)
	api.HandleFunc("/queue/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/queue/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/queue/messages/{id}", s.handleRemoveMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/queue/messages/{id}/retry", s.handleRetryMessage()).Methods(http.MethodPost)
	api.HandleFunc("/queue/retry-all", s.handleRetryAll()).Methods(http.MethodPost)
	api.HandleFunc("/queue/sent", s.handleClearSent()).Methods(http.MethodDelete)
	api.HandleFunc("/queue", s.handleClearAll()).Methods(http.MethodDelete)
	api.HandleFunc("/queue/stats", s.handleStats()).Methods(http.MethodGet)
	api.HandleFunc("/queue/sync", s.handleSyncStatus()).Methods(http.MethodGet)
	api.HandleFunc("/queue/pause", s.handlePause()).Methods(http.MethodPost)
	api.HandleFunc("/queue/resume", s.handleResume()).Methods(http.MethodPost)
	api.HandleFunc("/network", s.handleNetworkStatus()).Methods(http.MethodGet)
	api.HandleFunc("/app/foreground", s.handleForeground()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", s.cfg.Server.Port).Info("Starting API server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"network": s.monitor.CurrentStatus(),
			"queue":   s.store.Stats(),
		})
	}
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, maxRequestBodyBytes); err != nil {
			writeError(w, r, err)
			return
		}

		var opts models.EnqueueOptions
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&opts); err != nil {
			writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "malformed request body").
				WithUserMessage("Request body is not valid JSON"))
			return
		}

		if err := validation.ValidateEnqueue(opts, s.cfg.Queue.MaxAttachmentSizeMB); err != nil {
			writeError(w, r, err)
			return
		}

		msg := s.store.Enqueue(opts)
		metrics.IncrementCounter(metrics.MetricMessagesEnqueued, nil)
		s.processor.Wake()

		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msgs []*models.QueuedMessage
		if channelID := r.URL.Query().Get("channelId"); channelID != "" {
			msgs = s.store.ChannelMessages(channelID)
		} else {
			msgs = s.store.Messages()
		}
		if msgs == nil {
			msgs = []*models.QueuedMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		msg, ok := s.store.Message(id)
		if !ok {
			writeError(w, r, errors.NewNotFoundError("message", id))
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleRemoveMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !s.store.Remove(id) {
			writeError(w, r, errors.NewNotFoundError("message", id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.store.RetryMessage(id); err != nil {
			if _, ok := s.store.Message(id); !ok {
				writeError(w, r, errors.NewNotFoundError("message", id))
				return
			}
			writeError(w, r, errors.NewConflictError("message", "only failed messages can be retried"))
			return
		}
		s.processor.Wake()

		msg, _ := s.store.Message(id)
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleRetryAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := s.store.RetryAllFailed()
		if count > 0 {
			s.processor.Wake()
		}
		writeJSON(w, http.StatusOK, map[string]int{"retried": count})
	}
}

func (s *Server) handleClearSent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"removed": s.store.ClearSent()})
	}
}

func (s *Server) handleClearAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.store.ClearAll()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.store.Stats())
	}
}

func (s *Server) handleSyncStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.processor.SyncStatus())
	}
}

func (s *Server) handlePause() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.store.Pause()
		writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
	}
}

func (s *Server) handleResume() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.store.Resume()
		s.processor.Wake()
		writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
	}
}

func (s *Server) handleNetworkStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.monitor.CurrentStatus())
	}
}

// handleForeground is the app-resume hook: it probes connectivity right away
// and kicks the processor rather than waiting out the poll intervals.
func (s *Server) handleForeground() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probeCtx, cancel := context.WithTimeout(r.Context(), time.Duration(constants.DefaultProbeTimeoutSec)*time.Second)
		defer cancel()

		status := s.monitor.Refresh(probeCtx)
		s.processor.Wake()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"network": status,
			"queue":   s.store.Stats(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errors.ToHTTPResponse(err, tracing.GetRequestID(r.Context()))
	writeJSON(w, errors.HTTPStatusCode(err), resp)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

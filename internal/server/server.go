// Package server is the portal HTTP API: the remote collection
// endpoints for notifications and comments, the directory endpoints
// that generate notifications, and the realtime websocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/store"
)

// Server wires a Store and a Broker to HTTP.
type Server struct {
	store    store.Store
	tokens   *realtime.Tokens
	realtime *realtime.Server
	log      zerolog.Logger
}

// New creates the API server. The store should already publish to
// broker so realtime subscribers see every insert.
func New(s store.Store, broker *realtime.Broker, tokens *realtime.Tokens, allowedOrigins []string, log zerolog.Logger) *Server {
	return &Server{
		store:    s,
		tokens:   tokens,
		realtime: realtime.NewServer(broker, tokens, allowedOrigins, log),
		log:      log.With().Str("component", "server").Logger(),
	}
}

// Router returns the HTTP handler for every endpoint.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle(backend.RealtimePath, s.realtime)

	api := router.PathPrefix(backend.APIPrefix).Subrouter()
	api.Use(s.logRequests, s.authenticate)

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications", s.handleCreateNotification).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}", s.handleUpdateNotification).Methods(http.MethodPatch)

	api.HandleFunc("/comments", s.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/comments", s.handleCreateComment).Methods(http.MethodPost)
	api.HandleFunc("/comments/{id}", s.handleUpdateComment).Methods(http.MethodPatch)

	api.HandleFunc("/employees", s.handleListEmployees).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/assign", s.handleAssignTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/status", s.handleUpdateTaskStatus).Methods(http.MethodPost)

	return router
}

// ListenAndServe serves Router on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("portal server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

type ctxKey struct{}

// EmployeeID returns the authenticated employee of a request.
func EmployeeID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		employeeID, err := s.tokens.Verify(realtime.BearerToken(r))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or missing access token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, employeeID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, backend.APIError{Message: message})
}

// respondStoreError maps a store error to a status, logging anything
// unexpected.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("store operation failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

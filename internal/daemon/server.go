// Package daemon serves the local HTTP API the browser extension and the
// CLI talk to.
package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/logging"
	"github.com/runnerr0/pagetrail/internal/pusher"
	"github.com/runnerr0/pagetrail/internal/storage"
	"github.com/runnerr0/pagetrail/internal/tracker"
)

const defaultMaxRequestSize = 1 << 20

// Tracker accepts browser events and reports its state.
type Tracker interface {
	Submit(ctx context.Context, ev tracker.Event) error
	Snapshot(ctx context.Context) (tracker.Snapshot, error)
}

// Syncer runs one sync on demand.
type Syncer interface {
	SyncOnce(ctx context.Context) (pusher.Result, error)
}

// PageReader loads the aggregate.
type PageReader interface {
	LoadPages(ctx context.Context) ([]storage.Domain, error)
}

// Options configures the HTTP surface.
type Options struct {
	Version        string
	AuthToken      string
	MaxRequestSize int64
	AllowedOrigins []string
}

// Server routes HTTP requests to the tracker, the aggregate and the pusher.
type Server struct {
	tracker Tracker
	pages   PageReader
	syncer  Syncer
	opts    Options
	logger  *slog.Logger
	started time.Time
}

// New creates a Server. syncer may be nil when sync is not configured.
func New(t Tracker, pages PageReader, syncer Syncer, opts Options, logger *slog.Logger) *Server {
	if opts.MaxRequestSize <= 0 {
		opts.MaxRequestSize = defaultMaxRequestSize
	}
	return &Server{
		tracker: t,
		pages:   pages,
		syncer:  syncer,
		opts:    opts,
		logger:  logging.OrDiscard(logger),
		started: time.Now(),
	}
}

// Handler returns the routed handler wrapped with CORS and auth.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/events", s.postEvent).Methods("POST")
	router.HandleFunc("/api/domains", s.getDomains).Methods("GET")
	router.HandleFunc("/api/pages", s.getPages).Methods("GET")
	router.HandleFunc("/api/sync", s.postSync).Methods("POST")
	router.HandleFunc("/status", s.getStatus).Methods("GET")

	// Health/ping endpoints for the extension
	router.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	}).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")

	router.Use(s.authMiddleware)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"chrome-extension://*", "moz-extension://*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
	return c.Handler(router)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken == "" || r.URL.Path == "/health" || r.URL.Path == "/api/ping" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestSize)

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.tracker.Submit(r.Context(), ev); err != nil {
		s.logger.Warn("event rejected", "type", req.Type, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": tracker.Name(ev)})
}

func (s *Server) getDomains(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	domains, err := s.pages.LoadPages(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.TopDomains(domains, limit))
}

func (s *Server) getPages(w http.ResponseWriter, r *http.Request) {
	domains, err := s.pages.LoadPages(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}

	q := r.URL.Query()
	if q.Get("unsynced") == "true" {
		domains = aggregate.Unsynced(domains)
	}
	if d := q.Get("domain"); d != "" {
		filtered := []storage.Domain{}
		for _, entry := range domains {
			if entry.Domain == d {
				filtered = append(filtered, entry)
			}
		}
		domains = filtered
	}
	writeJSON(w, http.StatusOK, domains)
}

type syncResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Pushed     int    `json:"pushed"`
	Marked     int    `json:"marked"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	res, err := s.syncer.SyncOnce(r.Context())
	out := syncResponse{
		ID:         res.ID,
		Status:     res.Status,
		Pushed:     res.Pushed,
		Marked:     res.Marked,
		HTTPStatus: res.HTTPStatus,
	}
	if err != nil {
		out.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type statusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Slot          string  `json:"slot"`
	ActiveURL     string  `json:"activeUrl,omitempty"`
	Unfocused     bool    `json:"unfocused"`
	Pending       int     `json:"pending"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tracker.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       s.opts.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Slot:          snap.State.Status.String(),
		ActiveURL:     snap.State.Active.URL,
		Unfocused:     snap.State.Unfocused,
		Pending:       snap.Pending,
	})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	s.logger.Error("storage read failed", "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

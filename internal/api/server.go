// Package api is the HTTP surface over the correction pipeline: the
// participant-facing correction endpoint, the quality aggregate endpoint,
// and a debug route chart, all mounted on one *http.ServeMux.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/racecore/internal/httputil"
	"github.com/banshee-data/racecore/internal/pipeline"
	"github.com/banshee-data/racecore/internal/store"
)

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

// Server wires the correction pipeline and its backing store to HTTP
// handlers.
type Server struct {
	Pipeline *pipeline.Pipeline
	Store    *store.Store

	// mux holds the HTTP handlers; storing it here ensures callers that
	// obtain the mux via ServeMux() and register additional admin routes
	// will have those routes preserved when Start uses the mux to run the
	// server.
	mux *http.ServeMux
}

// NewServer builds a Server over an already-running pipeline and store.
func NewServer(p *pipeline.Pipeline, s *store.Store) *Server {
	return &Server{Pipeline: p, Store: s}
}

// ServeMux returns the Server's stored *http.ServeMux, creating and
// registering routes on it on first call. Callers are free to call
// ServeMux and register additional admin/diagnostic routes before invoking
// Start; those routes are preserved.
func (s *Server) ServeMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/correct", s.handleCorrect)
	s.mux.HandleFunc("/api/eventDetail/", s.handleEventDetailRoutes)
	s.mux.HandleFunc("/debug/route/", s.handleRouteChartRoute)
	return s.mux
}

// handleRouteChartRoute parses /debug/route/{eventId}/{eventDetailId}/chart.
// The /debug prefix is shared with store.AttachAdminRoutes, which mounts on
// the same mux.
func (s *Server) handleRouteChartRoute(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/debug/route/")
	parts := strings.Split(strings.Trim(suffix, "/"), "/")
	if len(parts) != 3 || parts[2] != "chart" {
		writeJSONError(w, http.StatusNotFound, "unknown debug route")
		return
	}
	eventID, err1 := strconv.ParseInt(parts[0], 10, 64)
	eventDetailID, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid eventId or eventDetailId")
		return
	}
	s.handleRouteChart(w, r, eventID, eventDetailID)
}

// handleEventDetailRoutes dispatches the /api/eventDetail/{id}/{sub} family
// by hand rather than pulling in a router dependency.
func (s *Server) handleEventDetailRoutes(w http.ResponseWriter, r *http.Request) {
	suffix := r.URL.Path[len("/api/eventDetail/"):]
	var idPart, sub string
	for i := 0; i < len(suffix); i++ {
		if suffix[i] == '/' {
			idPart, sub = suffix[:i], suffix[i+1:]
			break
		}
	}
	if sub == "" {
		idPart = suffix
	}

	eventDetailID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid eventDetailId")
		return
	}

	switch sub {
	case "quality":
		s.handleQuality(w, r, eventDetailID)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown eventDetail route")
	}
}

// AttachAdminRoutes mounts the store's read-only diagnostic surface
// (tailsql browser, table stats) on the same mux the correction API is
// served from.
func (s *Server) AttachAdminRoutes() {
	s.Store.AttachAdminRoutes(s.ServeMux())
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration for every
// request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		portPrefix := ""
		if host := r.Host; host != "" {
			if _, p, err := net.SplitHostPort(host); err == nil {
				portPrefix = ":" + p
			}
		}
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, portPrefix+r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context, listen string) error {
	mux := s.ServeMux()

	server := &http.Server{
		Addr:    listen,
		Handler: LoggingMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if closeErr := server.Close(); closeErr != nil {
				return fmt.Errorf("force close: %w", closeErr)
			}
		}
		return nil
	case err := <-errCh:
		return err
	}
}
